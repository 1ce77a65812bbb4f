package internal

// State is the node-local state an update queue folds over. Merges are
// shallow: top-level keys of a payload overlay the previous state.
type State map[string]any

// UpdateTag discriminates how an update's payload combines with the previous
// state during the fold. All tags run through the same fold step.
type UpdateTag int

const (
	UpdateState UpdateTag = iota
	ReplaceState
	ForceUpdate
	CaptureUpdate
)

// Update is one requested state mutation. Payload is either a State literal
// or a func(State) State evaluated lazily at fold time. Updates born in the
// same external event share an event time.
type Update struct {
	EventTime int64
	Lane      Lanes
	Tag       UpdateTag

	Payload  any
	Callback func()

	next *Update
}

// sharedQueue is the pending ring shared between a fiber and its alternate.
// pending points at the most recently appended update (the tail); the ring
// invariant is tail.next == head, so pending.next is the oldest entry.
type sharedQueue struct {
	pending *Update
}

// UpdateQueue holds a fiber's not-yet-applied updates. The base list
// (firstBaseUpdate..lastBaseUpdate) is linear, not circular: updates already
// drained from the ring but still due to be replayed against baseState.
type UpdateQueue struct {
	baseState       State
	firstBaseUpdate *Update
	lastBaseUpdate  *Update

	shared *sharedQueue

	// effects collects processed updates carrying a callback, flushed
	// after the tree is published.
	effects []*Update

	hasForceUpdate bool
}

func InitializeUpdateQueue(f *Fiber) {
	f.UpdateQueue = &UpdateQueue{
		baseState: f.MemoizedState,
		shared:    &sharedQueue{},
	}
}

// CloneUpdateQueue gives the work-in-progress fiber its own queue struct. The
// shared ring stays shared with current so that updates enqueued mid-render
// land in both generations.
func CloneUpdateQueue(current, wip *Fiber) {
	cq := current.UpdateQueue
	if wip.UpdateQueue != cq || cq == nil {
		return
	}

	wip.UpdateQueue = &UpdateQueue{
		baseState:       cq.baseState,
		firstBaseUpdate: cq.firstBaseUpdate,
		lastBaseUpdate:  cq.lastBaseUpdate,
		shared:          cq.shared,
	}
}

func CreateUpdate(eventTime int64, lane Lanes) *Update {
	return &Update{
		EventTime: eventTime,
		Lane:      lane,
		Tag:       UpdateState,
	}
}

// EnqueueUpdate appends onto the shared pending ring in O(1): insert after
// the current tail, advance the tail pointer. A fiber without a queue (e.g.
// already unmounted) swallows the update silently.
func EnqueueUpdate(f *Fiber, u *Update) {
	q := f.UpdateQueue
	if q == nil {
		return
	}

	shared := q.shared
	if pending := shared.pending; pending == nil {
		u.next = u // ring of one
	} else {
		u.next = pending.next
		pending.next = u
	}
	shared.pending = u
}

// EnqueueCapturedUpdate appends an error-capture update directly onto the
// work-in-progress base list, bypassing the shared ring.
func EnqueueCapturedUpdate(wip *Fiber, u *Update) {
	q := wip.UpdateQueue
	if q == nil {
		return
	}

	if q.lastBaseUpdate == nil {
		q.firstBaseUpdate = u
	} else {
		q.lastBaseUpdate.next = u
	}
	q.lastBaseUpdate = u
}

func cloneUpdate(u *Update, lane Lanes) *Update {
	return &Update{
		EventTime: u.EventTime,
		Lane:      lane,
		Tag:       u.Tag,
		Payload:   u.Payload,
		Callback:  u.Callback,
	}
}

func cloneState(s State) State {
	next := make(State, len(s))
	for k, v := range s {
		next[k] = v
	}
	return next
}

// ProcessUpdateQueue drains the pending ring into the base list and replays
// the base list against baseState, in insertion order regardless of lane.
//
// Updates whose lane is not part of renderLanes are not applied this pass:
// they stay on the new base list (with baseState frozen at the state before
// the first skipped update) so a later pass that includes their lane applies
// them exactly once and in original order. Every update after the first skip
// is also kept on the base list, with NoLanes so the replay cannot skip it
// again, preserving relative order across passes.
//
// The fold runs on a scratch accumulator; baseState and the queue pointers
// are written back only once the whole fold has succeeded, so a panicking
// payload cannot leave the queue half-applied.
func ProcessUpdateQueue(wip *Fiber, renderLanes Lanes) {
	q := wip.UpdateQueue
	if q == nil {
		return
	}

	q.hasForceUpdate = false

	firstBaseUpdate := q.firstBaseUpdate
	lastBaseUpdate := q.lastBaseUpdate

	if pending := q.shared.pending; pending != nil {
		q.shared.pending = nil

		// Cut the ring open into a finite list.
		lastPending := pending
		firstPending := lastPending.next
		lastPending.next = nil

		if lastBaseUpdate == nil {
			firstBaseUpdate = firstPending
		} else {
			lastBaseUpdate.next = firstPending
		}
		lastBaseUpdate = lastPending

		// Splice the same batch onto the twin's base list if it has
		// not absorbed it yet. This is what makes it safe to throw an
		// interrupted work-in-progress tree away: the committed twin
		// keeps the pending updates.
		if current := wip.Alternate; current != nil {
			cq := current.UpdateQueue
			if cq != nil && cq.lastBaseUpdate != lastBaseUpdate {
				var cloneFirst, cloneLast *Update
				for u := firstPending; u != nil; u = u.next {
					clone := cloneUpdate(u, u.Lane)
					if cloneLast == nil {
						cloneFirst = clone
					} else {
						cloneLast.next = clone
					}
					cloneLast = clone
				}
				if cq.lastBaseUpdate == nil {
					cq.firstBaseUpdate = cloneFirst
				} else {
					cq.lastBaseUpdate.next = cloneFirst
				}
				cq.lastBaseUpdate = cloneLast
			}
		}
	}

	if firstBaseUpdate == nil {
		q.firstBaseUpdate = nil
		q.lastBaseUpdate = nil
		return
	}

	// The splice above is complete at this point. If a payload panics
	// below, expose the spliced list before unwinding so no update is
	// lost; baseState has not been touched. Callbacks and the force flag
	// collected by the aborted fold are rolled back too, so a retried
	// pass re-collects them exactly once.
	done := false
	effectsMark := len(q.effects)
	defer func() {
		if !done {
			q.firstBaseUpdate = firstBaseUpdate
			q.lastBaseUpdate = lastBaseUpdate
			q.effects = q.effects[:effectsMark]
			q.hasForceUpdate = false
		}
	}()

	newState := q.baseState
	newLanes := NoLanes

	var newBaseState State
	var newFirstBaseUpdate, newLastBaseUpdate *Update

	for update := firstBaseUpdate; update != nil; update = update.next {
		if !IsSubsetOfLanes(renderLanes, update.Lane) {
			// Deferred: keep it for a later pass that includes its
			// lane, and freeze the base state at the first skip.
			clone := cloneUpdate(update, update.Lane)
			if newLastBaseUpdate == nil {
				newFirstBaseUpdate = clone
				newBaseState = newState
			} else {
				newLastBaseUpdate.next = clone
			}
			newLastBaseUpdate = clone

			newLanes = MergeLanes(newLanes, update.Lane)
			continue
		}

		if newLastBaseUpdate != nil {
			// Applied this pass, but an earlier skip means it must
			// replay after the deferred updates next pass. NoLanes
			// guarantees it is never skipped on replay.
			clone := cloneUpdate(update, NoLanes)
			newLastBaseUpdate.next = clone
			newLastBaseUpdate = clone
		}

		newState = getStateFromUpdate(wip, q, update, newState)
		if update.Callback != nil {
			q.effects = append(q.effects, update)
		}
	}

	if newLastBaseUpdate == nil {
		newBaseState = newState
	}

	q.baseState = newBaseState
	q.firstBaseUpdate = newFirstBaseUpdate
	q.lastBaseUpdate = newLastBaseUpdate
	done = true

	wip.Lanes = newLanes
	wip.MemoizedState = newState
}

// getStateFromUpdate folds one update into the accumulated state, returning a
// fresh value; prevState is never mutated.
func getStateFromUpdate(wip *Fiber, q *UpdateQueue, update *Update, prevState State) State {
	switch update.Tag {
	case ReplaceState:
		return cloneState(resolvePayload(update.Payload, prevState))

	case CaptureUpdate:
		wip.Flags = wip.Flags&^ShouldCapture | DidCapture
		fallthrough

	case UpdateState:
		partial := resolvePayload(update.Payload, prevState)
		if partial == nil {
			return prevState
		}
		next := cloneState(prevState)
		for k, v := range partial {
			next[k] = v
		}
		return next

	case ForceUpdate:
		q.hasForceUpdate = true
		return prevState

	default:
		return prevState
	}
}

func resolvePayload(payload any, prevState State) State {
	switch p := payload.(type) {
	case func(State) State:
		return p(prevState)
	case State:
		return p
	case nil:
		return nil
	default:
		return nil
	}
}

// CheckHasForceUpdateAfterProcessing reports whether the last processed batch
// contained a force-rerun update.
func CheckHasForceUpdateAfterProcessing(f *Fiber) bool {
	q := f.UpdateQueue
	return q != nil && q.hasForceUpdate
}

// CommitUpdateQueueCallbacks fires and clears the completion callbacks of the
// updates applied during the finished render, in application order.
func CommitUpdateQueueCallbacks(f *Fiber) {
	q := f.UpdateQueue
	if q == nil || len(q.effects) == 0 {
		return
	}

	effects := q.effects
	q.effects = nil

	for _, u := range effects {
		if u.Callback != nil {
			u.Callback()
		}
	}
}
