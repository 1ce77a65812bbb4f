package internal

// ExecutionContext tracks where in the dispatch cycle the engine currently
// is. Batched context defers the sync flush to the end of the outermost
// batch; render and commit contexts pin the event time.
type ExecutionContext uint8

const (
	NoContext      ExecutionContext = 0
	BatchedContext ExecutionContext = 1 << iota
	RenderContext
	CommitContext
)

type rootExitStatus int

const (
	rootInProgress rootExitStatus = iota
	rootCompleted
)

// Engine owns all scheduler state for one root set: the single pair of
// work-in-progress pointers, the sync task queue, and the collaborator
// hooks. Nothing in this package is ambient; independent engines never
// interfere.
type Engine struct {
	runner     TaskRunner
	reconciler Reconciler
	host       HostConfig

	// eventPriority infers an update lane from the triggering input
	// context when no explicit priority is active.
	eventPriority func() Lanes

	// microtask queues fn to run before the next yield point. The default
	// keeps an internal queue drained when the engine returns to idle.
	microtask func(fn func())

	executionContext ExecutionContext

	workInProgressRoot            *FiberRoot
	workInProgress                *Fiber
	workInProgressRootRenderLanes Lanes

	currentEventTime   int64
	nextTransitionLane Lanes
	transitionLane     Lanes

	syncQueue      []func()
	isFlushingSync bool

	microtasks        []func()
	drainingMicrotask bool
}

// Option configures an Engine's collaborators.
type Option func(*Engine)

func WithTaskRunner(r TaskRunner) Option { return func(e *Engine) { e.runner = r } }
func WithReconciler(r Reconciler) Option { return func(e *Engine) { e.reconciler = r } }
func WithHost(h HostConfig) Option       { return func(e *Engine) { e.host = h } }

func WithEventPriority(fn func() Lanes) Option {
	return func(e *Engine) { e.eventPriority = fn }
}

func WithMicrotask(fn func(func())) Option { return func(e *Engine) { e.microtask = fn } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		currentEventTime:   noTimestamp,
		nextTransitionLane: firstTransitionLane,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.runner == nil {
		e.runner = NewStepRunner()
	}
	if e.reconciler == nil {
		e.reconciler = NewCloneReconciler()
	}
	if e.eventPriority == nil {
		e.eventPriority = func() Lanes { return DefaultEventPriority }
	}
	if e.microtask == nil {
		e.microtask = func(fn func()) { e.microtasks = append(e.microtasks, fn) }
	}

	return e
}

func (e *Engine) Runner() TaskRunner { return e.runner }

// RequestEventTime returns the timestamp for a new update. Updates born in
// the same external event share one timestamp: the first request outside of
// render/commit caches the clock until the engine goes idle again.
func (e *Engine) RequestEventTime() int64 {
	if e.executionContext&(RenderContext|CommitContext) != NoContext {
		return e.runner.Now()
	}

	if e.currentEventTime != noTimestamp {
		return e.currentEventTime
	}

	e.currentEventTime = e.runner.Now()
	return e.currentEventTime
}

// RequestUpdateLane picks the lane for a new update: the active transition
// lane inside RunTransition, the event-priority collaborator's lane
// otherwise.
func (e *Engine) RequestUpdateLane(f *Fiber) Lanes {
	if e.transitionLane != NoLanes {
		return e.transitionLane
	}
	return e.eventPriority()
}

// ClaimNextTransitionLane hands out transition lanes round-robin over the
// transition band, so back-to-back transitions can be worked on and finished
// independently.
func (e *Engine) ClaimNextTransitionLane() Lanes {
	lane := e.nextTransitionLane
	e.nextTransitionLane <<= 1
	if e.nextTransitionLane&TransitionLanes == NoLanes {
		e.nextTransitionLane = firstTransitionLane
	}
	return lane
}

// RunTransition runs fn with a claimed transition lane as the active update
// lane, so every update requested inside folds into one transition.
func (e *Engine) RunTransition(fn func()) {
	prev := e.transitionLane
	e.transitionLane = e.ClaimNextTransitionLane()
	defer func() { e.transitionLane = prev }()

	e.BatchedUpdates(fn)
}

// ScheduleUpdateOnFiber is the sole entry point by which an external
// mutation enters the engine. It bubbles the lane to the root, records it as
// pending, and (re)arms the root's callback.
func (e *Engine) ScheduleUpdateOnFiber(f *Fiber, lane Lanes, eventTime int64) *FiberRoot {
	root := markUpdateLaneFromFiberToRoot(f, lane)
	if root == nil {
		return nil
	}

	MarkRootUpdated(root, lane, eventTime)
	e.ensureRootIsScheduled(root)

	if e.executionContext == NoContext {
		e.drainMicrotasks()
	}

	return root
}

// markUpdateLaneFromFiberToRoot merges the lane into the source fiber and
// into the childLanes of every ancestor, on both generations, and returns
// the owning root. Nil when the fiber is no longer attached to a root.
func markUpdateLaneFromFiberToRoot(f *Fiber, lane Lanes) *FiberRoot {
	f.Lanes = MergeLanes(f.Lanes, lane)
	if alt := f.Alternate; alt != nil {
		alt.Lanes = MergeLanes(alt.Lanes, lane)
	}

	node := f
	for node.Parent != nil {
		node = node.Parent
		node.ChildLanes = MergeLanes(node.ChildLanes, lane)
		if alt := node.Alternate; alt != nil {
			alt.ChildLanes = MergeLanes(alt.ChildLanes, lane)
		}
	}

	if node.Tag != HostRoot {
		return nil
	}
	root, _ := node.StateNode.(*FiberRoot)
	return root
}

// ensureRootIsScheduled reconciles the root's armed callback with its
// pending lanes. Called every time priority on the root may have changed; it
// is safe to call redundantly.
func (e *Engine) ensureRootIsScheduled(root *FiberRoot) {
	existing := root.CallbackNode

	// Starvation is judged against the actual clock, not a cached event
	// time.
	MarkStarvedLanesAsExpired(root, e.runner.Now())

	wipLanes := NoLanes
	if root == e.workInProgressRoot {
		wipLanes = e.workInProgressRootRenderLanes
	}
	nextLanes := GetNextLanes(root, wipLanes)

	if nextLanes == NoLanes {
		if existing != nil {
			e.runner.CancelCallback(existing)
		}
		root.CallbackNode = nil
		root.CallbackPriority = NoLanes
		return
	}

	newPriority := GetHighestPriorityLane(nextLanes)

	// Same priority already armed: coalesce. This is why several updates
	// inside one event trigger a single render pass.
	if newPriority == root.CallbackPriority {
		return
	}

	if existing != nil {
		e.runner.CancelCallback(existing)
	}

	var newNode *CallbackNode
	if newPriority == SyncLane {
		e.syncQueue = append(e.syncQueue, func() { e.performSyncWorkOnRoot(root) })
		e.microtask(e.flushSyncCallbacks)
	} else {
		pri := eventPriorityToTaskPriority(LanesToEventPriority(nextLanes))
		newNode = e.runner.ScheduleCallback(pri, func(didTimeout bool) TaskCallback {
			return e.performConcurrentWorkOnRoot(root, didTimeout)
		})
	}

	root.CallbackPriority = newPriority
	root.CallbackNode = newNode
}

func eventPriorityToTaskPriority(ep Lanes) TaskPriority {
	switch ep {
	case DiscreteEventPriority:
		return ImmediatePriority
	case ContinuousEventPriority:
		return UserBlockingPriority
	case DefaultEventPriority:
		return NormalPriority
	default:
		return IdlePriority
	}
}

// performConcurrentWorkOnRoot is the entry point for every callback armed
// through the task runner. It time-slices unless a blocking lane, an expired
// lane, or the runner's own timeout forbids it; a yielded render hands a
// continuation back to the runner.
func (e *Engine) performConcurrentWorkOnRoot(root *FiberRoot, didTimeout bool) TaskCallback {
	// Leaving the event-time scope: the next update gets a fresh clock.
	e.resetEventTime()

	originalCallbackNode := root.CallbackNode

	wipLanes := NoLanes
	if root == e.workInProgressRoot {
		wipLanes = e.workInProgressRootRenderLanes
	}
	lanes := GetNextLanes(root, wipLanes)
	if lanes == NoLanes {
		return nil
	}

	shouldTimeSlice := !includesBlockingLane(lanes) &&
		!includesExpiredLane(root, lanes) &&
		!didTimeout

	var exitStatus rootExitStatus
	if shouldTimeSlice {
		exitStatus = e.renderRootConcurrent(root, lanes)
	} else {
		exitStatus = e.renderRootSync(root, lanes)
	}

	if exitStatus == rootInProgress {
		// Yielded mid-tree. Continue from the saved workInProgress
		// pointer unless the callback has been cancelled or replaced
		// in the meantime.
		if root.CallbackNode == originalCallbackNode {
			return func(didTimeout bool) TaskCallback {
				return e.performConcurrentWorkOnRoot(root, didTimeout)
			}
		}
		return nil
	}

	root.FinishedWork = root.Current.Alternate
	root.FinishedLanes = lanes
	e.commitRoot(root)

	if e.executionContext == NoContext {
		e.drainMicrotasks()
	}
	return nil
}

// performSyncWorkOnRoot flushes sync work to completion with no yield
// checks. It re-validates that sync work is still pending; a stale entry
// just re-arms and returns.
func (e *Engine) performSyncWorkOnRoot(root *FiberRoot) {
	e.resetEventTime()

	lanes := GetNextLanes(root, NoLanes)
	if !includesSyncLane(lanes) {
		e.ensureRootIsScheduled(root)
		return
	}

	e.renderRootSync(root, lanes)

	root.FinishedWork = root.Current.Alternate
	root.FinishedLanes = lanes
	e.commitRoot(root)
}

// prepareFreshStack throws away any partially built tree and starts a new
// work-in-progress generation from the committed root.
func (e *Engine) prepareFreshStack(root *FiberRoot, lanes Lanes) *Fiber {
	root.FinishedWork = nil
	root.FinishedLanes = NoLanes

	wip := CreateWorkInProgress(root.Current, nil)
	e.workInProgressRoot = root
	e.workInProgress = wip
	e.workInProgressRootRenderLanes = lanes

	return wip
}

func (e *Engine) renderRootSync(root *FiberRoot, lanes Lanes) rootExitStatus {
	prev := e.executionContext
	e.executionContext |= RenderContext

	// Stale work-in-progress for a different root or priority is
	// discarded, never repaired.
	if e.workInProgressRoot != root || e.workInProgressRootRenderLanes != lanes {
		e.prepareFreshStack(root, lanes)
	}

	for e.workInProgress != nil {
		e.performUnitOfWork(e.workInProgress)
	}

	e.executionContext = prev
	e.workInProgressRoot = nil
	e.workInProgressRootRenderLanes = NoLanes

	return rootCompleted
}

func (e *Engine) renderRootConcurrent(root *FiberRoot, lanes Lanes) rootExitStatus {
	prev := e.executionContext
	e.executionContext |= RenderContext

	if e.workInProgressRoot != root || e.workInProgressRootRenderLanes != lanes {
		e.prepareFreshStack(root, lanes)
	}

	for e.workInProgress != nil && !e.runner.ShouldYield() {
		e.performUnitOfWork(e.workInProgress)
	}

	e.executionContext = prev

	if e.workInProgress != nil {
		return rootInProgress
	}

	e.workInProgressRoot = nil
	e.workInProgressRootRenderLanes = NoLanes
	return rootCompleted
}

// performUnitOfWork processes exactly one fiber: begin against its committed
// twin, then either descend into the produced child or complete.
func (e *Engine) performUnitOfWork(unit *Fiber) {
	current := unit.Alternate

	next := e.reconciler.BeginWork(current, unit, e.workInProgressRootRenderLanes)
	unit.MemoizedProps = unit.PendingProps

	if next == nil {
		e.completeUnitOfWork(unit)
	} else {
		e.workInProgress = next
	}
}

// completeUnitOfWork walks up from a leaf: complete the fiber, then move to
// its sibling, else climb to the parent and complete that too, until a next
// fiber is found or the root is reached. Parents always complete after all
// of their descendants.
func (e *Engine) completeUnitOfWork(unit *Fiber) {
	completed := unit
	for {
		current := completed.Alternate

		if next := e.reconciler.CompleteWork(current, completed); next != nil {
			e.workInProgress = next
			return
		}

		if sibling := completed.Sibling; sibling != nil {
			e.workInProgress = sibling
			return
		}

		if completed.Parent == nil {
			e.workInProgress = nil
			return
		}
		completed = completed.Parent
	}
}

// commitRoot atomically publishes a finished tree. Committing with no
// finished work is a no-op. Commit never yields, and no new callback is
// considered until it has run to completion.
func (e *Engine) commitRoot(root *FiberRoot) {
	finishedWork := root.FinishedWork
	if finishedWork == nil {
		return
	}

	// Free the scheduling slot first, then roll unfinished priority back
	// into the lane model so an interruption's leftovers are re-armed
	// rather than dropped.
	root.FinishedWork = nil
	root.FinishedLanes = NoLanes
	root.CallbackNode = nil
	root.CallbackPriority = NoLanes

	remainingLanes := MergeLanes(finishedWork.Lanes, finishedWork.ChildLanes)
	MarkRootFinished(root, remainingLanes)

	if root == e.workInProgressRoot {
		e.workInProgressRoot = nil
		e.workInProgress = nil
		e.workInProgressRootRenderLanes = NoLanes
	}

	prev := e.executionContext
	e.executionContext |= CommitContext

	if e.host != nil {
		e.host.CommitMutationEffects(root, finishedWork)
	}

	// The double-buffer flip. Before this line observers see the old
	// tree, after it the new one; there is no partial visibility.
	root.Current = finishedWork

	commitUpdateQueueCallbacksInTree(finishedWork)

	e.executionContext = prev

	e.ensureRootIsScheduled(root)
}

func commitUpdateQueueCallbacksInTree(f *Fiber) {
	node := f
	for node != nil {
		CommitUpdateQueueCallbacks(node)

		if node.Child != nil {
			node = node.Child
			continue
		}
		for node != nil && node.Sibling == nil {
			node = node.Parent
		}
		if node != nil {
			node = node.Sibling
		}
	}
}

// flushSyncCallbacks drains the synchronous task queue, including entries
// appended while it runs.
func (e *Engine) flushSyncCallbacks() {
	if e.isFlushingSync {
		return
	}
	e.isFlushingSync = true
	defer func() { e.isFlushingSync = false }()

	for len(e.syncQueue) > 0 {
		queue := e.syncQueue
		e.syncQueue = nil
		for _, fn := range queue {
			fn()
		}
	}
}

// BatchedUpdates runs fn with the sync flush deferred until the outermost
// batch completes, so every update inside coalesces into one pass.
func (e *Engine) BatchedUpdates(fn func()) {
	prev := e.executionContext
	e.executionContext |= BatchedContext
	defer func() {
		e.executionContext = prev
		if e.executionContext == NoContext {
			e.resetEventTime()
			e.drainMicrotasks()
		}
	}()

	fn()
}

// FlushSync runs fn batched and then flushes any resulting sync work before
// returning.
func (e *Engine) FlushSync(fn func()) {
	e.BatchedUpdates(fn)

	if e.executionContext&(RenderContext|CommitContext) == NoContext {
		e.flushSyncCallbacks()
	}
}

func (e *Engine) resetEventTime() {
	e.currentEventTime = noTimestamp
}

func (e *Engine) drainMicrotasks() {
	if e.drainingMicrotask {
		return
	}
	e.drainingMicrotask = true
	defer func() { e.drainingMicrotask = false }()

	for len(e.microtasks) > 0 {
		queue := e.microtasks
		e.microtasks = nil
		for _, fn := range queue {
			fn()
		}
	}
}
