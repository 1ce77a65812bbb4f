// Package loom is a cooperative work scheduler for declarative trees: it
// reconciles a tree incrementally under priority lanes and time slicing, and
// commits each finished tree atomically by swapping it into place.
//
// The engine itself lives in internal; this package is the typed surface:
// mount a Root, describe a tree with El, and dispatch state updates through
// Node handles. Updates carry a priority lane; sync-lane updates flush before
// control returns to the caller, everything else is worked off cooperatively
// through the engine's task runner.
package loom

import "github.com/loomui/loom/internal"

type (
	State        = internal.State
	Lanes        = internal.Lanes
	Element      = internal.Element
	Fiber        = internal.Fiber
	FiberRoot    = internal.FiberRoot
	Reconciler   = internal.Reconciler
	HostConfig   = internal.HostConfig
	TaskRunner   = internal.TaskRunner
	TaskPriority = internal.TaskPriority
	StepRunner   = internal.StepRunner
	Option       = internal.Option
)

const (
	NoLanes             = internal.NoLanes
	SyncLane            = internal.SyncLane
	InputContinuousLane = internal.InputContinuousLane
	DefaultLane         = internal.DefaultLane
	TransitionLanes     = internal.TransitionLanes
	RetryLanes          = internal.RetryLanes
	IdleLane            = internal.IdleLane

	DiscreteEventPriority   = internal.DiscreteEventPriority
	ContinuousEventPriority = internal.ContinuousEventPriority
	DefaultEventPriority    = internal.DefaultEventPriority
	IdleEventPriority       = internal.IdleEventPriority
)

func WithTaskRunner(r TaskRunner) Option  { return internal.WithTaskRunner(r) }
func WithReconciler(r Reconciler) Option  { return internal.WithReconciler(r) }
func WithHost(h HostConfig) Option        { return internal.WithHost(h) }
func WithEventPriority(fn func() Lanes) Option {
	return internal.WithEventPriority(fn)
}

// NewStepRunner returns the deterministic in-process task runner, driven by
// explicit Step/Flush calls and a manual clock.
func NewStepRunner() *StepRunner { return internal.NewStepRunner() }

// El builds an element descriptor for the built-in clone reconciler.
func El(kind, key string, state State, children ...*Element) *Element {
	return &Element{Kind: kind, Key: key, State: state, Children: children}
}

// Root is a mounted container: one committed tree and one scheduling
// callback slot.
type Root struct {
	engine *internal.Engine
	root   *internal.FiberRoot
}

// NewRoot mounts a container on the calling goroutine's engine. Passing
// options replaces that engine with a freshly configured one; roots created
// afterwards on the same goroutine share it.
func NewRoot(container any, opts ...Option) *Root {
	e := internal.GetEngine()
	if len(opts) > 0 {
		e = internal.NewEngine(opts...)
		internal.SetEngine(e)
	}

	return &Root{engine: e, root: internal.NewFiberRoot(container)}
}

// Render schedules el as the root element. Like any other update it goes
// through the root fiber's update queue at the requested lane.
func (r *Root) Render(el *Element) {
	host := r.root.Current

	lane := r.engine.RequestUpdateLane(host)
	eventTime := r.engine.RequestEventTime()

	u := internal.CreateUpdate(eventTime, lane)
	u.Payload = State{"element": el}

	internal.EnqueueUpdate(host, u)
	r.engine.ScheduleUpdateOnFiber(host, lane, eventTime)
}

// Node resolves a handle into the committed tree by child indices from the
// root element; Node() with no path is the root element's node.
func (r *Root) Node(path ...int) *Node {
	f := r.root.Current.Child // root element fiber
	for _, idx := range path {
		if f == nil {
			return nil
		}
		f = f.Child
		for i := 0; f != nil && i < idx; i++ {
			f = f.Sibling
		}
	}
	if f == nil {
		return nil
	}
	return &Node{root: r, fiber: f}
}

// Current returns the root fiber of the committed tree.
func (r *Root) Current() *Fiber { return r.root.Current }

// Container returns the underlying FiberRoot.
func (r *Root) Container() *FiberRoot { return r.root }

func (r *Root) PendingLanes() Lanes { return r.root.PendingLanes() }

// FlushSync runs fn batched and flushes resulting sync-lane work before
// returning.
func (r *Root) FlushSync(fn func()) { r.engine.FlushSync(fn) }

// Batch coalesces every update dispatched inside fn into a single pass per
// lane.
func (r *Root) Batch(fn func()) { r.engine.BatchedUpdates(fn) }

// Transition runs fn with updates assigned a transition lane, deferrable and
// time-sliced work that never blocks more urgent input.
func (r *Root) Transition(fn func()) { r.engine.RunTransition(fn) }

// Runner exposes the engine's task runner, for callers that pump a
// StepRunner themselves.
func (r *Root) Runner() TaskRunner { return r.engine.Runner() }

// Flush pumps the task runner until idle. Only meaningful with a StepRunner.
func (r *Root) Flush() {
	if s, ok := r.engine.Runner().(*StepRunner); ok {
		s.Flush()
	}
}

// Node is a handle on one committed tree position. Updates dispatched
// through it survive commits (both tree generations share the pending
// queue), but State reads reflect the generation the handle resolved to;
// re-resolve through Root.Node after a flush for the latest committed state.
type Node struct {
	root  *Root
	fiber *internal.Fiber
}

func (n *Node) Kind() string { return n.fiber.Kind }
func (n *Node) Key() string  { return n.fiber.Key }

func (n *Node) State() State { return n.fiber.MemoizedState }

func (n *Node) Fiber() *Fiber { return n.fiber }

func (n *Node) FirstChild() *Node {
	if n.fiber.Child == nil {
		return nil
	}
	return &Node{root: n.root, fiber: n.fiber.Child}
}

func (n *Node) NextSibling() *Node {
	if n.fiber.Sibling == nil {
		return nil
	}
	return &Node{root: n.root, fiber: n.fiber.Sibling}
}

// Update shallow-merges patch over the node's state.
func (n *Node) Update(patch State) {
	n.dispatch(internal.UpdateState, patch, nil)
}

// UpdateWith computes the patch from the previous state, lazily at fold time.
func (n *Node) UpdateWith(fn func(State) State) {
	n.dispatch(internal.UpdateState, fn, nil)
}

// UpdateWithCallback is Update plus a completion callback fired after the
// pass that applied the update commits.
func (n *Node) UpdateWithCallback(patch State, done func()) {
	n.dispatch(internal.UpdateState, patch, done)
}

// Replace swaps the node's state wholesale.
func (n *Node) Replace(s State) {
	n.dispatch(internal.ReplaceState, s, nil)
}

// Force schedules a re-render of the node without changing its state.
func (n *Node) Force() {
	n.dispatch(internal.ForceUpdate, nil, nil)
}

func (n *Node) dispatch(tag internal.UpdateTag, payload any, done func()) {
	e := n.root.engine

	lane := e.RequestUpdateLane(n.fiber)
	eventTime := e.RequestEventTime()

	u := internal.CreateUpdate(eventTime, lane)
	u.Tag = tag
	u.Payload = payload
	u.Callback = done

	internal.EnqueueUpdate(n.fiber, u)
	e.ScheduleUpdateOnFiber(n.fiber, lane, eventTime)
}
