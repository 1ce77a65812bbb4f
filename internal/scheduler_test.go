package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingRunner struct {
	*StepRunner
	scheduled int
	cancelled int
}

func newCountingRunner() *countingRunner {
	return &countingRunner{StepRunner: NewStepRunner()}
}

func (c *countingRunner) ScheduleCallback(pri TaskPriority, cb TaskCallback) *CallbackNode {
	c.scheduled++
	return c.StepRunner.ScheduleCallback(pri, cb)
}

func (c *countingRunner) CancelCallback(node *CallbackNode) {
	if node != nil {
		c.cancelled++
	}
	c.StepRunner.CancelCallback(node)
}

type recordingHost struct {
	commits int
}

func (h *recordingHost) CommitMutationEffects(root *FiberRoot, finished *Fiber) {
	h.commits++
}

type loggingReconciler struct {
	inner Reconciler
	log   *[]string
}

func fiberName(f *Fiber) string {
	if f.Tag == HostRoot {
		return "root"
	}
	return f.Kind
}

func (r loggingReconciler) BeginWork(current, wip *Fiber, renderLanes Lanes) *Fiber {
	*r.log = append(*r.log, "begin "+fiberName(wip))
	return r.inner.BeginWork(current, wip, renderLanes)
}

func (r loggingReconciler) CompleteWork(current, wip *Fiber) *Fiber {
	*r.log = append(*r.log, "complete "+fiberName(wip))
	return r.inner.CompleteWork(current, wip)
}

func El(kind, key string, state State, children ...*Element) *Element {
	return &Element{Kind: kind, Key: key, State: state, Children: children}
}

func newTestEngine(opts ...Option) (*Engine, *countingRunner, *recordingHost) {
	runner := newCountingRunner()
	host := &recordingHost{}
	opts = append([]Option{WithTaskRunner(runner), WithHost(host)}, opts...)
	return NewEngine(opts...), runner, host
}

func mount(e *Engine, root *FiberRoot, el *Element) {
	host := root.Current
	eventTime := e.RequestEventTime()

	u := CreateUpdate(eventTime, DefaultLane)
	u.Payload = State{"element": el}
	EnqueueUpdate(host, u)
	e.ScheduleUpdateOnFiber(host, DefaultLane, eventTime)
}

func dispatch(e *Engine, f *Fiber, lane Lanes, payload any) {
	eventTime := e.RequestEventTime()
	u := CreateUpdate(eventTime, lane)
	u.Payload = payload
	EnqueueUpdate(f, u)
	e.ScheduleUpdateOnFiber(f, lane, eventTime)
}

func increment(key string) func(State) State {
	return func(prev State) State {
		n, _ := prev[key].(int)
		return State{key: n + 1}
	}
}

// fiberAt walks the committed tree by child indices below the root element.
func fiberAt(root *FiberRoot, path ...int) *Fiber {
	f := root.Current.Child
	for _, idx := range path {
		f = f.Child
		for i := 0; i < idx; i++ {
			f = f.Sibling
		}
	}
	return f
}

func TestMount(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)

	mount(e, root, El("app", "", State{},
		El("x", "", State{"n": 0}),
		El("y", "", State{"n": 0}),
	))
	runner.Flush()

	assert.Equal(t, 1, host.commits)
	assert.Equal(t, "app", fiberAt(root).Kind)
	assert.Equal(t, "x", fiberAt(root, 0).Kind)
	assert.Equal(t, "y", fiberAt(root, 1).Kind)
	assert.Equal(t, NoLanes, root.PendingLanes())
}

func TestCoalescing(t *testing.T) {
	t.Run("same-lane updates share one callback and one pass", func(t *testing.T) {
		e, runner, host := newTestEngine()
		root := NewFiberRoot(nil)
		mount(e, root, El("app", "", State{"a": 0}))
		runner.Flush()

		runner.scheduled = 0
		host.commits = 0

		app := fiberAt(root)
		dispatch(e, app, DefaultLane, State{"a": 1})
		dispatch(e, app, DefaultLane, State{"b": 2})

		assert.Equal(t, 1, runner.scheduled)

		runner.Flush()
		assert.Equal(t, 1, host.commits)
		assert.Equal(t, State{"a": 1, "b": 2}, fiberAt(root).MemoizedState)
	})

	t.Run("batched sync updates flush as one pass on batch exit", func(t *testing.T) {
		e, runner, host := newTestEngine(WithEventPriority(func() Lanes {
			return DiscreteEventPriority
		}))
		root := NewFiberRoot(nil)
		mount(e, root, El("app", "", State{"a": 0}))
		runner.Flush()
		host.commits = 0

		app := fiberAt(root)
		e.BatchedUpdates(func() {
			dispatch(e, app, SyncLane, State{"a": 1})
			dispatch(e, app, SyncLane, State{"b": 2})

			// Nothing flushed while the batch is open.
			assert.Equal(t, 0, host.commits)
		})

		assert.Equal(t, 1, host.commits)
		assert.Equal(t, State{"a": 1, "b": 2}, fiberAt(root).MemoizedState)
	})
}

func TestSyncUpdateFlushesBeforeReturn(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "", State{"n": 0}))
	runner.Flush()
	host.commits = 0

	dispatch(e, fiberAt(root), SyncLane, increment("n"))

	// No runner pump: the sync lane flushed through the microtask.
	assert.Equal(t, 1, host.commits)
	assert.Equal(t, 1, fiberAt(root).MemoizedState["n"])
}

func TestPreemption(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "",
		State{},
		El("x", "", State{"n": 0}),
		El("y", "", State{"n": 0}),
	))
	runner.Flush()
	runner.scheduled, runner.cancelled, host.commits = 0, 0, 0

	// Lower-priority work armed but not yet run.
	dispatch(e, fiberAt(root, 1), DefaultLane, increment("n"))
	assert.Equal(t, 1, runner.scheduled)
	assert.Equal(t, 0, runner.cancelled)

	// Higher-priority request cancels and replaces it, then flushes.
	dispatch(e, fiberAt(root, 0), SyncLane, increment("n"))
	assert.Equal(t, 1, runner.cancelled)
	assert.Equal(t, 1, host.commits)
	assert.Equal(t, 1, fiberAt(root, 0).MemoizedState["n"])

	// The preempted lane is still pending, not lost.
	assert.True(t, IncludesSomeLane(root.PendingLanes(), DefaultLane))
	assert.Equal(t, 0, fiberAt(root, 1).MemoizedState["n"])

	runner.Flush()
	assert.Equal(t, 2, host.commits)
	assert.Equal(t, 1, fiberAt(root, 1).MemoizedState["n"])
	assert.Equal(t, NoLanes, root.PendingLanes())
}

func TestTimeSlicing(t *testing.T) {
	t.Run("yield suspends between units and current stays committed", func(t *testing.T) {
		e, runner, host := newTestEngine()
		root := NewFiberRoot(nil)
		mount(e, root, El("app", "", State{}, El("x", "", State{"n": 0})))
		runner.Flush()
		host.commits = 0

		before := root.Current

		lane := e.ClaimNextTransitionLane()
		dispatch(e, fiberAt(root, 0), lane, increment("n"))

		runner.YieldAfter(2)
		runner.Step()

		// Mid-render: the callback yielded with work remaining.
		assert.Equal(t, 0, host.commits)
		assert.Same(t, before, root.Current)
		assert.Equal(t, 0, fiberAt(root, 0).MemoizedState["n"])
		assert.True(t, runner.HasPendingTask())

		// Resume from the saved pointer and finish.
		runner.SetShouldYield(false)
		runner.Flush()
		assert.Equal(t, 1, host.commits)
		assert.Equal(t, 1, fiberAt(root, 0).MemoizedState["n"])
	})

	t.Run("forced timeout disables slicing", func(t *testing.T) {
		e, runner, host := newTestEngine()
		root := NewFiberRoot(nil)
		mount(e, root, El("app", "", State{"n": 0}))
		runner.Flush()
		host.commits = 0

		lane := e.ClaimNextTransitionLane()
		dispatch(e, fiberAt(root), lane, increment("n"))

		runner.SetShouldYield(true)
		runner.ForceTimeoutNext()
		runner.Step()

		assert.Equal(t, 1, host.commits)
		assert.Equal(t, 1, fiberAt(root).MemoizedState["n"])
	})
}

func TestStarvedLaneRunsWithoutYielding(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "", State{"n": 0}))
	runner.Flush()
	host.commits = 0

	lane := e.ClaimNextTransitionLane()
	dispatch(e, fiberAt(root), lane, increment("n"))

	// Long enough for the transition timeout to pass. The re-dispatch
	// re-enters the controller, which promotes the starved lane.
	runner.Advance(10000)
	dispatch(e, fiberAt(root), lane, increment("n"))
	assert.True(t, IncludesSomeLane(root.ExpiredLanes(), lane))

	// Even under constant yield pressure the pass runs to completion.
	runner.SetShouldYield(true)
	runner.Step()

	assert.Equal(t, 1, host.commits)
	assert.Equal(t, 2, fiberAt(root).MemoizedState["n"])
}

func TestInterruptedRenderKeepsUpdates(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "",
		State{},
		El("x", "", State{"n": 0}),
		El("y", "", State{"n": 0}),
	))
	runner.Flush()
	host.commits = 0

	// Transition starts rendering and is paused after x's queue has
	// already been drained into its base list.
	lane := e.ClaimNextTransitionLane()
	dispatch(e, fiberAt(root, 0), lane, increment("n"))
	runner.YieldAfter(3)
	runner.Step()
	assert.Equal(t, 0, host.commits)

	// A sync update interrupts; the partial tree is thrown away.
	runner.SetShouldYield(false)
	dispatch(e, fiberAt(root, 1), SyncLane, increment("n"))
	assert.Equal(t, 1, host.commits)
	assert.Equal(t, 1, fiberAt(root, 1).MemoizedState["n"])
	assert.Equal(t, 0, fiberAt(root, 0).MemoizedState["n"])
	assert.True(t, IncludesSomeLane(root.PendingLanes(), lane))

	// The discarded pass's updates replay exactly once.
	runner.Flush()
	assert.Equal(t, 2, host.commits)
	assert.Equal(t, 1, fiberAt(root, 0).MemoizedState["n"])
	assert.Equal(t, NoLanes, root.PendingLanes())
}

func TestCommitWithoutFinishedWorkIsNoop(t *testing.T) {
	e, _, host := newTestEngine()
	root := NewFiberRoot(nil)
	before := root.Current

	e.commitRoot(root)

	assert.Equal(t, 0, host.commits)
	assert.Same(t, before, root.Current)
}

func TestTraversalOrder(t *testing.T) {
	log := []string{}
	e, runner, _ := newTestEngine(WithReconciler(loggingReconciler{
		inner: NewCloneReconciler(),
		log:   &log,
	}))
	root := NewFiberRoot(nil)

	mount(e, root, El("app", "",
		State{},
		El("x", "", State{}, El("y", "", State{})),
		El("z", "", State{}),
	))
	runner.Flush()

	assert.Equal(t, []string{
		"begin root",
		"begin app",
		"begin x",
		"begin y",
		"complete y",
		"complete x",
		"begin z",
		"complete z",
		"complete app",
		"complete root",
	}, log)
}

func TestUpdateCallbacksFireAfterCommit(t *testing.T) {
	e, runner, host := newTestEngine()
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "", State{"n": 0}))
	runner.Flush()

	commitsAtCallback := -1
	u := CreateUpdate(e.RequestEventTime(), DefaultLane)
	u.Payload = increment("n")
	u.Callback = func() { commitsAtCallback = host.commits }
	EnqueueUpdate(fiberAt(root), u)
	e.ScheduleUpdateOnFiber(fiberAt(root), DefaultLane, u.EventTime)
	runner.Flush()

	// Fired once, and only after the host saw the commit.
	assert.Equal(t, host.commits, commitsAtCallback)
	assert.Equal(t, 1, fiberAt(root).MemoizedState["n"])
}

func TestEventTimeSharing(t *testing.T) {
	e, runner, _ := newTestEngine()

	t1 := e.RequestEventTime()
	runner.Advance(7)
	t2 := e.RequestEventTime()
	assert.Equal(t, t1, t2)

	// A work pass closes the event scope; the next request reads the
	// clock again.
	root := NewFiberRoot(nil)
	mount(e, root, El("app", "", State{}))
	runner.Flush()

	runner.Advance(7)
	t3 := e.RequestEventTime()
	assert.NotEqual(t, t1, t3)
}

func TestTransitionLaneClaiming(t *testing.T) {
	e, _, _ := newTestEngine()

	first := e.ClaimNextTransitionLane()
	second := e.ClaimNextTransitionLane()
	assert.NotEqual(t, first, second)
	assert.True(t, IncludesSomeLane(TransitionLanes, first))
	assert.True(t, IncludesSomeLane(TransitionLanes, second))

	// The allocator wraps around the band.
	seen := first | second
	for i := 0; i < 20; i++ {
		seen |= e.ClaimNextTransitionLane()
	}
	assert.Equal(t, TransitionLanes, seen)
}

func TestMultipleRootsShareOneEngine(t *testing.T) {
	e, runner, host := newTestEngine()
	rootA := NewFiberRoot(nil)
	rootB := NewFiberRoot(nil)

	mount(e, rootA, El("app", "", State{"who": "a"}))
	mount(e, rootB, El("app", "", State{"who": "b"}))
	runner.Flush()

	assert.Equal(t, 2, host.commits)
	assert.Equal(t, "a", fiberAt(rootA).MemoizedState["who"])
	assert.Equal(t, "b", fiberAt(rootB).MemoizedState["who"])
	assert.NotEqual(t, rootA.ID, rootB.ID)
}
