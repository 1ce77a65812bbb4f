package internal

// FiberTag identifies what kind of tree position a fiber represents.
type FiberTag int

const (
	HostRoot FiberTag = iota
	HostComponent
	HostText
)

// FiberFlags records side effects accumulated on a fiber during a render
// pass, consumed by the host mutation collaborator at commit.
type FiberFlags uint16

const (
	NoFlags FiberFlags = 0

	Placement FiberFlags = 1 << iota
	UpdateEffect
	ShouldCapture
	DidCapture
)

// Fiber is one position in the tree. Two generations of a fiber exist at a
// time: the committed one reachable from root.Current and its work-in-progress
// twin reachable from the engine's workInProgress pointer. Alternate is a
// plain cross-reference between the two, never an ownership edge; at most one
// of the pair is mutated while the other is read-only truth.
type Fiber struct {
	Tag  FiberTag
	Kind string
	Key  string

	PendingProps  any
	MemoizedProps any
	MemoizedState State
	UpdateQueue   *UpdateQueue

	// StateNode points back at the owning FiberRoot on HostRoot fibers.
	StateNode any

	// Parent is a traversal link, not an owning one; ownership flows
	// strictly down Child/Sibling.
	Parent  *Fiber
	Child   *Fiber
	Sibling *Fiber
	Index   int

	// Lanes is pending priority on this fiber itself, ChildLanes the union
	// of pending priority anywhere below it. A subtree whose merged
	// lanes|childLanes misses the render lanes can be skipped entirely.
	Lanes      Lanes
	ChildLanes Lanes

	Alternate *Fiber
	Flags     FiberFlags
}

func NewFiber(tag FiberTag, kind, key string, pendingProps any) *Fiber {
	return &Fiber{
		Tag:          tag,
		Kind:         kind,
		Key:          key,
		PendingProps: pendingProps,
	}
}

func NewHostRootFiber() *Fiber {
	return NewFiber(HostRoot, "", "", nil)
}

// CreateWorkInProgress returns current's twin, ready to be rebuilt for a new
// render pass. The twin from the previous generation is reused as scratch
// when it exists; the whole double-buffer scheme allocates at most two
// generations per logical position, it never deep-copies a tree per pass.
func CreateWorkInProgress(current *Fiber, pendingProps any) *Fiber {
	wip := current.Alternate
	if wip == nil {
		wip = NewFiber(current.Tag, current.Kind, current.Key, pendingProps)
		wip.StateNode = current.StateNode
		wip.Alternate = current
		current.Alternate = wip
	} else {
		wip.PendingProps = pendingProps
		wip.Flags = NoFlags
	}

	wip.Lanes = current.Lanes
	wip.ChildLanes = current.ChildLanes
	wip.Child = current.Child
	wip.Sibling = current.Sibling
	wip.Index = current.Index
	wip.MemoizedProps = current.MemoizedProps
	wip.MemoizedState = current.MemoizedState
	wip.UpdateQueue = current.UpdateQueue

	return wip
}
