package internal

// Reconciler is the per-node diffing collaborator. BeginWork produces the
// first child to descend into, or nil when the node is a leaf for this pass;
// CompleteWork may redirect the loop by returning an alternative next node.
// The engine only drives the traversal, it never diffs children itself.
type Reconciler interface {
	BeginWork(current, wip *Fiber, renderLanes Lanes) *Fiber
	CompleteWork(current, wip *Fiber) *Fiber
}

// HostConfig applies a finished tree's accumulated side effects to the host
// environment. It runs synchronously inside commit, after the render is
// complete and before the tree is published.
type HostConfig interface {
	CommitMutationEffects(root *FiberRoot, finishedWork *Fiber)
}

// Element is a declarative description of one tree position, consumed by the
// clone reconciler.
type Element struct {
	Kind     string
	Key      string
	State    State
	Children []*Element
}

// cloneReconciler is the minimal in-tree Reconciler: it replays each fiber's
// update queue, clones children from element descriptors, and bubbles lanes
// on completion. Real renderers supply their own; the engine's tests and the
// examples run against this one.
type cloneReconciler struct{}

func NewCloneReconciler() Reconciler { return cloneReconciler{} }

func (cloneReconciler) BeginWork(current, wip *Fiber, renderLanes Lanes) *Fiber {
	// Untouched subtree: nothing here or below intersects the render
	// lanes, so the committed children are reused wholesale.
	if current != nil &&
		!IncludesSomeLane(renderLanes, MergeLanes(wip.Lanes, wip.ChildLanes)) {
		cloneChildFibers(current, wip)
		return nil
	}

	if wip.UpdateQueue != nil {
		if current != nil {
			CloneUpdateQueue(current, wip)
		}
		ProcessUpdateQueue(wip, renderLanes)
	}

	var elements []*Element
	switch wip.Tag {
	case HostRoot:
		if el, ok := wip.MemoizedState["element"].(*Element); ok && el != nil {
			elements = []*Element{el}
		}
	case HostComponent:
		if el, ok := wip.PendingProps.(*Element); ok && el != nil {
			elements = el.Children
		}
	}

	reconcileChildren(current, wip, elements)
	return wip.Child
}

func (cloneReconciler) CompleteWork(current, wip *Fiber) *Fiber {
	bubbleChildLanes(wip)

	if current == nil || !sameProps(current.MemoizedProps, wip.PendingProps) {
		wip.Flags |= UpdateEffect
	}

	return nil
}

// reconcileChildren builds wip's child list against the committed children,
// reusing each committed child's alternate when position and kind line up.
func reconcileChildren(current *Fiber, wip *Fiber, elements []*Element) {
	var oldChild *Fiber
	if current != nil {
		oldChild = current.Child
	}

	var first, prev *Fiber
	for i, el := range elements {
		var child *Fiber
		if oldChild != nil && oldChild.Kind == el.Kind && oldChild.Key == el.Key {
			child = CreateWorkInProgress(oldChild, el)
		} else {
			child = NewFiber(HostComponent, el.Kind, el.Key, el)
			child.MemoizedState = el.State
			InitializeUpdateQueue(child)
			child.Flags |= Placement
		}

		child.Parent = wip
		child.Index = i
		child.Sibling = nil

		if prev == nil {
			first = child
		} else {
			prev.Sibling = child
		}
		prev = child

		if oldChild != nil {
			oldChild = oldChild.Sibling
		}
	}

	wip.Child = first
}

// cloneChildFibers hangs fresh work-in-progress twins of the committed
// children off wip without descending into them.
func cloneChildFibers(current, wip *Fiber) {
	if current.Child == nil {
		wip.Child = nil
		return
	}

	child := current.Child
	newChild := CreateWorkInProgress(child, child.PendingProps)
	newChild.Parent = wip
	wip.Child = newChild

	for child.Sibling != nil {
		child = child.Sibling
		next := CreateWorkInProgress(child, child.PendingProps)
		next.Parent = wip
		newChild.Sibling = next
		newChild = next
	}
	newChild.Sibling = nil
}

// bubbleChildLanes rolls the subtree's pending priority up into ChildLanes.
// Completion is post-order, so every child has already rolled up its own
// subtree by the time its parent completes.
func bubbleChildLanes(wip *Fiber) {
	newChildLanes := NoLanes
	for c := wip.Child; c != nil; c = c.Sibling {
		newChildLanes = MergeLanes(newChildLanes, MergeLanes(c.Lanes, c.ChildLanes))
	}
	wip.ChildLanes = newChildLanes
}

func sameProps(a, b any) bool {
	ae, aok := a.(*Element)
	be, bok := b.(*Element)
	if aok && bok {
		return ae == be
	}
	return a == b
}
