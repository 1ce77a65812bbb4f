package internal

import (
	"fmt"

	"github.com/google/uuid"
)

// FiberRoot is one mounted container. It owns exactly one committed tree
// (Current) and at most one outstanding scheduling callback at a time.
type FiberRoot struct {
	ID uuid.UUID

	// ContainerInfo is the host environment handle this root renders into.
	ContainerInfo any

	// Current is the root fiber of the last committed tree. Only the
	// commit step writes it, and only as a single pointer swap.
	Current *Fiber

	// FinishedWork is the root of a completed but not yet published tree.
	FinishedWork  *Fiber
	FinishedLanes Lanes

	// CallbackNode is the currently armed scheduling callback and
	// CallbackPriority the lane it targets. A sync arming leaves
	// CallbackNode nil; CallbackPriority alone carries the coalescing.
	CallbackNode     *CallbackNode
	CallbackPriority Lanes

	pendingLanes    Lanes
	expiredLanes    Lanes
	expirationTimes [TotalLanes]int64
}

func NewFiberRoot(containerInfo any) *FiberRoot {
	root := &FiberRoot{
		ID:            uuid.New(),
		ContainerInfo: containerInfo,
	}

	for i := range root.expirationTimes {
		root.expirationTimes[i] = noTimestamp
	}

	host := NewHostRootFiber()
	host.StateNode = root
	root.Current = host

	InitializeUpdateQueue(host)

	return root
}

func (r *FiberRoot) PendingLanes() Lanes { return r.pendingLanes }

func (r *FiberRoot) ExpiredLanes() Lanes { return r.expiredLanes }

func (r *FiberRoot) String() string {
	return fmt.Sprintf("root(%s pending=%031b)", r.ID.String()[:8], r.pendingLanes)
}
