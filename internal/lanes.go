package internal

import "math/bits"

// Lanes is a fixed-width bitmask of priority lanes. A single lane is one set
// bit; a lane set is the union of lanes. Lower bit position = more urgent.
type Lanes uint32

const TotalLanes = 31

const (
	NoLanes Lanes = 0

	SyncLane            Lanes = 1 << 0
	InputContinuousLane Lanes = 1 << 1
	DefaultLane         Lanes = 1 << 2

	// bits 3..18
	TransitionLanes     Lanes = 0x0007fff8
	firstTransitionLane Lanes = 1 << 3

	// bits 19..22
	RetryLanes     Lanes = 0x00780000
	firstRetryLane Lanes = 1 << 19

	IdleLane Lanes = 1 << 30

	NonIdleLanes Lanes = SyncLane | InputContinuousLane | DefaultLane | TransitionLanes | RetryLanes
)

// Event priorities are themselves lane values, so they order the same way
// lanes do and translate directly into an update lane.
const (
	DiscreteEventPriority   = SyncLane
	ContinuousEventPriority = InputContinuousLane
	DefaultEventPriority    = DefaultLane
	IdleEventPriority       = IdleLane
)

const noTimestamp int64 = -1

func MergeLanes(a, b Lanes) Lanes { return a | b }

func RemoveLanes(set, subset Lanes) Lanes { return set &^ subset }

func IntersectLanes(a, b Lanes) Lanes { return a & b }

func IncludesSomeLane(a, b Lanes) bool { return a&b != NoLanes }

func IsSubsetOfLanes(set, subset Lanes) bool { return set&subset == subset }

// GetHighestPriorityLane returns the least-significant set bit, the single
// most urgent lane in the set, or NoLanes.
func GetHighestPriorityLane(lanes Lanes) Lanes {
	return lanes & -lanes
}

// getHighestPriorityLanes returns the whole priority band containing the most
// urgent lane, so that e.g. all pending transition lanes render together.
func getHighestPriorityLanes(lanes Lanes) Lanes {
	switch lane := GetHighestPriorityLane(lanes); {
	case lane == SyncLane:
		return SyncLane
	case lane == InputContinuousLane:
		return InputContinuousLane
	case lane == DefaultLane:
		return DefaultLane
	case lane&TransitionLanes != NoLanes:
		return lanes & TransitionLanes
	case lane&RetryLanes != NoLanes:
		return lanes & RetryLanes
	case lane == IdleLane:
		return IdleLane
	default:
		return lanes
	}
}

func LaneToIndex(lane Lanes) int {
	return bits.TrailingZeros32(uint32(lane))
}

// pickArbitraryLaneIndex is used when walking every lane of a set, consuming
// the highest bit first.
func pickArbitraryLaneIndex(lanes Lanes) int {
	return 31 - bits.LeadingZeros32(uint32(lanes))
}

// LanesToEventPriority buckets a lane set into the event priority of its most
// urgent lane.
func LanesToEventPriority(lanes Lanes) Lanes {
	lane := GetHighestPriorityLane(lanes)
	switch {
	case lane == SyncLane:
		return DiscreteEventPriority
	case lane == InputContinuousLane:
		return ContinuousEventPriority
	case lane&NonIdleLanes != NoLanes:
		return DefaultEventPriority
	default:
		return IdleEventPriority
	}
}

// computeExpirationTime returns the deadline past which a pending lane counts
// as starved. Retry and idle lanes never expire.
func computeExpirationTime(lane Lanes, currentTime int64) int64 {
	switch {
	case lane&(SyncLane|InputContinuousLane) != NoLanes:
		return currentTime + 250
	case lane&(DefaultLane|TransitionLanes) != NoLanes:
		return currentTime + 5000
	default:
		return noTimestamp
	}
}

// MarkRootUpdated adds lane to the root's pending set and records its
// expiration baseline. An already-pending lane keeps its earlier deadline so
// a stream of updates cannot postpone starvation detection forever.
func MarkRootUpdated(root *FiberRoot, lane Lanes, eventTime int64) {
	root.pendingLanes |= lane

	idx := LaneToIndex(lane)
	if root.expirationTimes[idx] == noTimestamp {
		root.expirationTimes[idx] = computeExpirationTime(lane, eventTime)
	}
}

// MarkStarvedLanesAsExpired promotes every pending lane whose deadline has
// passed into the root's expired set. Expired lanes are forced into the next
// getNextLanes result and render without yielding.
func MarkStarvedLanesAsExpired(root *FiberRoot, currentTime int64) {
	lanes := root.pendingLanes &^ root.expiredLanes

	for lanes != NoLanes {
		idx := pickArbitraryLaneIndex(lanes)
		lane := Lanes(1) << idx

		expirationTime := root.expirationTimes[idx]
		if expirationTime == noTimestamp {
			root.expirationTimes[idx] = computeExpirationTime(lane, currentTime)
		} else if expirationTime <= currentTime {
			root.expiredLanes |= lane
		}

		lanes &^= lane
	}
}

// GetNextLanes selects the set of lanes to render next. If a render is already
// in progress on wipLanes, it keeps rendering those unless a strictly more
// urgent lane has since become pending.
func GetNextLanes(root *FiberRoot, wipLanes Lanes) Lanes {
	pendingLanes := root.pendingLanes
	if pendingLanes == NoLanes {
		return NoLanes
	}

	var nextLanes Lanes
	if nonIdle := pendingLanes & NonIdleLanes; nonIdle != NoLanes {
		nextLanes = getHighestPriorityLanes(nonIdle)
	} else {
		nextLanes = getHighestPriorityLanes(pendingLanes)
	}

	// Starved lanes ride along so they cannot be deferred again.
	nextLanes |= root.expiredLanes & pendingLanes

	if wipLanes != NoLanes && wipLanes != nextLanes {
		nextLane := GetHighestPriorityLane(nextLanes)
		wipLane := GetHighestPriorityLane(wipLanes)

		// Equal or lower urgency keeps the in-progress render; only a
		// strictly higher lane interrupts it.
		if nextLane >= wipLane {
			return wipLanes
		}
	}

	return nextLanes
}

// MarkRootFinished clears every lane not present in remainingLanes.
// remainingLanes is the finished tree's rolled-up lanes|childLanes, nonzero
// when an interruption left lower-priority work pending in the subtree.
func MarkRootFinished(root *FiberRoot, remainingLanes Lanes) {
	noLongerPending := root.pendingLanes &^ remainingLanes

	root.pendingLanes = remainingLanes
	root.expiredLanes &= remainingLanes

	for noLongerPending != NoLanes {
		idx := pickArbitraryLaneIndex(noLongerPending)
		root.expirationTimes[idx] = noTimestamp
		noLongerPending &^= Lanes(1) << idx
	}
}

func includesSyncLane(lanes Lanes) bool {
	return lanes&SyncLane != NoLanes
}

// includesBlockingLane reports whether the set contains a lane that must not
// be time-sliced.
func includesBlockingLane(lanes Lanes) bool {
	return lanes&(SyncLane|InputContinuousLane|DefaultLane) != NoLanes
}

func includesExpiredLane(root *FiberRoot, lanes Lanes) bool {
	return lanes&root.expiredLanes != NoLanes
}
