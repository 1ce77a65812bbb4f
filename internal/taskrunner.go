package internal

import "time"

// TaskPriority is the cooperative runner's priority band, most to least
// urgent.
type TaskPriority int

const (
	ImmediatePriority TaskPriority = iota
	UserBlockingPriority
	NormalPriority
	IdlePriority

	numTaskPriorities
)

// TaskCallback is one cooperatively scheduled unit. didTimeout is set when
// the runner has decided the callback waited too long and must run to
// completion without slicing. A non-nil return value is a continuation the
// runner re-dispatches at the same priority.
type TaskCallback func(didTimeout bool) TaskCallback

// CallbackNode is the opaque handle for an armed callback. Cancellation is
// advisory: a cancelled node that was already dequeued runs as a no-op, the
// engine never assumes a cancelled callback cannot fire.
type CallbackNode struct {
	callback  TaskCallback
	priority  TaskPriority
	cancelled bool
}

// TaskRunner is the cooperative-yield primitive the engine is driven by. The
// engine arms at most one callback per root through it and polls ShouldYield
// between units of work.
type TaskRunner interface {
	ScheduleCallback(pri TaskPriority, cb TaskCallback) *CallbackNode
	CancelCallback(node *CallbackNode)
	ShouldYield() bool
	Now() int64
}

// StepRunner is a deterministic in-process TaskRunner: per-band FIFO queues
// drained most-urgent-band-first, one callback per Step, a manually advanced
// clock, and an externally settable yield signal. It is the default runner
// and the one the tests drive.
type StepRunner struct {
	queues [numTaskPriorities][]*CallbackNode

	now         int64
	wallClock   bool
	yieldSignal bool
	timeoutNext bool

	countingPolls bool
	pollsLeft     int
}

func NewStepRunner() *StepRunner {
	return &StepRunner{}
}

// NewWallClockRunner returns a StepRunner whose Now follows real time in
// milliseconds instead of the manual clock.
func NewWallClockRunner() *StepRunner {
	return &StepRunner{wallClock: true}
}

func (s *StepRunner) ScheduleCallback(pri TaskPriority, cb TaskCallback) *CallbackNode {
	node := &CallbackNode{callback: cb, priority: pri}
	s.queues[pri] = append(s.queues[pri], node)
	return node
}

func (s *StepRunner) CancelCallback(node *CallbackNode) {
	if node == nil {
		return
	}
	node.cancelled = true
	node.callback = nil
}

func (s *StepRunner) ShouldYield() bool {
	if s.countingPolls {
		if s.pollsLeft > 0 {
			s.pollsLeft--
			return false
		}
		return true
	}
	return s.yieldSignal
}

// SetShouldYield controls the yield signal the engine polls between units of
// work.
func (s *StepRunner) SetShouldYield(v bool) {
	s.yieldSignal = v
	s.countingPolls = false
}

// YieldAfter answers the next n ShouldYield polls with false and every poll
// after that with true, until SetShouldYield resets it. Lets a caller pause
// a sliced render partway through a tree.
func (s *StepRunner) YieldAfter(n int) {
	s.countingPolls = true
	s.pollsLeft = n
}

// ForceTimeoutNext delivers didTimeout=true to the next dispatched callback.
func (s *StepRunner) ForceTimeoutNext() { s.timeoutNext = true }

func (s *StepRunner) Now() int64 {
	if s.wallClock {
		return time.Now().UnixMilli()
	}
	return s.now
}

// Advance moves the manual clock forward by d milliseconds.
func (s *StepRunner) Advance(d int64) { s.now += d }

func (s *StepRunner) HasPendingTask() bool {
	for pri := range s.queues {
		for _, node := range s.queues[pri] {
			if !node.cancelled {
				return true
			}
		}
	}
	return false
}

// Step dispatches the single most urgent queued callback. Cancelled nodes are
// dequeued and dropped without counting as work. A continuation returned by
// the callback is requeued on the same node at the same priority. Reports
// whether a callback actually ran.
func (s *StepRunner) Step() bool {
	for pri := range s.queues {
		for len(s.queues[pri]) > 0 {
			node := s.queues[pri][0]
			s.queues[pri] = s.queues[pri][1:]

			if node.cancelled || node.callback == nil {
				continue
			}

			didTimeout := s.timeoutNext || node.priority == ImmediatePriority
			s.timeoutNext = false

			cb := node.callback
			node.callback = nil
			if cont := cb(didTimeout); cont != nil && !node.cancelled {
				node.callback = cont
				s.queues[node.priority] = append(s.queues[node.priority], node)
			}
			return true
		}
	}
	return false
}

// Flush steps until no runnable callback remains.
func (s *StepRunner) Flush() {
	for s.Step() {
	}
}
