package postprocess

// Latch debounces the per-frame target signal into an alarm. A qualifying frame adds 2 to the
// latency, any other frame subtracts 1 down to 0. The alarm fires once latency exceeds
// 2*count, and latency then restarts from 0.
type Latch struct {
	count   int
	latency int
}

// NewLatch creates a latch that fires after roughly count consecutive qualifying frames.
func NewLatch(count int) *Latch {
	return &Latch{count: count}
}

// Observe feeds one frame.
//
// Arguments:
//   - qualifying: Whether the frame had a target-class detection above the score threshold.
//
// Returns:
//   - int: 1 if the alarm fired on this frame, 0 otherwise.
func (l *Latch) Observe(qualifying bool) int {
	if qualifying {
		l.latency += 2
	} else if l.latency > 0 {
		l.latency--
	}

	if l.latency > 2*l.count {
		l.latency = 0
		return 1
	}
	return 0
}

// Latency returns the current counter.
func (l *Latch) Latency() int { return l.latency }

// Reset clears the counter.
func (l *Latch) Reset() { l.latency = 0 }
