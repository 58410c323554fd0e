package graph

import (
	"math"
	"sync"
	"time"
)

// Strategy is how the graph view moves to a new index
type Strategy string

const (
	// StrategyJump renders only the landing index
	StrategyJump Strategy = "jump"
	// StrategyIncremental renders each intermediate index so changes animate
	StrategyIncremental Strategy = "incremental"
)

const (
	// DefaultJumpVelocity is the scrub speed, in indices per second, above which seeks jump
	DefaultJumpVelocity = 500.0
	// DefaultMaxIncrementalFrames bounds the frames rendered by one incremental seek
	DefaultMaxIncrementalFrames = 50
)

// SeekResult describes one scrub step
type SeekResult struct {
	From     int      `json:"from"`
	Index    int      `json:"index"`
	Velocity float64  `json:"velocity"`
	Strategy Strategy `json:"strategy"`
	// Frames are the indices to render in order; the last one is always Index
	Frames []int `json:"frames"`
}

// Scrubber classifies seeks by how fast the user is dragging
type Scrubber struct {
	now          func() time.Time
	jumpVelocity float64
	maxFrames    int

	mu        sync.Mutex
	hasLast   bool
	lastIndex int
	lastTime  time.Time
}

// ScrubberOption configures a Scrubber
type ScrubberOption func(*Scrubber)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) ScrubberOption {
	return func(s *Scrubber) {
		s.now = now
	}
}

// WithJumpVelocity sets the jump threshold in indices per second
func WithJumpVelocity(v float64) ScrubberOption {
	return func(s *Scrubber) {
		if v > 0 {
			s.jumpVelocity = v
		}
	}
}

// WithMaxIncrementalFrames bounds incremental frame lists
func WithMaxIncrementalFrames(n int) ScrubberOption {
	return func(s *Scrubber) {
		if n > 0 {
			s.maxFrames = n
		}
	}
}

// NewScrubber creates a scrubber using the wall clock
func NewScrubber(opts ...ScrubberOption) *Scrubber {
	s := &Scrubber{
		now:          time.Now,
		jumpVelocity: DefaultJumpVelocity,
		maxFrames:    DefaultMaxIncrementalFrames,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeekTo records a seek to index and decides how to get there.
// Velocity is |Δindex| / Δseconds since the previous seek; it is 0 for the
// first seek and +Inf when no time has elapsed.
func (s *Scrubber) SeekTo(index int) SeekResult {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	result := SeekResult{From: index, Index: index}

	if s.hasLast {
		result.From = s.lastIndex
		result.Velocity = velocity(index-s.lastIndex, now.Sub(s.lastTime))
	}

	if result.Velocity > s.jumpVelocity {
		result.Strategy = StrategyJump
		result.Frames = []int{index}
	} else {
		result.Strategy = StrategyIncremental
		result.Frames = incrementalFrames(result.From, index, s.maxFrames)
	}

	s.hasLast = true
	s.lastIndex = index
	s.lastTime = now

	return result
}

// Reset forgets the previous seek, e.g. after a job switch
func (s *Scrubber) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasLast = false
}

func velocity(deltaIndex int, elapsed time.Duration) float64 {
	distance := math.Abs(float64(deltaIndex))
	if distance == 0 {
		return 0
	}
	if elapsed <= 0 {
		return math.Inf(1)
	}
	return distance / elapsed.Seconds()
}

// incrementalFrames lists the indices after from up to and including to,
// evenly thinned to at most max entries.
func incrementalFrames(from, to, max int) []int {
	if from == to {
		return []int{to}
	}

	step := 1
	if to < from {
		step = -1
	}
	distance := (to - from) * step

	if distance <= max {
		frames := make([]int, 0, distance)
		for i := from + step; i != to+step; i += step {
			frames = append(frames, i)
		}
		return frames
	}

	frames := make([]int, 0, max)
	for k := 1; k <= max; k++ {
		frames = append(frames, from+step*(distance*k/max))
	}
	return frames
}
