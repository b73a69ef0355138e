// Package sequencer simulates the branching and looping program a sequence
// describes, without driving any hardware.
package sequencer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/timzifer/pulsed/pulse"
)

// DefaultInfiniteCap bounds the plays of a step that repeats forever.
const DefaultInfiniteCap = 1000

// ErrInfiniteCap is returned by Step once an endless step reached the cap.
var ErrInfiniteCap = errors.New("infinite repetition cap reached")

// TriggerSource reports whether an external trigger line is asserted at a
// given sequencer cycle.
type TriggerSource interface {
	Asserted(line int32, cycle uint64) bool
}

// TriggerFunc adapts a function to TriggerSource.
type TriggerFunc func(line int32, cycle uint64) bool

// Asserted implements TriggerSource.
func (f TriggerFunc) Asserted(line int32, cycle uint64) bool { return f(line, cycle) }

type noTriggers struct{}

func (noTriggers) Asserted(int32, uint64) bool { return false }

// Event is one sequencer cycle: a play of the step's ensemble, or an idle
// cycle spent waiting for a trigger.
type Event struct {
	Cycle    uint64
	Step     int
	Ensemble string
	// Play counts the plays of the current step visit, starting at 0.
	Play    uint64
	Waiting bool
	// Flag is the flag line held high during the cycle, -1 for none.
	Flag   int32
	Jumped bool
	Next   int
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d step=%d ensemble=%s", e.Cycle, e.Step, e.Ensemble)
	if e.Waiting {
		b.WriteString(" waiting")
	} else {
		fmt.Fprintf(&b, " play=%d", e.Play)
	}
	if e.Flag >= 0 {
		fmt.Fprintf(&b, " flag=%d", e.Flag)
	}
	if e.Jumped {
		b.WriteString(" jumped")
	}
	if e.Next < 0 {
		b.WriteString(" next=end")
	} else {
		fmt.Fprintf(&b, " next=%d", e.Next)
	}
	return b.String()
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithInfiniteCap overrides DefaultInfiniteCap.
func WithInfiniteCap(plays uint64) Option {
	return func(s *Simulator) {
		if plays > 0 {
			s.infiniteCap = plays
		}
	}
}

// WithTriggers installs the source consulted for wait_for and event_jump_to.
func WithTriggers(src TriggerSource) Option {
	return func(s *Simulator) {
		if src != nil {
			s.triggers = src
		}
	}
}

// Simulator walks a sequence step by step.
type Simulator struct {
	name        string
	steps       []pulse.SequenceStep
	infiniteCap uint64
	triggers    TriggerSource

	cycle   uint64
	current int
	plays   uint64
	started bool
	done    bool
}

// New validates seq against limits and prepares a simulator positioned at
// step 0.
func New(seq *pulse.Sequence, limits pulse.SequenceLimits, opts ...Option) (*Simulator, error) {
	if err := seq.Validate(limits); err != nil {
		return nil, err
	}
	s := &Simulator{
		name:        seq.Name(),
		steps:       seq.Steps(),
		infiniteCap: DefaultInfiniteCap,
		triggers:    noTriggers{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Done reports whether the program ended by finishing its last step.
func (s *Simulator) Done() bool { return s.done }

// Current returns the index of the step the next cycle belongs to.
func (s *Simulator) Current() int { return s.current }

// Step executes one cycle. Calling Step after the program ended returns a
// SequenceFallthroughError.
func (s *Simulator) Step() (Event, error) {
	if s.done {
		return Event{}, &pulse.SequenceFallthroughError{Sequence: s.name, Step: len(s.steps) - 1}
	}
	step := s.steps[s.current]
	p := step.Params
	if p.Repetitions < 0 && s.plays >= s.infiniteCap {
		return Event{}, fmt.Errorf("sequence %s step %d: %w after %d plays", s.name, s.current, ErrInfiniteCap, s.plays)
	}
	ev := Event{Cycle: s.cycle, Step: s.current, Ensemble: step.Ensemble, Flag: p.FlagHigh, Next: s.current}
	s.cycle++

	if !s.started && p.WaitFor >= 0 && !s.triggers.Asserted(p.WaitFor, ev.Cycle) {
		ev.Waiting = true
		ev.Flag = -1
		return ev, nil
	}
	s.started = true
	ev.Play = s.plays
	s.plays++

	switch {
	case p.EventJumpTo >= 0 && s.triggers.Asserted(p.EventJumpTo, ev.Cycle):
		ev.Jumped = true
		ev.Next = s.successor(p)
	case p.Repetitions >= 0 && s.plays > uint64(p.Repetitions):
		ev.Next = s.successor(p)
	default:
		return ev, nil
	}
	if ev.Next < 0 {
		s.done = true
		return ev, nil
	}
	s.current = ev.Next
	s.plays = 0
	s.started = false
	return ev, nil
}

// successor returns the step following a finished or interrupted step, -1
// when the program ends.
func (s *Simulator) successor(p pulse.StepParams) int {
	if p.GoTo >= 0 {
		return int(p.GoTo)
	}
	if s.current+1 < len(s.steps) {
		return s.current + 1
	}
	return -1
}

// Trace is the record of a bounded simulation run.
type Trace struct {
	Sequence   string
	Events     []Event
	Terminated bool
	Capped     bool
}

// Visited returns the distinct step indices the run played, in first-visit order.
func (t Trace) Visited() []int {
	seen := make(map[int]bool)
	var out []int
	for _, ev := range t.Events {
		if ev.Waiting || seen[ev.Step] {
			continue
		}
		seen[ev.Step] = true
		out = append(out, ev.Step)
	}
	return out
}

// Plays counts the ensemble plays per ensemble name.
func (t Trace) Plays() map[string]uint64 {
	out := make(map[string]uint64)
	for _, ev := range t.Events {
		if !ev.Waiting {
			out[ev.Ensemble]++
		}
	}
	return out
}

func (t Trace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sequence %s\n", t.Sequence)
	for _, ev := range t.Events {
		b.WriteString(ev.String())
		b.WriteByte('\n')
	}
	switch {
	case t.Terminated:
		b.WriteString("terminated\n")
	case t.Capped:
		b.WriteString("capped\n")
	default:
		b.WriteString("running\n")
	}
	return b.String()
}

// Run executes up to maxCycles cycles. It stops early when the program ends
// or an endless step reaches the infinite cap.
func (s *Simulator) Run(maxCycles int) (Trace, error) {
	trace := Trace{Sequence: s.name}
	for i := 0; i < maxCycles && !s.done; i++ {
		ev, err := s.Step()
		if errors.Is(err, ErrInfiniteCap) {
			trace.Capped = true
			break
		}
		if err != nil {
			return trace, err
		}
		trace.Events = append(trace.Events, ev)
	}
	trace.Terminated = s.done
	return trace, nil
}
