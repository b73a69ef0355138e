package sequencer

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/pulsed/pulse"
)

type stepSpec struct {
	ensemble string
	reps     int32
	goTo     int32
	jump     int32
	wait     int32
	flag     int32
}

func buildSequence(t *testing.T, name string, specs ...stepSpec) *pulse.Sequence {
	t.Helper()
	steps := make([]pulse.SequenceStep, len(specs))
	for i, s := range specs {
		steps[i] = pulse.SequenceStep{Ensemble: s.ensemble, Params: pulse.StepParams{
			Repetitions: s.reps,
			GoTo:        s.goTo,
			EventJumpTo: s.jump,
			WaitFor:     s.wait,
			FlagHigh:    s.flag,
		}}
	}
	seq, err := pulse.NewSequence(name, false, steps...)
	require.NoError(t, err)
	return seq
}

func assertGolden(t *testing.T, name string, trace Trace) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(trace.String()))
}

func TestEndlessStepNeverFallsThrough(t *testing.T) {
	seq := buildSequence(t, "loop",
		stepSpec{ensemble: "E0", reps: 0, goTo: -1, jump: -1, wait: -1, flag: -1},
		stepSpec{ensemble: "E1", reps: -1, goTo: 1, jump: -1, wait: -1, flag: -1},
	)
	sim, err := New(seq, pulse.SequenceLimits{})
	require.NoError(t, err)

	trace, err := sim.Run(10)
	require.NoError(t, err)
	require.Len(t, trace.Events, 10)
	require.Equal(t, []int{0, 1}, trace.Visited())
	require.False(t, trace.Terminated)
	require.False(t, trace.Capped)
	for _, ev := range trace.Events {
		if ev.Step > 1 {
			t.Fatalf("reached step %d", ev.Step)
		}
	}
	require.Equal(t, map[string]uint64{"E0": 1, "E1": 9}, trace.Plays())
}

func TestFallthroughAfterCompletion(t *testing.T) {
	seq := buildSequence(t, "once",
		stepSpec{ensemble: "E0", reps: 1, goTo: -1, jump: -1, wait: -1, flag: -1},
	)
	sim, err := New(seq, pulse.SequenceLimits{})
	require.NoError(t, err)

	trace, err := sim.Run(10)
	require.NoError(t, err)
	require.True(t, trace.Terminated)
	require.Len(t, trace.Events, 2)
	require.Equal(t, -1, trace.Events[1].Next)

	_, err = sim.Step()
	var fall *pulse.SequenceFallthroughError
	require.ErrorAs(t, err, &fall)
	require.Equal(t, "once", fall.Sequence)
}

func TestInfiniteCap(t *testing.T) {
	seq := buildSequence(t, "forever",
		stepSpec{ensemble: "A", reps: -1, goTo: 0, jump: -1, wait: -1, flag: -1},
	)
	sim, err := New(seq, pulse.SequenceLimits{}, WithInfiniteCap(3))
	require.NoError(t, err)

	trace, err := sim.Run(10)
	require.NoError(t, err)
	require.True(t, trace.Capped)
	require.Len(t, trace.Events, 3)

	_, err = sim.Step()
	require.ErrorIs(t, err, ErrInfiniteCap)
}

func TestNewValidates(t *testing.T) {
	seq := buildSequence(t, "bad",
		stepSpec{ensemble: "A", reps: 0, goTo: -1, jump: 2, wait: -1, flag: -1},
	)
	_, err := New(seq, pulse.SequenceLimits{TriggerLines: 1})
	var invalid *pulse.InvalidStepReferenceError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "event_jump_to", invalid.Field)
}

func TestEventJumpTrace(t *testing.T) {
	seq := buildSequence(t, "jump",
		stepSpec{ensemble: "A", reps: -1, goTo: 1, jump: 0, wait: -1, flag: -1},
		stepSpec{ensemble: "B", reps: 1, goTo: 0, jump: -1, wait: -1, flag: 0},
	)
	triggers := TriggerFunc(func(line int32, cycle uint64) bool {
		return line == 0 && cycle == 2
	})
	sim, err := New(seq, pulse.SequenceLimits{TriggerLines: 1, FlagLines: 1}, WithTriggers(triggers))
	require.NoError(t, err)

	trace, err := sim.Run(7)
	require.NoError(t, err)
	assertGolden(t, "event_jump", trace)
}

func TestWaitForTrace(t *testing.T) {
	seq := buildSequence(t, "wait",
		stepSpec{ensemble: "A", reps: 0, goTo: -1, jump: -1, wait: 0, flag: -1},
		stepSpec{ensemble: "B", reps: 2, goTo: -1, jump: -1, wait: -1, flag: -1},
	)
	triggers := TriggerFunc(func(line int32, cycle uint64) bool {
		return line == 0 && cycle >= 2
	})
	sim, err := New(seq, pulse.SequenceLimits{TriggerLines: 1}, WithTriggers(triggers))
	require.NoError(t, err)

	trace, err := sim.Run(20)
	require.NoError(t, err)
	require.True(t, trace.Terminated)
	assertGolden(t, "wait_for_trigger", trace)
}
