package capture

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fairway-data/launch.report/internal/camstream"
	"github.com/fairway-data/launch.report/internal/timeutil"
	"github.com/fairway-data/launch.report/internal/vision"
)

func trigger() camstream.Msg {
	return camstream.Msg{Type: camstream.MsgRequestComplete}
}

func triggerWithFrame(fill uint8) (camstream.Msg, *camstream.FakeBuffer) {
	img := vision.NewImage(8, 8)
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	buf := camstream.NewFakeBuffer(img)
	return camstream.Msg{Type: camstream.MsgRequestComplete, Buffer: buf}, buf
}

func TestQuiesceTimeFormula(t *testing.T) {
	opts := Options{PrimingPulseCount: 3, PrimingFPS: 1000}
	if got := opts.QuiesceTime(); got != 4*time.Millisecond {
		t.Errorf("QuiesceTime = %v, want 4ms", got)
	}

	opts.ExternalTriggerSetup = func() error { return nil }
	opts.ExternalTriggerSetupTime = 10 * time.Millisecond
	if got := opts.QuiesceTime(); got != 14*time.Millisecond {
		t.Errorf("QuiesceTime with setup = %v, want 14ms", got)
	}
}

// Concrete quiesce scenario: priming triggers at t=0,1,2,3 ms
// are absorbed, the t=5 ms trigger advances, and after a pre-image flush
// and a final trigger+flush the returned image equals the buffer contents
// deep-copied during the final flush.
func TestFSMQuiesceScenario(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	fsm := NewFSM(Options{
		PrimingPulseCount:      3,
		PrimingFPS:             1000,
		UsePreImageSubtraction: true,
		CameraRequiresFlush:    true,
		Clock:                  clock,
	})

	// t=0: first priming trigger starts the countdown.
	if err := fsm.Step(trigger()); err != nil {
		t.Fatal(err)
	}
	if fsm.State() != StateWaitingForFirstPrimingTimeEnd {
		t.Fatalf("state = %s", fsm.State())
	}

	// t=1,2,3 ms: still quiescing.
	for i := 0; i < 3; i++ {
		clock.Advance(time.Millisecond)
		if err := fsm.Step(trigger()); err != nil {
			t.Fatal(err)
		}
		if fsm.State() != StateWaitingForFirstPrimingTimeEnd {
			t.Fatalf("after %d ms state = %s", i+1, fsm.State())
		}
	}

	// t=5 ms: past the 4 ms quiesce window, advances exactly one step.
	clock.Advance(2 * time.Millisecond)
	if err := fsm.Step(trigger()); err != nil {
		t.Fatal(err)
	}
	if fsm.State() != StateWaitingForPreImageTrigger {
		t.Fatalf("state = %s, want WaitingForPreImageTrigger", fsm.State())
	}

	// Pre-image trigger, then its flush.
	if err := fsm.Step(trigger()); err != nil {
		t.Fatal(err)
	}
	preMsg, preBuf := triggerWithFrame(50)
	if err := fsm.Step(preMsg); err != nil {
		t.Fatal(err)
	}
	if fsm.State() != StateWaitingForFinalImageTrigger {
		t.Fatalf("state = %s, want WaitingForFinalImageTrigger", fsm.State())
	}
	if fsm.PreImage() == nil {
		t.Fatal("pre-image not captured")
	}
	if !preBuf.Balanced() {
		t.Error("pre-image buffer not released")
	}

	// Final trigger, then the final flush with the strobed frame.
	if err := fsm.Step(trigger()); err != nil {
		t.Fatal(err)
	}
	finalMsg, finalBuf := triggerWithFrame(200)
	if err := fsm.Step(finalMsg); err != nil {
		t.Fatal(err)
	}
	if fsm.State() != StateFinalImageReceived {
		t.Fatalf("state = %s, want FinalImageReceived", fsm.State())
	}

	img := fsm.finalImage
	if img == nil {
		t.Fatal("no final image")
	}
	// Deep copy: mutating the runtime buffer after the flush must not
	// change the returned image.
	finalBuf.Img.Pix[0] = 0
	if img.Pix[0] != 200 {
		t.Error("final image shares storage with the runtime buffer")
	}
	if !finalBuf.Balanced() {
		t.Error("final buffer not released before return")
	}
}

// Property: any sequence of priming triggers totalling less than the
// quiesce window keeps the state non-final, and the first trigger after
// the window advances exactly one step.
func TestFSMQuiesceProperty(t *testing.T) {
	sequences := [][]time.Duration{
		{0},
		{0, 1 * time.Millisecond},
		{0, 500 * time.Microsecond, 1 * time.Millisecond, 3900 * time.Microsecond},
		{0, 3999 * time.Microsecond},
	}
	for _, seq := range sequences {
		clock := timeutil.NewMockClock(time.Unix(0, 0))
		fsm := NewFSM(Options{PrimingPulseCount: 3, PrimingFPS: 1000, CameraRequiresFlush: true, Clock: clock})

		last := time.Duration(0)
		for _, at := range seq {
			clock.Advance(at - last)
			last = at
			if err := fsm.Step(trigger()); err != nil {
				t.Fatal(err)
			}
		}
		if s := fsm.State(); s != StateWaitingForFirstPrimingTimeEnd {
			t.Fatalf("sequence %v left state %s", seq, s)
		}

		clock.Advance(4*time.Millisecond - last)
		if err := fsm.Step(trigger()); err != nil {
			t.Fatal(err)
		}
		if s := fsm.State(); s != StateWaitingForFinalImageTrigger {
			t.Fatalf("post-quiesce trigger moved to %s, want WaitingForFinalImageTrigger", s)
		}
	}
}

func TestFSMBranchWithoutFlushRequirement(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	fsm := NewFSM(Options{PrimingPulseCount: 0, PrimingFPS: 1000, Clock: clock})

	fsm.Step(trigger())
	clock.Advance(2 * time.Millisecond)
	fsm.Step(trigger())
	if fsm.State() != StateWaitingForFinalImageFlush {
		t.Errorf("state = %s, want WaitingForFinalImageFlush (no flush requirement)", fsm.State())
	}
}

func TestFSMSecondPrimingGroupGated(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	fsm := NewFSM(Options{
		PrimingPulseCount:      3,
		PrimingFPS:             1000,
		UsePreImageSubtraction: true,
		UseSecondPrimingGroup:  true,
		Clock:                  clock,
	})

	fsm.Step(trigger())
	clock.Advance(5 * time.Millisecond)
	fsm.Step(trigger()) // -> pre-image trigger
	fsm.Step(trigger()) // -> pre-image flush
	fsm.Step(trigger()) // flush -> second priming group
	if fsm.State() != StateWaitingForSecondPrimingGroup {
		t.Fatalf("state = %s, want WaitingForSecondPrimingGroup", fsm.State())
	}

	fsm.Step(trigger()) // first trigger of the second group stamps T0
	if fsm.State() != StateWaitingForSecondPrimingTimeEnd {
		t.Fatalf("state = %s", fsm.State())
	}

	// The second group quiesces in half the time (2 ms here).
	clock.Advance(1 * time.Millisecond)
	fsm.Step(trigger())
	if fsm.State() != StateWaitingForSecondPrimingTimeEnd {
		t.Error("advanced before the half quiesce elapsed")
	}
	clock.Advance(1 * time.Millisecond)
	fsm.Step(trigger())
	if fsm.State() != StateWaitingForFinalImageTrigger {
		t.Errorf("state = %s, want WaitingForFinalImageTrigger", fsm.State())
	}
}

func TestRunHappyPath(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	finalMsg, finalBuf := triggerWithFrame(99)

	cam := &camstream.FakeCamera{
		Script: []camstream.Msg{
			trigger(), // priming group start
			trigger(), // past quiesce -> final trigger wait
			trigger(), // final image trigger
			finalMsg,  // final flush
		},
		OnWait: func(i int) {
			if i == 1 {
				clock.Advance(5 * time.Millisecond)
			}
		},
	}

	fsm := NewFSM(Options{
		PrimingPulseCount:   3,
		PrimingFPS:          1000,
		CameraRequiresFlush: true,
		Clock:               clock,
	})

	img, err := fsm.Run(cam)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if img == nil || img.Pix[0] != 99 {
		t.Fatal("wrong final image")
	}
	if cam.Stops == 0 {
		t.Error("camera not stopped after final image")
	}
	if !finalBuf.Balanced() {
		t.Error("buffer leak")
	}
}

func TestRunTimeoutRecovery(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	cam := &camstream.FakeCamera{
		Script: []camstream.Msg{
			{Type: camstream.MsgTimeout},
			{Type: camstream.MsgQuit},
		},
	}
	fsm := NewFSM(Options{PrimingPulseCount: 1, PrimingFPS: 1000, Clock: clock})

	img, err := fsm.Run(cam)
	if err != nil || img != nil {
		t.Fatalf("Run = (%v, %v)", img, err)
	}
	if cam.Stops != 1 || cam.Configures != 1 || cam.Starts != 1 {
		t.Errorf("timeout recovery cycle = stop %d / configure %d / start %d", cam.Stops, cam.Configures, cam.Starts)
	}
	// A timeout never advances the state machine.
	if fsm.State() != StateWaitingForFirstPrimingGroup {
		t.Errorf("state after timeout = %s", fsm.State())
	}
}

func TestRunQuitAbortsWithoutError(t *testing.T) {
	cam := &camstream.FakeCamera{Script: []camstream.Msg{{Type: camstream.MsgQuit}}}
	fsm := NewFSM(Options{PrimingPulseCount: 1, PrimingFPS: 1000})

	img, err := fsm.Run(cam)
	if err != nil || img != nil {
		t.Errorf("Run = (%v, %v), want (nil, nil)", img, err)
	}
}

func TestRunUnknownMessageFatal(t *testing.T) {
	cam := &camstream.FakeCamera{Script: []camstream.Msg{{Type: camstream.MsgUnknown}}}
	fsm := NewFSM(Options{PrimingPulseCount: 1, PrimingFPS: 1000})

	if _, err := fsm.Run(cam); err == nil {
		t.Fatal("unknown message should be fatal")
	}
}

func TestRunRespectsRunningFlag(t *testing.T) {
	var running atomic.Bool // false
	cam := &camstream.FakeCamera{Script: []camstream.Msg{trigger()}}
	fsm := NewFSM(Options{PrimingPulseCount: 1, PrimingFPS: 1000, Running: &running})

	if _, err := fsm.Run(cam); err != ErrAborted {
		t.Errorf("err = %v, want ErrAborted", err)
	}
}

func TestExternalTriggerSetupRearmedOnce(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	calls := 0
	fsm := NewFSM(Options{
		PrimingPulseCount:    1,
		PrimingFPS:           1000,
		ExternalTriggerSetup: func() error { calls++; return nil },
		Clock:                clock,
	})

	fsm.Step(trigger()) // first priming trigger re-arms
	if calls != 1 {
		t.Errorf("setup calls after first trigger = %d, want 1", calls)
	}
	clock.Advance(20 * time.Millisecond)
	fsm.Step(trigger())
	fsm.Step(trigger())
	if calls != 1 {
		t.Errorf("setup re-armed more than once: %d", calls)
	}
}
