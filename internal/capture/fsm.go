// Package capture obtains the strobed in-flight frame from the externally
// triggered flight camera.
//
// The camera's trigger source is the same pulse train that lights the ball.
// The sensor needs several priming triggers before it produces valid frames,
// and some models emit an extra frame per trigger that must be flushed; the
// state machine below absorbs the priming prefix, optionally captures a
// pre-image for subtraction, and deep-copies the final strobed frame.
package capture

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fairway-data/launch.report/internal/camstream"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/timeutil"
	"github.com/fairway-data/launch.report/internal/vision"
)

// State is the flight-camera acquisition state.
type State int

const (
	StateUninitialised State = iota
	StateWaitingForFirstPrimingGroup
	StateWaitingForFirstPrimingTimeEnd
	StateWaitingForPreImageTrigger
	StateWaitingForPreImageFlush
	StateWaitingForSecondPrimingGroup
	StateWaitingForSecondPrimingTimeEnd
	StateWaitingForFinalImageTrigger
	StateWaitingForFinalImageFlush
	StateFinalImageReceived
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "Uninitialised"
	case StateWaitingForFirstPrimingGroup:
		return "WaitingForFirstPrimingGroup"
	case StateWaitingForFirstPrimingTimeEnd:
		return "WaitingForFirstPrimingTimeEnd"
	case StateWaitingForPreImageTrigger:
		return "WaitingForPreImageTrigger"
	case StateWaitingForPreImageFlush:
		return "WaitingForPreImageFlush"
	case StateWaitingForSecondPrimingGroup:
		return "WaitingForSecondPrimingGroup"
	case StateWaitingForSecondPrimingTimeEnd:
		return "WaitingForSecondPrimingTimeEnd"
	case StateWaitingForFinalImageTrigger:
		return "WaitingForFinalImageTrigger"
	case StateWaitingForFinalImageFlush:
		return "WaitingForFinalImageFlush"
	case StateFinalImageReceived:
		return "FinalImageReceived"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrAborted is returned when the process-wide running flag drops mid-capture.
var ErrAborted = errors.New("capture aborted")

// Options configures one capture run.
type Options struct {
	PrimingPulseCount int
	PrimingFPS        int

	// ExternalTriggerSetup, when non-nil, is invoked once before the loop
	// and re-armed on the first priming trigger. Sensors that need a
	// trigger-mode command after camera start use this hook.
	ExternalTriggerSetup func() error

	// ExternalTriggerSetupTime is added to the quiesce window when the
	// setup hook is present.
	ExternalTriggerSetupTime time.Duration

	// UsePreImageSubtraction routes through the pre-image states.
	UsePreImageSubtraction bool

	// CameraRequiresFlush is set for sensors that emit an extra frame per
	// trigger.
	CameraRequiresFlush bool

	// UseSecondPrimingGroup enables the second priming group between the
	// pre-image flush and the final trigger. Off by default.
	UseSecondPrimingGroup bool

	Clock   timeutil.Clock
	Running *atomic.Bool
}

// QuiesceTime returns the window allotted to absorb priming triggers:
// (priming_pulse_count + 1) frame periods, plus the external-trigger setup
// allowance when that hook is configured.
func (o *Options) QuiesceTime() time.Duration {
	if o.PrimingFPS <= 0 {
		return 0
	}
	periodMs := 1000 / o.PrimingFPS
	q := time.Duration(o.PrimingPulseCount+1) * time.Duration(periodMs) * time.Millisecond
	if o.ExternalTriggerSetup != nil {
		q += o.ExternalTriggerSetupTime
	}
	return q
}

// FSM is the flight-capture state machine. Create with NewFSM, feed it
// through Run (or Step in tests).
type FSM struct {
	opts  Options
	clock timeutil.Clock

	state          State
	firstTriggerAt time.Time
	triggerArmed   bool

	preImage   *vision.Image
	finalImage *vision.Image
}

// NewFSM builds the machine in its initial waiting state.
func NewFSM(opts Options) *FSM {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FSM{opts: opts, clock: clock, state: StateWaitingForFirstPrimingGroup}
}

// State returns the current state.
func (f *FSM) State() State { return f.state }

// PreImage returns the captured pre-subtraction image, if any.
func (f *FSM) PreImage() *vision.Image { return f.preImage }

// Run drives the machine over the camera's message queue until the final
// image is received. The returned image is a deep copy; every runtime
// buffer is released before return. A Quit message aborts with (nil, nil).
func (f *FSM) Run(cam camstream.Camera) (*vision.Image, error) {
	if f.opts.ExternalTriggerSetup != nil {
		if err := f.opts.ExternalTriggerSetup(); err != nil {
			monitoring.Logf("capture: external trigger setup failed: %v", err)
		}
	}

	for f.state != StateFinalImageReceived {
		if f.opts.Running != nil && !f.opts.Running.Load() {
			return nil, ErrAborted
		}

		msg := cam.Wait()
		switch msg.Type {
		case camstream.MsgTimeout:
			monitoring.Logf("capture: device timeout, restarting flight camera")
			cam.Stop()
			cam.Configure()
			cam.Start()
			continue

		case camstream.MsgQuit:
			monitoring.Tracef("capture: quit message received")
			return nil, nil

		case camstream.MsgRequestComplete:
			if err := f.Step(msg); err != nil {
				cam.Stop()
				return nil, err
			}
			if f.state == StateFinalImageReceived {
				cam.Stop()
			}

		default:
			cam.Stop()
			return nil, fmt.Errorf("unrecognised camera message type %d", msg.Type)
		}
	}
	return f.finalImage, nil
}

// Step advances the machine on one completed trigger request. Exported so
// tests can drive the transition table directly.
func (f *FSM) Step(msg camstream.Msg) error {
	monitoring.Tracef("capture: trigger in state %s", f.state)

	switch f.state {
	case StateWaitingForFirstPrimingGroup:
		// First priming trigger: stamp T0 and start absorbing the group.
		f.firstTriggerAt = f.clock.Now()
		if !f.triggerArmed && f.opts.ExternalTriggerSetup != nil {
			f.triggerArmed = true
			if err := f.opts.ExternalTriggerSetup(); err != nil {
				monitoring.Logf("capture: external trigger re-arm failed: %v", err)
			}
		}
		f.state = StateWaitingForFirstPrimingTimeEnd

	case StateWaitingForFirstPrimingTimeEnd:
		elapsed := f.clock.Since(f.firstTriggerAt)
		quiesce := f.opts.QuiesceTime()
		if elapsed < quiesce {
			monitoring.Tracef("capture: still quiescing (%v < %v)", elapsed, quiesce)
			break
		}
		switch {
		case f.opts.UsePreImageSubtraction:
			f.state = StateWaitingForPreImageTrigger
		case f.opts.CameraRequiresFlush:
			f.state = StateWaitingForFinalImageTrigger
		default:
			f.state = StateWaitingForFinalImageFlush
		}

	case StateWaitingForPreImageTrigger:
		f.state = StateWaitingForPreImageFlush

	case StateWaitingForPreImageFlush:
		if msg.Buffer != nil {
			img, err := copyFrame(msg.Buffer)
			if err != nil {
				return fmt.Errorf("reading pre-image: %w", err)
			}
			f.preImage = img
		}
		if f.opts.UseSecondPrimingGroup {
			f.state = StateWaitingForSecondPrimingGroup
		} else {
			f.state = StateWaitingForFinalImageTrigger
		}

	case StateWaitingForSecondPrimingGroup:
		f.firstTriggerAt = f.clock.Now()
		f.state = StateWaitingForSecondPrimingTimeEnd

	case StateWaitingForSecondPrimingTimeEnd:
		// The second group settles in half the time of the first.
		if f.clock.Since(f.firstTriggerAt) < f.opts.QuiesceTime()/2 {
			break
		}
		f.state = StateWaitingForFinalImageTrigger

	case StateWaitingForFinalImageTrigger:
		// The image lands with the next (flush) trigger.
		f.state = StateWaitingForFinalImageFlush

	case StateWaitingForFinalImageFlush:
		if msg.Buffer == nil {
			return fmt.Errorf("final flush delivered no buffer")
		}
		img, err := copyFrame(msg.Buffer)
		if err != nil {
			return fmt.Errorf("reading final image: %w", err)
		}
		f.finalImage = img
		f.state = StateFinalImageReceived

	default:
		return fmt.Errorf("invalid state transition from %s", f.state)
	}
	return nil
}

// copyFrame deep-copies a frame under a scoped buffer read; the runtime
// buffer is released before return on every path.
func copyFrame(buf camstream.FrameBuffer) (*vision.Image, error) {
	r, err := camstream.ReadBuffer(buf)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Image().Clone(), nil
}
