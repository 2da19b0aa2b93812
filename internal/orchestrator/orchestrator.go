// Package orchestrator binds the shot pipeline: motion watch, strobed
// flight capture, ball detection, kinematics, trajectory and publishing.
package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairway-data/launch.report/internal/config"
	"github.com/fairway-data/launch.report/internal/kinematics"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/neural"
	"github.com/fairway-data/launch.report/internal/trajectory"
	"github.com/fairway-data/launch.report/internal/vision"
	"github.com/fairway-data/launch.report/internal/webapi"
)

// State is the orchestrator's pipeline state.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateTriggered
	StateAnalysing
	StatePublishing
	StateFaulted
)

// String names the state for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWatching:
		return "Watching"
	case StateTriggered:
		return "Triggered"
	case StateAnalysing:
		return "Analysing"
	case StatePublishing:
		return "Publishing"
	case StateFaulted:
		return "Faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrDetectionMiss is returned when the strobed frame yields fewer than two
// usable ball positions. Retried up to the configured failure budget.
var ErrDetectionMiss = errors.New("too few balls in strobed frame")

// MotionWatcher is the motion-watch stage (package watcher in production).
type MotionWatcher interface {
	Watch() (bool, error)
}

// FlightCapturer obtains the strobed frame (strobe train + capture FSM in
// production). A (nil, nil) return is a clean abort.
type FlightCapturer interface {
	Capture() (*vision.Image, error)
}

// NeuralDetector is the external-detector surface used when config selects
// the neural path.
type NeuralDetector interface {
	Detect(im *vision.Image) ([]neural.Detection, neural.PerformanceMetrics, error)
}

// ShotResult is the published outcome of one shot.
type ShotResult struct {
	Launch     kinematics.LaunchResult
	Trajectory trajectory.Result
	Balls      []vision.Ball
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	Config     *config.Store
	Watcher    MotionWatcher
	Capturer   FlightCapturer
	Classical  *vision.Detector
	Neural     NeuralDetector
	Solver     *kinematics.Solver
	Trajectory *trajectory.Calculator
	Web        *webapi.Client

	// Running is the process-wide cancellation flag.
	Running *atomic.Bool

	mu    sync.Mutex
	state State
}

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	monitoring.Tracef("orchestrator: -> %s", s)
}

// interFlashInterval reads the strobe spacing used as the solver's delta-t.
func (o *Orchestrator) interFlashInterval() time.Duration {
	us := o.Config.GetInt("gs_config.strobing.kInterFlashIntervalMicroseconds", 1000)
	return time.Duration(us) * time.Microsecond
}

// useNeural reports whether config selects the external detector.
func (o *Orchestrator) useNeural() bool {
	return o.Config.GetString("gs_config.ball_identification.kDetectionMethod", "hough") == "neural" &&
		o.Neural != nil
}

// RunOnce executes one full shot cycle: wait for motion, capture the
// strobed frame, analyse, publish. Returns (nil, nil) on a clean stop.
func (o *Orchestrator) RunOnce() (*ShotResult, error) {
	o.setState(StateWatching)
	moved, err := o.Watcher.Watch()
	if err != nil {
		o.setState(StateFaulted)
		return nil, fmt.Errorf("motion watcher: %w", err)
	}
	if !moved {
		o.setState(StateIdle)
		return nil, nil
	}

	o.setState(StateTriggered)
	frame, err := o.Capturer.Capture()
	if err != nil {
		o.setState(StateFaulted)
		return nil, fmt.Errorf("flight capture: %w", err)
	}
	if frame == nil {
		o.setState(StateIdle)
		return nil, nil
	}

	o.setState(StateAnalysing)
	balls, err := o.detectBalls(frame)
	if err != nil {
		o.setState(StateWatching)
		return nil, err
	}

	launch := o.Solver.Solve(balls[0], balls[1], o.interFlashInterval(), frame)
	if !launch.OK {
		o.setState(StateWatching)
		return nil, fmt.Errorf("%w: %s", ErrDetectionMiss, launch.Err)
	}

	traj := o.Trajectory.Carry(trajectory.LaunchInput{
		SpeedMPH:            launch.SpeedMPH,
		VerticalLaunchDeg:   launch.VerticalLaunchDeg,
		HorizontalLaunchDeg: launch.HorizontalLaunchDeg,
		BackspinRPM:         launch.Spin.BackspinRPM,
		SidespinRPM:         launch.Spin.SidespinRPM,
	})
	if !traj.OK {
		monitoring.Logf("orchestrator: trajectory unavailable: %s", traj.Err)
	}

	result := &ShotResult{Launch: launch, Trajectory: traj, Balls: balls}

	o.setState(StatePublishing)
	if o.Web != nil {
		o.Web.PublishShot(map[string]interface{}{
			"speed_mph":      launch.SpeedMPH,
			"vla_deg":        launch.VerticalLaunchDeg,
			"hla_deg":        launch.HorizontalLaunchDeg,
			"backspin_rpm":   launch.Spin.BackspinRPM,
			"sidespin_rpm":   launch.Spin.SidespinRPM,
			"carry_yards":    traj.CarryYards,
			"apex_yards":     traj.MaxHeightYards,
			"flight_seconds": traj.FlightTimeSeconds,
		})
	}

	o.setState(StateIdle)
	return result, nil
}

// detectBalls finds the two strobed ball instances to solve against, via
// whichever detector config selects.
func (o *Orchestrator) detectBalls(frame *vision.Image) ([]vision.Ball, error) {
	var balls []vision.Ball

	if o.useNeural() {
		detections, _, err := o.Neural.Detect(frame)
		if err != nil {
			return nil, fmt.Errorf("neural detection: %w", err)
		}
		for _, d := range detections {
			balls = append(balls, vision.Ball{
				CX:         d.Box.X + d.Box.W/2,
				CY:         d.Box.Y + d.Box.H/2,
				RadiusPx:   (d.Box.W + d.Box.H) / 4,
				Confidence: d.Confidence,
			})
		}
	} else {
		found, err := o.Classical.Detect(frame, vision.SearchStrobed, nil)
		if err != nil && !errors.Is(err, vision.ErrNoBallFound) {
			return nil, fmt.Errorf("classical detection: %w", err)
		}
		balls = found
	}

	if len(balls) < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrDetectionMiss, len(balls))
	}

	// Keep the two strongest candidates, ordered along the flight path.
	balls = balls[:2]
	sort.Slice(balls, func(i, j int) bool { return balls[i].CX < balls[j].CX })
	return balls, nil
}

// Run loops shot cycles until the running flag drops. Detection misses are
// retried up to the configured budget before being surfaced in the log;
// watcher or capture faults end the loop.
func (o *Orchestrator) Run() error {
	misses := 0
	tolerable := o.Config.GetInt("gs_config.calibration.kNumberOfCalibrationFailuresToTolerate", 2)

	for o.Running == nil || o.Running.Load() {
		result, err := o.RunOnce()
		switch {
		case errors.Is(err, ErrDetectionMiss):
			misses++
			monitoring.Logf("orchestrator: detection miss %d/%d: %v", misses, tolerable, err)
			if misses > tolerable {
				monitoring.Logf("orchestrator: giving up on this shot")
				misses = 0
			}
			continue
		case err != nil:
			return err
		case result == nil:
			// Clean stop or abort.
			return nil
		}
		misses = 0
		monitoring.Logf("orchestrator: shot published: %.1f mph, %.1f deg, carry %.1f yd",
			result.Launch.SpeedMPH, result.Launch.VerticalLaunchDeg, result.Trajectory.CarryYards)
	}
	return nil
}
