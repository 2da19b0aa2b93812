package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/timeutil"
)

// Pulse is a single strobe/trigger event within a train. StartOffset is
// measured from the start of the train.
type Pulse struct {
	StartOffset time.Duration
	Width       time.Duration
}

// PulseTrain is an ordered sequence of pulses. The first PrimingCount
// pulses warm the externally-triggered sensor; the camera only delivers a
// valid frame after the priming prefix has elapsed.
type PulseTrain struct {
	Pulses       []Pulse
	PrimingCount int
	PrimingFPS   int

	// ExposureBudget bounds the total train duration; it is the flight
	// camera's maximum exposure window.
	ExposureBudget time.Duration
}

// Validate enforces the train invariants: non-negative widths, strictly
// increasing start offsets, priming prefix within bounds, and a total
// duration inside the exposure budget.
func (t *PulseTrain) Validate() error {
	if len(t.Pulses) == 0 {
		return fmt.Errorf("pulse train is empty")
	}
	if t.PrimingCount < 0 || t.PrimingCount >= len(t.Pulses) {
		return fmt.Errorf("priming count %d out of range for %d pulses", t.PrimingCount, len(t.Pulses))
	}
	var prev time.Duration = -1
	for i, p := range t.Pulses {
		if p.Width < 0 {
			return fmt.Errorf("pulse %d has negative width %v", i, p.Width)
		}
		if p.StartOffset <= prev {
			return fmt.Errorf("pulse %d start offset %v not after previous %v", i, p.StartOffset, prev)
		}
		prev = p.StartOffset
	}
	if t.ExposureBudget > 0 {
		last := t.Pulses[len(t.Pulses)-1]
		if last.StartOffset+last.Width >= t.ExposureBudget {
			return fmt.Errorf("train duration %v exceeds exposure budget %v",
				last.StartOffset+last.Width, t.ExposureBudget)
		}
	}
	return nil
}

// Duration returns the time from train start to the end of the last pulse.
func (t *PulseTrain) Duration() time.Duration {
	if len(t.Pulses) == 0 {
		return 0
	}
	last := t.Pulses[len(t.Pulses)-1]
	return last.StartOffset + last.Width
}

// QuiesceTime returns the window the flight camera must absorb priming
// triggers before the real capture: (priming_count + 1) frame periods at
// the priming rate.
func (t *PulseTrain) QuiesceTime() time.Duration {
	if t.PrimingFPS <= 0 {
		return 0
	}
	periodMs := 1000 / t.PrimingFPS
	return time.Duration(t.PrimingCount+1) * time.Duration(periodMs) * time.Millisecond
}

// BuildStandardTrain constructs the usual capture train: primingCount
// pulses at primingFPS followed by pulseCount strobe flashes spaced by
// interval, each of the given width.
func BuildStandardTrain(pulseCount int, interval, width time.Duration, primingCount, primingFPS int, budget time.Duration) PulseTrain {
	train := PulseTrain{
		PrimingCount:   primingCount,
		PrimingFPS:     primingFPS,
		ExposureBudget: budget,
	}
	var offset time.Duration
	primingPeriod := time.Second
	if primingFPS > 0 {
		primingPeriod = time.Second / time.Duration(primingFPS)
	}
	for i := 0; i < primingCount; i++ {
		train.Pulses = append(train.Pulses, Pulse{StartOffset: offset, Width: width})
		offset += primingPeriod
	}
	for i := 0; i < pulseCount; i++ {
		train.Pulses = append(train.Pulses, Pulse{StartOffset: offset, Width: width})
		offset += interval
	}
	return train
}

// Generator owns the strobe and trigger pins for the duration of a train.
// Run is single-threaded: pins are claimed on entry and released on every
// exit path, so no other goroutine may write them while a train is active.
type Generator struct {
	Pins       Pins
	StrobePin  int
	TriggerPin int
	Clock      timeutil.Clock
}

// NewGenerator returns a generator using the real clock.
func NewGenerator(pins Pins, strobePin, triggerPin int) *Generator {
	return &Generator{Pins: pins, StrobePin: strobePin, TriggerPin: triggerPin, Clock: timeutil.RealClock{}}
}

// Run validates the train and drives both lines through it. The strobe and
// trigger fire together: each pulse raises both lines for its width.
func (g *Generator) Run(ctx context.Context, train PulseTrain) error {
	if err := train.Validate(); err != nil {
		return fmt.Errorf("invalid pulse train: %w", err)
	}

	if err := g.Pins.ClaimOutput(g.StrobePin, Low); err != nil {
		return fmt.Errorf("claiming strobe pin: %w", err)
	}
	defer g.Pins.Release(g.StrobePin)

	if err := g.Pins.ClaimOutput(g.TriggerPin, Low); err != nil {
		return fmt.Errorf("claiming trigger pin: %w", err)
	}
	defer g.Pins.Release(g.TriggerPin)

	start := g.Clock.Now()
	for i, p := range train.Pulses {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wait := p.StartOffset - g.Clock.Since(start); wait > 0 {
			g.Clock.Sleep(wait)
		}
		if err := g.setBoth(High); err != nil {
			return err
		}
		g.Clock.Sleep(p.Width)
		if err := g.setBoth(Low); err != nil {
			return err
		}
		monitoring.Tracef("gpio: pulse %d/%d fired", i+1, len(train.Pulses))
	}
	return nil
}

func (g *Generator) setBoth(level Level) error {
	if err := g.Pins.Write(g.StrobePin, level); err != nil {
		return fmt.Errorf("writing strobe pin: %w", err)
	}
	if err := g.Pins.Write(g.TriggerPin, level); err != nil {
		return fmt.Errorf("writing trigger pin: %w", err)
	}
	return nil
}
