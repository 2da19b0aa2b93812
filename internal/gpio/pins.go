// Package gpio drives the strobe and camera-trigger lines.
//
// Pins are identified by logical integer number. On non-target hardware the
// NoopPins implementation reports success for every operation so the rest of
// the pipeline can run unmodified off the Pi.
package gpio

import (
	"fmt"
	"os"
	"sync"

	"github.com/fairway-data/launch.report/internal/monitoring"
)

// Level is a digital line level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Pins abstracts a bank of output lines.
type Pins interface {
	// ClaimOutput configures pin as an output at the given initial level.
	// Claiming an already-claimed pin is an error.
	ClaimOutput(pin int, initial Level) error

	// Write sets the level of a claimed pin.
	Write(pin int, level Level) error

	// Release returns the pin to an unclaimed state.
	Release(pin int) error
}

// NoopPins is the off-target implementation: every operation succeeds and
// does nothing. Required platform behaviour for development machines.
type NoopPins struct{}

func (NoopPins) ClaimOutput(pin int, initial Level) error { return nil }
func (NoopPins) Write(pin int, level Level) error         { return nil }
func (NoopPins) Release(pin int) error                    { return nil }

// SysfsPins drives lines through the kernel's sysfs GPIO interface. It
// tracks claims so a double claim fails before touching hardware.
type SysfsPins struct {
	mu      sync.Mutex
	base    string
	claimed map[int]bool
}

// NewSysfsPins returns a driver rooted at /sys/class/gpio.
func NewSysfsPins() *SysfsPins {
	return &SysfsPins{base: "/sys/class/gpio", claimed: map[int]bool{}}
}

func (p *SysfsPins) pinPath(pin int, file string) string {
	return fmt.Sprintf("%s/gpio%d/%s", p.base, pin, file)
}

// ClaimOutput exports the pin, sets direction out, and writes the initial level.
func (p *SysfsPins) ClaimOutput(pin int, initial Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed[pin] {
		return fmt.Errorf("gpio %d already claimed", pin)
	}
	if err := os.WriteFile(p.base+"/export", []byte(fmt.Sprintf("%d", pin)), 0o200); err != nil && !os.IsExist(err) {
		return fmt.Errorf("exporting gpio %d: %w", pin, err)
	}
	if err := os.WriteFile(p.pinPath(pin, "direction"), []byte("out"), 0o644); err != nil {
		return fmt.Errorf("setting gpio %d direction: %w", pin, err)
	}
	p.claimed[pin] = true
	if err := p.writeLocked(pin, initial); err != nil {
		delete(p.claimed, pin)
		return err
	}
	return nil
}

// Write sets the level of a claimed pin.
func (p *SysfsPins) Write(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.claimed[pin] {
		return fmt.Errorf("gpio %d not claimed", pin)
	}
	return p.writeLocked(pin, level)
}

func (p *SysfsPins) writeLocked(pin int, level Level) error {
	v := "0"
	if level == High {
		v = "1"
	}
	if err := os.WriteFile(p.pinPath(pin, "value"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("writing gpio %d: %w", pin, err)
	}
	return nil
}

// Release unexports the pin.
func (p *SysfsPins) Release(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.claimed[pin] {
		return nil
	}
	delete(p.claimed, pin)
	if err := os.WriteFile(p.base+"/unexport", []byte(fmt.Sprintf("%d", pin)), 0o200); err != nil {
		monitoring.Logf("gpio: unexport of pin %d failed: %v", pin, err)
	}
	return nil
}

// RecordingPins captures every operation for tests.
type RecordingPins struct {
	mu      sync.Mutex
	Ops     []string
	claimed map[int]bool
	// FailClaims makes ClaimOutput fail, to exercise error paths.
	FailClaims bool
}

// NewRecordingPins returns an empty recorder.
func NewRecordingPins() *RecordingPins {
	return &RecordingPins{claimed: map[int]bool{}}
}

func (p *RecordingPins) ClaimOutput(pin int, initial Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailClaims {
		return fmt.Errorf("gpio %d unavailable", pin)
	}
	if p.claimed[pin] {
		return fmt.Errorf("gpio %d already claimed", pin)
	}
	p.claimed[pin] = true
	p.Ops = append(p.Ops, fmt.Sprintf("claim %d %d", pin, initial))
	return nil
}

func (p *RecordingPins) Write(pin int, level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.claimed[pin] {
		return fmt.Errorf("gpio %d not claimed", pin)
	}
	p.Ops = append(p.Ops, fmt.Sprintf("write %d %d", pin, level))
	return nil
}

func (p *RecordingPins) Release(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claimed, pin)
	p.Ops = append(p.Ops, fmt.Sprintf("release %d", pin))
	return nil
}

// Operations returns a copy of the recorded operation log.
func (p *RecordingPins) Operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Ops))
	copy(out, p.Ops)
	return out
}
