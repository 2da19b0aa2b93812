// Package watcher consumes the monitoring camera's low-resolution stream
// and emits a single "ball moved" event. The watcher is strictly
// single-consumer; once motion is seen it tears down its encoder and camera
// and returns control to the orchestrator.
package watcher

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/fairway-data/launch.report/internal/camstream"
	"github.com/fairway-data/launch.report/internal/monitoring"
	"github.com/fairway-data/launch.report/internal/vision"
)

// Encoder is the video encoder attached to the monitoring stream. The
// watcher owns its lifecycle.
type Encoder interface {
	Stop() error
}

// MotionPolicy decides whether a frame shows motion relative to recent
// history. Implementations are stateful and single-consumer.
type MotionPolicy interface {
	Moved(frame *vision.Image) bool
}

// DiffPolicy flags motion when the fraction of pixels whose luma changed by
// more than PixelThreshold exceeds MovedFraction, compared to the previous
// frame.
type DiffPolicy struct {
	PixelThreshold float64
	MovedFraction  float64
	reference      []uint8
	refW, refH     int
}

// NewDiffPolicy builds the policy from its two thresholds.
func NewDiffPolicy(pixelThreshold, movedFraction float64) *DiffPolicy {
	return &DiffPolicy{PixelThreshold: pixelThreshold, MovedFraction: movedFraction}
}

// Moved compares frame against the rolling reference, then adopts the frame
// as the new reference.
func (p *DiffPolicy) Moved(frame *vision.Image) bool {
	gray := frame.Gray()
	defer func() {
		p.reference = gray
		p.refW, p.refH = frame.Width, frame.Height
	}()

	if p.reference == nil || p.refW != frame.Width || p.refH != frame.Height {
		return false
	}

	changed := 0
	for i := range gray {
		if math.Abs(float64(gray[i])-float64(p.reference[i])) > p.PixelThreshold {
			changed++
		}
	}
	return float64(changed)/float64(len(gray)) > p.MovedFraction
}

// Watcher runs the motion loop on the monitoring camera.
type Watcher struct {
	Camera  camstream.Camera
	Encoder Encoder
	Policy  MotionPolicy

	// Running is the process-wide cancellation flag, polled at every loop
	// head.
	Running *atomic.Bool
}

// Watch blocks until motion is detected (true), the camera delivers Quit or
// the running flag drops (false), or a fatal error occurs. On every return
// path the camera is stopped and the encoder torn down.
func (w *Watcher) Watch() (bool, error) {
	if err := w.Camera.Start(); err != nil {
		return false, fmt.Errorf("starting monitoring camera: %w", err)
	}
	defer w.teardown()

	for {
		if w.Running != nil && !w.Running.Load() {
			return false, nil
		}

		msg := w.Camera.Wait()
		switch msg.Type {
		case camstream.MsgTimeout:
			monitoring.Logf("watcher: device timeout, restarting camera")
			w.Camera.Stop()
			w.Camera.Start()
			continue

		case camstream.MsgQuit:
			return false, nil

		case camstream.MsgRequestComplete:
			moved, err := w.processFrame(msg.Buffer)
			if err != nil {
				monitoring.Logf("watcher: %v", err)
				continue
			}
			if moved {
				monitoring.Tracef("watcher: motion detected")
				return true, nil
			}

		default:
			return false, fmt.Errorf("unrecognised camera message type %d", msg.Type)
		}
	}
}

// processFrame reads the frame under a scoped buffer read and runs the
// motion policy on it.
func (w *Watcher) processFrame(buf camstream.FrameBuffer) (bool, error) {
	if buf == nil {
		return false, fmt.Errorf("request completed with no buffer")
	}
	r, err := camstream.ReadBuffer(buf)
	if err != nil {
		return false, fmt.Errorf("reading frame buffer: %w", err)
	}
	defer r.Close()
	return w.Policy.Moved(r.Image()), nil
}

func (w *Watcher) teardown() {
	w.Camera.Stop()
	if w.Encoder != nil {
		if err := w.Encoder.Stop(); err != nil {
			monitoring.Logf("watcher: encoder stop failed: %v", err)
		}
	}
}
