// Package camstream abstracts the host camera runtime: a message queue per
// camera, frame buffers with scoped read access, and start/stop/configure
// control. The libcamera-style host framework implements these interfaces;
// tests use scripted fakes.
package camstream

import "github.com/fairway-data/launch.report/internal/vision"

// MsgType enumerates the camera runtime's message kinds.
type MsgType int

const (
	// MsgRequestComplete carries a completed frame request.
	MsgRequestComplete MsgType = iota
	// MsgTimeout means the device timed out; the loop restarts the camera.
	MsgTimeout
	// MsgQuit asks the consuming loop to exit without error.
	MsgQuit
	// MsgUnknown is anything else; consuming loops treat it as fatal.
	MsgUnknown
)

// Msg is one message from a camera's queue.
type Msg struct {
	Type   MsgType
	Buffer FrameBuffer
}

// FrameBuffer is a runtime-owned frame. The pixels are only valid between
// Acquire and Release; consumers must deep-copy anything they keep.
type FrameBuffer interface {
	// Acquire maps the buffer and returns its image view.
	Acquire() (*vision.Image, error)

	// Release unmaps the buffer and returns it to the runtime.
	Release()
}

// Camera is one camera's control surface and message queue. A camera is
// exclusively owned by its consuming loop; Wait blocks bounded by the
// device's own timeout and then delivers MsgTimeout.
type Camera interface {
	Start() error
	Stop() error

	// Configure re-applies the stream configuration; used in the
	// timeout-recovery path.
	Configure() error

	// Wait blocks for the next message.
	Wait() Msg
}

// BufferReader is a scoped read of a frame buffer. Close is idempotent and
// must run on every exit path.
type BufferReader struct {
	buf      FrameBuffer
	img      *vision.Image
	released bool
}

// ReadBuffer acquires the buffer for reading.
func ReadBuffer(buf FrameBuffer) (*BufferReader, error) {
	img, err := buf.Acquire()
	if err != nil {
		return nil, err
	}
	return &BufferReader{buf: buf, img: img}, nil
}

// Image returns the buffer's image view; valid until Close.
func (r *BufferReader) Image() *vision.Image { return r.img }

// Close releases the underlying buffer.
func (r *BufferReader) Close() {
	if r.released {
		return
	}
	r.released = true
	r.img = nil
	r.buf.Release()
}
