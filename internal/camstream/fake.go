package camstream

import (
	"fmt"
	"sync"

	"github.com/fairway-data/launch.report/internal/vision"
)

// FakeBuffer is a test FrameBuffer backed by an in-memory image. It tracks
// acquire/release pairing so tests can assert the scoped-read contract.
type FakeBuffer struct {
	mu          sync.Mutex
	Img         *vision.Image
	acquired    bool
	Acquires    int
	Releases    int
	FailAcquire bool
}

// NewFakeBuffer wraps an image as a frame buffer.
func NewFakeBuffer(img *vision.Image) *FakeBuffer {
	return &FakeBuffer{Img: img}
}

func (b *FakeBuffer) Acquire() (*vision.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailAcquire {
		return nil, fmt.Errorf("buffer mapping failed")
	}
	if b.acquired {
		return nil, fmt.Errorf("buffer already acquired")
	}
	b.acquired = true
	b.Acquires++
	return b.Img, nil
}

func (b *FakeBuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired = false
	b.Releases++
}

// Balanced reports whether every acquire has been released.
func (b *FakeBuffer) Balanced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.acquired && b.Acquires == b.Releases
}

// FakeCamera replays a scripted message sequence and records control calls.
type FakeCamera struct {
	mu     sync.Mutex
	Script []Msg
	next   int

	// OnWait runs before each message is delivered; tests use it to advance
	// a mock clock in step with the script.
	OnWait func(index int)

	Starts     int
	Stops      int
	Configures int
}

func (c *FakeCamera) Start() error     { c.mu.Lock(); defer c.mu.Unlock(); c.Starts++; return nil }
func (c *FakeCamera) Stop() error      { c.mu.Lock(); defer c.mu.Unlock(); c.Stops++; return nil }
func (c *FakeCamera) Configure() error { c.mu.Lock(); defer c.mu.Unlock(); c.Configures++; return nil }

func (c *FakeCamera) Wait() Msg {
	c.mu.Lock()
	i := c.next
	c.next++
	onWait := c.OnWait
	var msg Msg
	if i < len(c.Script) {
		msg = c.Script[i]
	} else {
		msg = Msg{Type: MsgQuit}
	}
	c.mu.Unlock()

	if onWait != nil {
		onWait(i)
	}
	return msg
}
