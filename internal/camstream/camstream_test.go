package camstream

import (
	"testing"

	"github.com/fairway-data/launch.report/internal/vision"
)

func TestBufferReaderScopedRead(t *testing.T) {
	img := vision.NewImage(4, 4)
	img.SetBGR(1, 1, 9, 9, 9)
	buf := NewFakeBuffer(img)

	r, err := ReadBuffer(buf)
	if err != nil {
		t.Fatal(err)
	}
	if b, _, _ := r.Image().BGRAt(1, 1); b != 9 {
		t.Error("reader did not expose buffer contents")
	}

	r.Close()
	r.Close() // idempotent
	if !buf.Balanced() {
		t.Errorf("acquire/release unbalanced: %d/%d", buf.Acquires, buf.Releases)
	}
	if r.Image() != nil {
		t.Error("image still accessible after Close")
	}
}

func TestReadBufferAcquireFailure(t *testing.T) {
	buf := NewFakeBuffer(vision.NewImage(2, 2))
	buf.FailAcquire = true
	if _, err := ReadBuffer(buf); err == nil {
		t.Fatal("expected acquire failure")
	}
}

func TestFakeCameraScriptExhaustionQuits(t *testing.T) {
	cam := &FakeCamera{Script: []Msg{{Type: MsgTimeout}}}
	if msg := cam.Wait(); msg.Type != MsgTimeout {
		t.Errorf("first message = %v", msg.Type)
	}
	if msg := cam.Wait(); msg.Type != MsgQuit {
		t.Errorf("exhausted script should deliver Quit, got %v", msg.Type)
	}
}
