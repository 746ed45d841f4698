package capture

import (
	"bytes"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type collector struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *collector) handle(f frame.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestPatternSourceLifecycle(t *testing.T) {
	src := NewPatternSource(32, 16, 200, 1, nil)
	var got collector

	if src.IsActive() {
		t.Fatal("source active before Start")
	}
	if err := src.Start(got.handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(got.handle); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	waitFor(t, 2*time.Second, func() bool { return got.len() >= 5 })

	src.Stop()
	if src.IsActive() {
		t.Fatal("source still active after Stop")
	}
	src.Stop() // idempotent

	n := got.len()
	time.Sleep(30 * time.Millisecond)
	if got.len() != n {
		t.Errorf("frames delivered after Stop: %d -> %d", n, got.len())
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	for i := 1; i < len(got.frames); i++ {
		if got.frames[i].CapturedAt() < got.frames[i-1].CapturedAt() {
			t.Fatalf("timestamps not monotonic at %d", i)
		}
	}
	f := got.frames[0]
	if f.Width() != 32 || f.Height() != 16 || f.StreamIndex() != 1 {
		t.Errorf("frame = %dx%d stream %d", f.Width(), f.Height(), f.StreamIndex())
	}
	if _, err := jpeg.Decode(bytes.NewReader(f.Payload())); err != nil {
		t.Errorf("payload is not a JPEG: %v", err)
	}
	if s := src.Stats(); s.Captured < 5 || s.Skipped != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestPatternSourceRestart(t *testing.T) {
	src := NewPatternSource(8, 8, 200, 0, nil)
	var got collector
	for run := 0; run < 2; run++ {
		if err := src.Start(got.handle); err != nil {
			t.Fatalf("run %d Start: %v", run, err)
		}
		target := (run + 1) * 3
		waitFor(t, 2*time.Second, func() bool { return got.len() >= target })
		src.Stop()
	}
}

func TestRenderPatternDeterministic(t *testing.T) {
	a := RenderPattern(7, 40, 20)
	b := RenderPattern(7, 40, 20)
	c := RenderPattern(8, 40, 20)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("same index rendered differently")
	}
	if bytes.Equal(a.Pix, c.Pix) {
		t.Error("different indices rendered identically")
	}
}

func TestRenderPatternTinyFrame(t *testing.T) {
	img := RenderPattern(123456, 3, 2)
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
}

func TestPacerSkipsFailedGrabs(t *testing.T) {
	p := newPacer("flaky", 500, func(i uint64) (frame.Frame, error) {
		if i%2 == 0 {
			return frame.Frame{}, errors.New("no frame")
		}
		return frame.New([]byte{1}, i, 0, 1, 1), nil
	})
	var got collector
	if err := p.Start(got.handle); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return got.len() >= 4 })
	p.Stop()

	s := p.Stats()
	if s.Skipped == 0 {
		t.Error("expected skipped frames")
	}
	got.mu.Lock()
	defer got.mu.Unlock()
	for _, f := range got.frames {
		if f.CapturedAt()%2 == 0 {
			t.Errorf("failed index %d delivered", f.CapturedAt())
		}
	}
}

func TestPacerKeepsSchedule(t *testing.T) {
	const rate = 100
	p := newPacer("timing", rate, func(i uint64) (frame.Frame, error) {
		return frame.New(nil, i, 0, 1, 1), nil
	})
	var got collector
	start := time.Now()
	if err := p.Start(got.handle); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 3*time.Second, func() bool { return got.len() >= 21 })
	elapsed := time.Since(start)
	p.Stop()

	// 21 frames are due at 0..200ms
	if elapsed < 190*time.Millisecond {
		t.Errorf("frames delivered faster than the rate: %v", elapsed)
	}
}

func TestBGRAToRGBA(t *testing.T) {
	img := bgraToRGBA([]byte{1, 2, 3, 0, 4, 5, 6, 0}, 2, 2)
	want := []byte{3, 2, 1, 255, 6, 5, 4, 255, 0, 0, 0, 255, 0, 0, 0, 255}
	if !bytes.Equal(img.Pix, want) {
		t.Errorf("Pix = %v, want %v", img.Pix, want)
	}
}

func TestNewUnknownKind(t *testing.T) {
	if _, err := New(Options{Kind: "webcam"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	src, err := New(Options{Kind: KindPattern, Width: 4, Height: 4, Rate: 30})
	if err != nil {
		t.Fatalf("New pattern: %v", err)
	}
	if src.Name() != "pattern" {
		t.Errorf("Name = %q", src.Name())
	}
}
