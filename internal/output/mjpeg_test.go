package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/buffer"
	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWriteFrameRequiresStart(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 4, Height: 4, FPS: 15})
	if err := m.WriteFrame(frame.New([]byte{1}, 1, 0, 4, 4)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("second Start succeeded")
	}
	if err := m.WriteFrame(frame.New([]byte{1}, 1, 0, 4, 4)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	m.Stop()
	if m.IsRunning() {
		t.Fatal("still running after Stop")
	}
}

func TestStreamDeliversPayload(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 4, Height: 4, FPS: 15})
	m.Start()
	defer m.Stop()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}
	waitFor(t, func() bool { return m.ClientCount() == 1 })

	payload := []byte("\xff\xd8jpeg-bytes\xff\xd9")
	if err := m.WriteFrame(frame.New(payload, 7, 0, 4, 4)); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != "--frame\r\n" {
		t.Fatalf("boundary = %q, %v", line, err)
	}
	// part headers end with a blank line
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if line == "\r\n" {
			break
		}
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestStreamUnavailableWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatsHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 8, Height: 6, FPS: 15})
	m.Start()
	defer m.Stop()
	m.WriteFrame(frame.New([]byte{1}, 1, 0, 8, 6))
	m.WriteFrame(frame.New([]byte{2}, 2, 0, 8, 6))

	rec := httptest.NewRecorder()
	m.StatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream/stats", nil))

	var st StreamStats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Running || st.Frames != 2 || st.Width != 8 || st.Height != 6 || st.Clients != 0 {
		t.Errorf("stats = %+v", st)
	}
}

// recordingOutput collects written timestamps.
type recordingOutput struct {
	mu  sync.Mutex
	got []uint64
}

func (r *recordingOutput) Start() error    { return nil }
func (r *recordingOutput) Stop() error     { return nil }
func (r *recordingOutput) Name() string    { return "recording" }
func (r *recordingOutput) IsRunning() bool { return true }
func (r *recordingOutput) WriteFrame(f frame.Frame) error {
	r.mu.Lock()
	r.got = append(r.got, f.CapturedAt())
	r.mu.Unlock()
	return nil
}

func (r *recordingOutput) written() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.got...)
}

func TestPumpWritesEachFrameOnce(t *testing.T) {
	w := buffer.NewWindow(4)
	out := &recordingOutput{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Pump(ctx, w, out, 200)
		close(done)
	}()

	w.Push(frame.New([]byte{1}, 1, 0, 1, 1))
	waitFor(t, func() bool { return len(out.written()) == 1 })
	// several ticks with no new frame
	time.Sleep(30 * time.Millisecond)
	if n := len(out.written()); n != 1 {
		t.Fatalf("stale frame written %d times", n)
	}

	w.Push(frame.New([]byte{2}, 2, 0, 1, 1))
	waitFor(t, func() bool { return len(out.written()) == 2 })

	cancel()
	<-done
	if got := out.written(); got[0] != 1 || got[1] != 2 {
		t.Errorf("written = %v", got)
	}
}
