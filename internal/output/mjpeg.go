package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/ShadowReplay/internal/frame"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
)

// ErrNotRunning is returned by WriteFrame before Start or after Stop.
var ErrNotRunning = errors.New("MJPEG output not running")

// MJPEGOutput streams frames as Motion JPEG over HTTP. Frame payloads are
// forwarded as-is, so the preview costs no extra encoding.
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	current    []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	dropped    uint64
	startTime  time.Time
}

// StreamStats is the JSON body served by StatsHandler.
type StreamStats struct {
	Running    bool      `json:"running"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	TargetFPS  int       `json:"target_fps"`
	ActualFPS  float64   `json:"actual_fps"`
	Frames     uint64    `json:"frames"`
	Dropped    uint64    `json:"dropped"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update,omitzero"`
	UptimeSecs float64   `json:"uptime_seconds"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output live. The HTTP handler is mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0
	m.dropped = 0

	logger.WithComponent("preview").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	// ends every open stream handler
	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("preview").Info().
		Uint64("frames", m.frameCount).
		Uint64("dropped", m.dropped).
		Msg("MJPEG output stopped")
	return nil
}

// WriteFrame sends a frame to all connected clients
func (m *MJPEGOutput) WriteFrame(f frame.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}

	data := f.Payload()

	m.frameMu.Lock()
	m.current = data
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount++

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
			// slow client
			m.dropped++
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// ClientCount is the number of connected stream viewers.
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// Handler serves the multipart stream. Mount it at /stream.
func (m *MJPEGOutput) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, ErrNotRunning.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("preview")
		log.Info().Int("clients", clientCount).Msg("Stream client connected")

		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Stream client disconnected")
		}()

		// a new viewer sees the latest frame immediately
		m.frameMu.RLock()
		first := m.current
		m.frameMu.RUnlock()
		if first != nil {
			if err := writePart(w, first); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, data); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Stats reports the current stream counters.
func (m *MJPEGOutput) Stats() StreamStats {
	m.mu.RLock()
	st := StreamStats{
		Running:   m.running,
		Width:     m.config.Width,
		Height:    m.config.Height,
		TargetFPS: m.config.FPS,
		Frames:    m.frameCount,
		Dropped:   m.dropped,
	}
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	st.LastUpdate = m.lastUpdate
	m.frameMu.RUnlock()

	st.Clients = m.ClientCount()

	if st.Running && !startTime.IsZero() {
		elapsed := time.Since(startTime).Seconds()
		st.UptimeSecs = elapsed
		if elapsed > 0 {
			st.ActualFPS = float64(st.Frames) / elapsed
		}
	}
	return st
}

// StatsHandler serves Stats as JSON.
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}

// ViewerHandler serves a bare page that shows the stream full-window.
func (m *MJPEGOutput) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>ShadowReplay</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { background: #000; overflow: hidden; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        img { width: 100vw; height: 100vh; object-fit: contain; display: block; background: #000; }
        .save { position: fixed; bottom: 24px; right: 24px; padding: 12px 18px; border: none; border-radius: 20px;
                background: rgba(70, 130, 180, 0.9); color: #fff; font-family: system-ui, sans-serif; cursor: pointer; }
        .save.busy { background: rgba(120, 120, 120, 0.9); }
    </style>
</head>
<body>
    <img src="/stream" alt="ShadowReplay live preview">
    <button class="save" id="save" onclick="save()">Save replay</button>
    <script>
        function save() {
            const btn = document.getElementById('save');
            fetch('/api/save', { method: 'POST' }).then(r => {
                btn.classList.toggle('busy', r.status === 409);
                setTimeout(() => btn.classList.remove('busy'), 1000);
            }).catch(console.error);
        }
    </script>
</body>
</html>`
