package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/ShadowReplay/internal/api"
	"github.com/bryanchriswhite/ShadowReplay/internal/capture"
	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
	"github.com/bryanchriswhite/ShadowReplay/internal/config"
	"github.com/bryanchriswhite/ShadowReplay/internal/export"
	"github.com/bryanchriswhite/ShadowReplay/internal/input"
	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
	"github.com/bryanchriswhite/ShadowReplay/internal/notify"
	"github.com/bryanchriswhite/ShadowReplay/internal/output"
	"github.com/bryanchriswhite/ShadowReplay/internal/overlay"
	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ShadowReplay recorder",
	Long: `Start capturing into the replay window and serve the HTTP API.

Controller samples posted to /api/input drive the save trigger. Saves can
also be requested from the API, the preview page or MQTT.`,
	Example: `  # Start with the default pattern source on port 8080
  shadowreplay serve

  # Start on a custom port
  shadowreplay serve --port 9090

  # Start with debug logging
  shadowreplay serve --log-level debug`,
	RunE: runServe,
}

var noCapture bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&noCapture, "no-capture", false, "start without capturing (use /api/recording/start)")
}

// sourceTracker builds sources from current config and closes them on exit.
type sourceTracker struct {
	configMgr *config.Manager
	mu        sync.Mutex
	opened    []capture.Source
}

func (t *sourceTracker) New() (capture.Source, error) {
	src, err := capture.New(t.configMgr.Get().CaptureOptions())
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.opened = append(t.opened, src)
	t.mu.Unlock()
	return src, nil
}

func (t *sourceTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, src := range t.opened {
		src.Stop()
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
	}
	t.opened = nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration in %s:\n%w", configMgr.GetConfigPath(), err)
	}

	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Int("buffer_frames", cfg.BufferFrameCount()).
		Float64("buffer_mb", cfg.EstimatedMemoryMB()).
		Msg("ShadowReplay starting")

	store, err := clipstore.NewStore(cfg.Output.Directory)
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := replay.New(cfg.Replay(), store)
	if err != nil {
		return err
	}
	orch.OnSave(playHaptic)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources := &sourceTracker{configMgr: configMgr}
	defer sources.Close()

	if cfg.Capture.AutoStart && !noCapture {
		src, err := sources.New()
		if err != nil {
			return fmt.Errorf("failed to create capture source: %w", err)
		}
		if err := orch.StartCapture(src); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
	}

	preview := output.NewMJPEGOutput(output.Config{
		Width:  cfg.Capture.Width,
		Height: cfg.Capture.Height,
		FPS:    cfg.Preview.FPS,
	})
	if err := preview.Start(); err != nil {
		return err
	}
	defer preview.Stop()

	var previewSink output.Output = preview
	if cfg.Preview.Overlay {
		badges := overlay.NewManager(cfg.Capture.JPEGQuality)
		if err := badges.AddWidget(overlay.NewStatusBadge(orch.Status)); err != nil {
			return err
		}
		previewSink = overlay.Wrap(preview, badges)
	}
	go output.Pump(ctx, orch.Window(), previewSink, cfg.Preview.FPS)

	if cfg.MQTT.Broker != "" {
		notifier := notify.New(notify.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
		}, orch)
		if err := notifier.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("MQTT unavailable, continuing without notifications")
		} else {
			notifier.Attach(ctx, orch)
			defer notifier.Disconnect()
		}
	}

	configMgr.OnChange(func(c *config.Config) {
		rc := c.Replay()
		orch.Reconfigure(rc.Combo, rc.Threshold, rc.Cooldown)
		logger.SetLevel(c.LogLevel)
	})

	server, err := api.NewServer(api.Deps{
		Replay: orch,
		Store:  store,
		Exporter: export.New(export.Options{
			FFmpegPath: cfg.Export.FFmpegPath,
			Preset:     cfg.Export.Preset,
			CRF:        cfg.Export.CRF,
		}),
		Preview:   preview,
		Config:    configMgr,
		NewSource: sources.New,
	})
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	fmt.Println()
	fmt.Println("✅ ShadowReplay is running!")
	fmt.Printf("   - Preview: http://localhost:%d\n", cfg.ServerPort)
	fmt.Printf("   - API: http://localhost:%d/api\n", cfg.ServerPort)
	fmt.Printf("   - Clips: %s\n", store.Dir())
	fmt.Println("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			orch.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("save still in progress after %s", shutdownTimeout)
		}
		return err
	}
	return nil
}

// playHaptic reports the feedback pulse for a finished save. No controller
// driver is attached, so the pulse is logged.
func playHaptic(res replay.SaveResult) {
	h := res.Haptic
	if h == (input.Haptic{}) {
		return
	}
	logger.WithComponent("haptics").Debug().
		Dur("duration", h.Duration).
		Float32("amplitude", h.Amplitude).
		Float32("frequency", h.Frequency).
		Bool("success", res.Success).
		Msg("Haptic pulse")
}
