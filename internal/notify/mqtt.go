// Package notify publishes save outcomes to an MQTT broker and accepts
// remote save commands on the same broker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bryanchriswhite/ShadowReplay/internal/logger"
	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// Config selects the broker and topics. Saves go to Topic; commands are
// read from Topic + "/commands".
type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

// SaveRequester is satisfied by *replay.Orchestrator.
type SaveRequester interface {
	RequestSave() bool
}

// SaveMessage is the JSON payload published after every save.
type SaveMessage struct {
	SaveID     string `json:"save_id"`
	Success    bool   `json:"success"`
	ClipID     string `json:"clip_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Frames     int    `json:"frames"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Command is a control message received on the commands topic.
type Command struct {
	Command string `json:"command"`
}

// commandResponse acknowledges a command.
type commandResponse struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Notifier publishes save results over MQTT.
type Notifier struct {
	cfg    Config
	client mqtt.Client
	saver  SaveRequester

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// Stats contains notifier counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// New creates a notifier; saver may be nil to ignore remote commands.
func New(cfg Config, saver SaveRequester) *Notifier {
	if cfg.Topic == "" {
		cfg.Topic = "shadowreplay/saves"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "shadowreplay"
	}
	return &Notifier{cfg: cfg, saver: saver}
}

// CommandTopic is where remote commands are read.
func (n *Notifier) CommandTopic() string {
	return strings.TrimSuffix(n.cfg.Topic, "/") + "/commands"
}

// Connect dials the broker and subscribes to the commands topic.
func (n *Notifier) Connect(ctx context.Context) error {
	log := logger.WithComponent("mqtt")

	broker := n.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		n.setConnected(true)
		log.Info().Str("broker", broker).Str("client_id", n.cfg.ClientID).Msg("MQTT connected")
		if n.saver == nil {
			return
		}
		// resubscribe after every reconnect
		token := c.Subscribe(n.CommandTopic(), 1, func(_ mqtt.Client, m mqtt.Message) {
			n.handleMessage(c, m.Payload())
		})
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", n.CommandTopic()).Msg("Command subscribe failed")
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		n.setConnected(false)
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	n.client = mqtt.NewClient(opts)

	log.Info().Str("broker", broker).Msg("Connecting to MQTT broker")
	token := n.client.Connect()

	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	n.setConnected(true)
	return nil
}

// Attach publishes every result from o until ctx ends.
func (n *Notifier) Attach(ctx context.Context, o *replay.Orchestrator) {
	ch := o.Subscribe()
	go func() {
		defer o.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-ch:
				if !ok {
					return
				}
				if err := n.Publish(res); err != nil {
					logger.WithComponent("mqtt").Warn().Err(err).Str("save_id", res.ID).Msg("Failed to publish save result")
				}
			}
		}
	}()
}

// Publish sends one save result.
func (n *Notifier) Publish(res replay.SaveResult) error {
	if !n.isConnected() {
		n.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(BuildMessage(res))
	if err != nil {
		n.countError()
		return fmt.Errorf("failed to marshal save result: %w", err)
	}

	token := n.client.Publish(n.cfg.Topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		n.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		n.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	n.mu.Lock()
	n.published++
	n.mu.Unlock()

	logger.WithComponent("mqtt").Debug().
		Str("topic", n.cfg.Topic).
		Int("size", len(payload)).
		Msg("Save result published")
	return nil
}

// BuildMessage converts a result to its wire payload.
func BuildMessage(res replay.SaveResult) SaveMessage {
	msg := SaveMessage{
		SaveID:    res.ID,
		Success:   res.Success,
		Frames:    res.Frames,
		ElapsedMS: res.Elapsed().Milliseconds(),
		Error:     res.Error,
		Timestamp: res.FinishedAt.UTC().Format(time.RFC3339),
	}
	if res.Clip != nil {
		msg.ClipID = res.Clip.ID
		msg.Path = res.Clip.Path
		msg.SizeBytes = res.Clip.SizeBytes
		msg.DurationMS = res.Clip.Duration.Milliseconds()
	}
	return msg
}

// HandleCommand runs a decoded command and returns the acknowledgement.
func (n *Notifier) HandleCommand(payload []byte) ([]byte, error) {
	var cmd Command
	resp := commandResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		resp.Status, resp.Error = "error", "invalid command payload"
		return json.Marshal(resp)
	}
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "save":
		if n.saver != nil && n.saver.RequestSave() {
			resp.Status = "accepted"
		} else {
			resp.Status, resp.Error = "busy", "save already in progress"
		}
	default:
		resp.Status, resp.Error = "error", fmt.Sprintf("unknown command %q", cmd.Command)
	}
	return json.Marshal(resp)
}

func (n *Notifier) handleMessage(c mqtt.Client, payload []byte) {
	log := logger.WithComponent("mqtt")
	ack, err := n.HandleCommand(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build command response")
		return
	}
	log.Info().RawJSON("response", ack).Msg("Command handled")
	c.Publish(n.CommandTopic()+"/ack", 0, false, ack)
}

// Disconnect closes the MQTT connection
func (n *Notifier) Disconnect() {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
		logger.WithComponent("mqtt").Info().Msg("MQTT disconnected")
	}
	n.setConnected(false)
}

// Stats returns notifier counters.
func (n *Notifier) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Stats{Connected: n.connected, Published: n.published, Errors: n.errors}
}

func (n *Notifier) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *Notifier) isConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *Notifier) countError() {
	n.mu.Lock()
	n.errors++
	n.mu.Unlock()
}
