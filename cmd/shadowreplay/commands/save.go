package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/ShadowReplay/internal/replay"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Ask a running server to save the replay window",
	Long: `Request a save from a running "shadowreplay serve" instance. With --wait
the command follows the event stream until the clip is written.`,
	Example: `  # Fire and forget
  shadowreplay save

  # Wait for the clip
  shadowreplay save --wait`,
	RunE: runSave,
}

var (
	saveHost string
	saveWait bool
)

func init() {
	rootCmd.AddCommand(saveCmd)
	saveCmd.Flags().StringVar(&saveHost, "host", "localhost", "server host")
	saveCmd.Flags().BoolVarP(&saveWait, "wait", "w", false, "wait for the save to finish")
}

func runSave(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	base := fmt.Sprintf("%s:%d", saveHost, configMgr.Get().ServerPort)

	// subscribe first so the result cannot be missed
	var conn *websocket.Conn
	if saveWait {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+base+"/api/events", nil)
		if err != nil {
			return fmt.Errorf("failed to open event stream: %w", err)
		}
		defer conn.Close()
		var initial replay.Status
		if err := conn.ReadJSON(&initial); err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+base+"/api/save", "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", base, err)
	}
	defer resp.Body.Close()

	var body struct {
		Started bool   `json:"started"`
		ID      string `json:"id"`
		Frames  int    `json:"frames"`
		Error   string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusAccepted:
	case http.StatusConflict:
		return fmt.Errorf("server busy: %s", body.Error)
	default:
		return fmt.Errorf("save request failed: %s", resp.Status)
	}

	if !saveWait {
		fmt.Printf("💾 Save started (%d frames)\n", body.Frames)
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(time.Minute))
	var res replay.SaveResult
	for {
		if err := conn.ReadJSON(&res); err != nil {
			return fmt.Errorf("event stream closed: %w", err)
		}
		if body.ID == "" || res.ID == body.ID {
			break
		}
	}
	if !res.Success {
		return fmt.Errorf("save failed: %s", res.Error)
	}
	fmt.Printf("✅ Saved %s (%d frames, %s)\n", res.Clip.Path, res.Frames, res.Clip.SizeHuman())
	return nil
}
