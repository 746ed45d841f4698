package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/ShadowReplay/internal/clip"
	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
)

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "Manage saved clips",
	Long:  `List, inspect and delete clips in the output directory.`,
}

var clipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved clips",
	Example: `  # List clips in table format (default)
  shadowreplay clips list

  # List clips in JSON format
  shadowreplay clips list --format json`,
	RunE: runClipsList,
}

var clipsInfoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Show details for one clip",
	Args:  cobra.ExactArgs(1),
	RunE:  runClipsInfo,
}

var clipsDeleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete clips",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClipsDelete,
}

var clipsFormat string

func init() {
	rootCmd.AddCommand(clipsCmd)
	clipsCmd.AddCommand(clipsListCmd)
	clipsCmd.AddCommand(clipsInfoCmd)
	clipsCmd.AddCommand(clipsDeleteCmd)

	clipsListCmd.Flags().StringVarP(&clipsFormat, "format", "f", "table", "output format (table or json)")
}

func openStore(cmd *cobra.Command) (*clipstore.Store, error) {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return clipstore.NewStore(configMgr.Get().Output.Directory)
}

func runClipsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	clips, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list clips: %w", err)
	}

	switch clipsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(clips)
	case "table":
		if len(clips) == 0 {
			fmt.Printf("No clips in %s\n", store.Dir())
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tFRAMES\tDURATION\tSIZE")
		var total int64
		for _, c := range clips {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				c.ID,
				humanize.Time(c.CreatedAt),
				c.FrameCount,
				c.Duration.Round(100*time.Millisecond),
				c.SizeHuman(),
			)
			total += c.SizeBytes
		}
		w.Flush()
		fmt.Printf("\n%d clips, %s total\n", len(clips), humanize.IBytes(uint64(total)))
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", clipsFormat)
	}
}

func runClipsInfo(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	info, err := store.Get(args[0])
	if err != nil {
		return err
	}
	c, err := store.Open(args[0])
	if err != nil {
		return err
	}

	w, h := c.Dimensions()
	var compressed int
	for _, f := range c.Frames {
		compressed += f.CompressedSize()
	}

	fmt.Printf("ID:        %s\n", info.ID)
	fmt.Printf("Path:      %s\n", info.Path)
	fmt.Printf("Created:   %s (%s)\n", info.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(info.CreatedAt))
	fmt.Printf("Format:    %s v%s\n", clip.Magic[:6], clip.Magic[6:])
	fmt.Printf("Frames:    %d @ %d fps\n", c.FrameCount(), c.FPS())
	fmt.Printf("Duration:  %s\n", c.Duration())
	fmt.Printf("Size:      %dx%d\n", w, h)
	fmt.Printf("File:      %s (payload %s)\n", info.SizeHuman(), humanize.IBytes(uint64(compressed)))
	if len(c.Frames) > 0 {
		fmt.Printf("Ratio:     %.1fx\n", c.Frames[0].CompressionRatio())
	}
	if info.SaveID != "" {
		fmt.Printf("Save ID:   %s\n", info.SaveID)
	}
	return nil
}

func runClipsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, id := range args {
		if err := store.Delete(id); err != nil {
			return err
		}
		fmt.Printf("🗑  Deleted %s\n", id)
	}
	return nil
}
