package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/ShadowReplay/internal/clipstore"
	"github.com/bryanchriswhite/ShadowReplay/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Convert a clip to MP4",
	Long: `Convert a saved clip to an H.264 MP4 with ffmpeg. The playback rate is
derived from the frame timestamps.`,
	Example: `  # Export next to the clip
  shadowreplay export clip_20240501_120000

  # Export into another directory
  shadowreplay export clip_20240501_120000 --out ~/Desktop`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var exportDir string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "output directory (default is the clip directory)")
}

func runExport(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	store, err := clipstore.NewStore(cfg.Output.Directory)
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

	exporter := export.New(export.Options{
		FFmpegPath: cfg.Export.FFmpegPath,
		Preset:     cfg.Export.Preset,
		CRF:        cfg.Export.CRF,
	})
	if !exporter.Available() {
		return fmt.Errorf("%w: install ffmpeg or set export.ffmpeg_path", export.ErrFFmpegNotFound)
	}

	out := export.OutputPath(info.Path, exportDir)
	if err := exporter.Export(cmd.Context(), c, out); err != nil {
		return err
	}
	fmt.Printf("✅ Exported %s (%d frames @ %d fps)\n", out, c.FrameCount(), export.FrameRate(c.Frames))
	return nil
}
