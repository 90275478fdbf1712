package cmd

import (
	"fmt"

	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Print the capture pipeline for a device",
	Long: `Validate a device and format and print the GStreamer launch description
that would be published, without starting anything.

  camstreamd pipeline --device /dev/video0 --format MJPG --width 1280 --height 720

Without --format the format auto-publishing would choose is used.`,
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().String("device", "/dev/video0", "capture device path")
	pipelineCmd.Flags().String("format", "", "pixel format FourCC (default: auto-select)")
	pipelineCmd.Flags().Uint32("width", 0, "frame width (0 keeps the device setting)")
	pipelineCmd.Flags().Uint32("height", 0, "frame height (0 keeps the device setting)")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	device, _ := cmd.Flags().GetString("device")
	format, _ := cmd.Flags().GetString("format")
	width, _ := cmd.Flags().GetUint32("width")
	height, _ := cmd.Flags().GetUint32("height")

	p, err := buildPipeline(v4l2.NewIoctlReader(), device, format, width, height)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.String())
	return nil
}

func buildPipeline(reader v4l2.Reader, device, format string, width, height uint32) (gst.Pipeline, error) {
	var pf v4l2.PixelFormat
	if format == "" {
		available, err := reader.Formats(device)
		if err != nil {
			return gst.Pipeline{}, fmt.Errorf("reading formats: %w", err)
		}
		f, ok := formats.Select(available)
		if !ok {
			return gst.Pipeline{}, fmt.Errorf("%w: %s offers no streamable format", gst.ErrFormatUnsupported, device)
		}
		pf = f
	} else {
		f, err := v4l2.ParsePixelFormat(format)
		if err != nil {
			return gst.Pipeline{}, err
		}
		pf = f
	}

	p, err := gst.NewBuilder(reader).Build(device, pf, width, height)
	if err != nil {
		return gst.Pipeline{}, fmt.Errorf("building pipeline: %w", err)
	}
	return p, nil
}
