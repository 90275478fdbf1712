package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Long: `Enumerate capture devices matching devices.pattern, minus the blacklist,
and print what each one offers along with the format auto-publishing would
choose.`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(devicesCmd)
}

// deviceReport is what the devices command prints for one node.
type deviceReport struct {
	v4l2.Device
	Driver    string   `json:"driver,omitempty"`
	Card      string   `json:"card,omitempty"`
	Streaming bool     `json:"streaming"`
	Formats   []string `json:"formats"`
	Preferred string   `json:"preferred,omitempty"`
	Width     uint32   `json:"width,omitempty"`
	Height    uint32   `json:"height,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	devices, err := v4l2.NewEnumerator(cfg.Devices.Pattern, cfg.Devices.Blacklist).Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	reports := describeDevices(v4l2.NewIoctlReader(), devices)
	if devicesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return printDevices(cmd.OutOrStdout(), reports)
}

// describeDevices queries every device. A device that fails a query is
// still reported, with the error.
func describeDevices(reader v4l2.Reader, devices []v4l2.Device) []deviceReport {
	reports := make([]deviceReport, 0, len(devices))
	for _, d := range devices {
		r := deviceReport{Device: d, Formats: []string{}}

		caps, err := reader.Capabilities(d.Path)
		if err != nil {
			r.Error = err.Error()
			reports = append(reports, r)
			continue
		}
		r.Driver, r.Card = caps.Driver, caps.Card
		r.Streaming = caps.Has(v4l2.CapStreaming)

		available, err := reader.Formats(d.Path)
		if err != nil {
			r.Error = err.Error()
			reports = append(reports, r)
			continue
		}
		for _, f := range available {
			r.Formats = append(r.Formats, f.String())
		}
		if f, ok := formats.Select(available); ok && r.Streaming {
			r.Preferred = f.String()
		}

		if w, h, err := reader.FrameSize(d.Path); err == nil {
			r.Width, r.Height = w, h
		}
		reports = append(reports, r)
	}
	return reports
}

func printDevices(w io.Writer, reports []deviceReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tDRIVER\tCARD\tFORMATS\tPREFERRED\tSIZE")
	for _, r := range reports {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t%s\n", r.Path, r.Error)
			continue
		}
		size := "-"
		if r.Width != 0 && r.Height != 0 {
			size = fmt.Sprintf("%dx%d", r.Width, r.Height)
		}
		preferred := r.Preferred
		if preferred == "" {
			preferred = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Path, r.Driver, r.Card, strings.Join(r.Formats, ","), preferred, size)
	}
	return tw.Flush()
}
