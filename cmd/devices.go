package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/relayerr"
)

func (a *app) devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices with their formats, sizes and frame rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd, ""); err != nil {
				return err
			}
			reports, err := devices.Describe(devices.NewDetector())
			if err != nil {
				return relayerr.Wrap(relayerr.DeviceUnavailable, "list", "cannot enumerate devices", err)
			}
			printReports(cmd.OutOrStdout(), reports)
			return nil
		},
	}
}

func printReports(w io.Writer, reports []devices.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "no capture devices found")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s (%s)\n", r.Device.DevicePath, r.Device.DeviceName, r.Device.Driver)
		for _, f := range r.Formats {
			name := devices.FourCC(f.Format.PixelFormat)
			if f.Format.Emulated {
				name += " (emulated)"
			}
			fmt.Fprintf(w, "  %s\t%s\n", name, f.Format.FormatName)
			for _, m := range f.Modes {
				rates := make([]string, 0, len(m.Framerates))
				for _, fr := range m.Framerates {
					rates = append(rates, strconv.FormatFloat(fr.FPS(), 'g', 4, 64))
				}
				fmt.Fprintf(w, "    %dx%d\t%s fps\n", m.Resolution.Width, m.Resolution.Height, strings.Join(rates, " "))
			}
		}
	}
}
