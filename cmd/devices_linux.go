//go:build linux

package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/camfeed/pkg/linuxav/v4l2"
)

func listDevices(out io.Writer, showFormats bool) error {
	devices, err := v4l2.FindDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No V4L2 capture devices found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tDRIVER\tBUS\tID")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.Driver, d.BusInfo, d.DeviceID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !showFormats {
		return nil
	}
	for _, d := range devices {
		fmt.Fprintf(out, "\n%s:\n", d.DevicePath)
		formats, err := v4l2.GetFormats(d.DevicePath)
		if err != nil {
			fmt.Fprintf(out, "  formats unavailable: %v\n", err)
			continue
		}
		for _, f := range formats {
			emulated := ""
			if f.Emulated {
				emulated = " (emulated)"
			}
			fmt.Fprintf(out, "  %s %s%s\n", v4l2.FormatFourCC(f.PixelFormat), f.FormatName, emulated)

			sizes, err := v4l2.GetFrameSizes(d.DevicePath, f.PixelFormat)
			if err != nil {
				continue
			}
			for _, s := range sizes {
				kind := ""
				if s.Stepwise {
					kind = " (stepwise bound)"
				}
				fmt.Fprintf(out, "    %dx%d%s\n", s.Width, s.Height, kind)
			}
		}
	}
	return nil
}
