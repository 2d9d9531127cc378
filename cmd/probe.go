package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/config"
	"github.com/smazurov/camfeed/internal/logging"
)

// probeOptions reads the same settings the server uses to pick a backend.
type probeOptions struct {
	Config     string `name:"config"`
	CamBackend string `name:"backend" toml:"camera.backend" env:"CAM_BACKEND"`
	V4L2Device string `name:"device" toml:"camera.device" env:"V4L2_DEVICE"`
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	return newProbeCmd(camera.SystemProber{})
}

func newProbeCmd(prober camera.Prober) *cobra.Command {
	opts := &probeOptions{
		Config:     "config.toml",
		CamBackend: string(camera.BackendAuto),
		V4L2Device: camera.DefaultDevice,
	}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show which camera backend would be used",
		Long:  `Checks for the CSI camera helper and V4L2 support, then resolves the configured backend without opening the device.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadConfig(opts, cmd); err != nil {
				return err
			}
			backend, err := camera.ParseBackend(opts.CamBackend)
			if err != nil {
				return err
			}

			cfg := camera.DefaultConfig()
			cfg.Backend = backend
			cfg.Device = opts.V4L2Device
			return probe(cmd.OutOrStdout(), camera.NewSelector(cfg, prober, logging.GetLogger("camera")), prober)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", opts.Config, "Path to configuration file")
	cmd.Flags().StringVarP(&opts.CamBackend, "backend", "b", opts.CamBackend, "Camera backend (auto, picamera, v4l2)")
	cmd.Flags().StringVarP(&opts.V4L2Device, "device", "d", opts.V4L2Device, "V4L2 device node")

	return cmd
}

func probe(out io.Writer, sel *camera.Selector, prober camera.Prober) error {
	if path, ok := prober.PicameraCommand(); ok {
		fmt.Fprintf(out, "picamera:   available (%s)\n", path)
	} else {
		fmt.Fprintln(out, "picamera:   not found")
	}
	if prober.V4L2Available() {
		fmt.Fprintf(out, "v4l2:       supported (device %s)\n", sel.Config().Device)
	} else {
		fmt.Fprintln(out, "v4l2:       not supported on this platform")
	}
	fmt.Fprintf(out, "configured: %s\n", sel.Config().Backend)

	backend, err := sel.Resolve()
	if err != nil {
		fmt.Fprintln(out, "resolved:   none")
		return err
	}
	fmt.Fprintf(out, "resolved:   %s\n", backend)
	return nil
}
