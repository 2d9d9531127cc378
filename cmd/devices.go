package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// errUnsupported is returned by commands that need Linux device access.
var errUnsupported = errors.New("not supported on this platform")

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var showFormats bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Lists video4linux capture nodes with driver, bus and stable ID, optionally with their pixel formats and frame sizes.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd.OutOrStdout(), showFormats)
		},
	}

	cmd.Flags().BoolVarP(&showFormats, "formats", "f", false, "Show pixel formats and frame sizes")
	return cmd
}
