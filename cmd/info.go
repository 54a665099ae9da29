package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [device-path]",
	Short: "Show volume and filesystem information",
	Long: `Show the LVM volume record and the filesystem information record of a
VMFS volume.

Examples:
  # Inspect a flat image
  vmfs-tool info ./datastore1.img

  # Inspect the configured device
  vmfs-tool info`,

	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args)
	},
}

func runInfo(args []string) error {
	handle, err := openFS(args)
	if err != nil {
		return err
	}
	defer handle.Close()

	info := handle.Info()
	vol := handle.VolumeInfo()

	fmt.Println("Filesystem:")
	fmt.Printf("  Label:           %s\n", info.Label)
	fmt.Printf("  UUID:            %s\n", info.UUID)
	fmt.Printf("  Version:         %d.%d\n", info.VolVersion, info.Version)
	fmt.Printf("  Mode:            0x%08x\n", info.Mode)
	fmt.Printf("  Block size:      %d\n", info.BlockSize)
	fmt.Printf("  Sub-block size:  %d\n", info.SubBlockSize)
	fmt.Printf("  Device block:    %d\n", info.DevBlockSize)

	fmt.Println("Volume:")
	fmt.Printf("  Name:            %s\n", vol.Name)
	fmt.Printf("  LUN UUID:        %s\n", vol.UUID)
	fmt.Printf("  Size:            %d\n", vol.Size)
	fmt.Printf("  Segments:        %d (%d..%d)\n", vol.NumSegments, vol.FirstSegment, vol.LastSegment)

	return nil
}
