package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weafon/vmfs-tool/internal/types"
)

var bitmapEntries bool

var bitmapCmd = &cobra.Command{
	Use:   "bitmap <fbb|sbc|pbc|fdc> [device-path]",
	Short: "Inspect a resource bitmap metafile",
	Long: `Show the header of one of the four resource bitmaps and, with
--entries, the per-entry usage counters.

Examples:
  # File block bitmap summary
  vmfs-tool bitmap fbb ./datastore1.img

  # Sub-block usage per entry
  vmfs-tool bitmap sbc ./datastore1.img --entries`,

	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBitmap(args[0], args[1:])
	},
}

func init() {
	bitmapCmd.Flags().BoolVar(&bitmapEntries, "entries", false, "list per-entry usage")
}

// bitmapTypeByName maps metafile names to resource block types.
func bitmapTypeByName(name string) (types.BlockType, error) {
	switch name {
	case "fbb":
		return types.BlockTypeFB, nil
	case "sbc":
		return types.BlockTypeSB, nil
	case "pbc":
		return types.BlockTypePB, nil
	case "fdc":
		return types.BlockTypeFD, nil
	default:
		return types.BlockTypeNone, fmt.Errorf("unknown bitmap %q, want fbb, sbc, pbc or fdc", name)
	}
}

func runBitmap(name string, args []string) error {
	blkType, err := bitmapTypeByName(name)
	if err != nil {
		return err
	}

	handle, err := openFS(args)
	if err != nil {
		return err
	}
	defer handle.Close()

	bmp, err := handle.Bitmap(blkType)
	if err != nil {
		return err
	}

	hdr := bmp.Header()
	fmt.Printf("Bitmap %s (%s):\n", name, blkType)
	fmt.Printf("  Items per entry:   %d\n", hdr.ItemsPerBitmapEntry)
	fmt.Printf("  Entries per area:  %d\n", hdr.BmpEntriesPerArea)
	fmt.Printf("  Areas:             %d\n", hdr.AreaCount)
	fmt.Printf("  Area size:         0x%x\n", hdr.AreaSize)
	fmt.Printf("  Item data size:    %d\n", hdr.DataSize)
	fmt.Printf("  Total items:       %d\n", hdr.TotalItems)

	if !bitmapEntries {
		return nil
	}

	var free uint32
	for idx := uint32(0); idx < hdr.EntryCount(); idx++ {
		entry, err := bmp.GetEntry(idx, 0)
		if err != nil {
			return fmt.Errorf("entry %d: %w", idx, err)
		}
		locked := ""
		if entry.Mdh.Locked() {
			locked = "  [locked]"
		}
		fmt.Printf("  entry %4d: %4d/%-4d free%s\n", entry.ID, entry.Free, entry.Total, locked)
		free += entry.Free
	}
	fmt.Printf("  total free:        %d\n", free)

	return nil
}
