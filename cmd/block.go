package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/weafon/vmfs-tool/internal/block"
	"github.com/weafon/vmfs-tool/internal/types"
)

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Work with block identifiers",
	Long: `Decode block identifiers and query or change their allocation state.

Examples:
  # Decode an identifier without touching a device
  vmfs-tool block decode 0x00000581

  # Allocate a sub-block on a writable image
  vmfs-tool block alloc sb ./datastore1.img -w

  # Release a block
  vmfs-tool block free 0x00000581 ./datastore1.img -w`,
}

var blockStatusCmd = &cobra.Command{
	Use:   "status <block-id> [device-path]",
	Short: "Report whether a block is allocated",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blkID, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		handle, err := openFS(args[1:])
		if err != nil {
			return err
		}
		defer handle.Close()

		status, err := handle.Allocator().GetStatus(blkID)
		if err != nil {
			return err
		}
		printBlockID(blkID)
		fmt.Printf("  Status: %s\n", statusName(status))
		return nil
	},
}

var blockAllocCmd = &cobra.Command{
	Use:   "alloc <fb|sb|pb|fd> [device-path]",
	Short: "Allocate one block of a resource type",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blkType, err := blockTypeByName(args[0])
		if err != nil {
			return err
		}
		handle, err := openFS(args[1:])
		if err != nil {
			return err
		}
		defer handle.Close()

		blkID, err := handle.Allocator().Alloc(blkType)
		if err != nil {
			return err
		}
		printBlockID(blkID)
		return nil
	},
}

var blockFreeCmd = &cobra.Command{
	Use:   "free <block-id> [device-path]",
	Short: "Release an allocated block",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blkID, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		handle, err := openFS(args[1:])
		if err != nil {
			return err
		}
		defer handle.Close()

		if err := handle.Allocator().Free(blkID); err != nil {
			return err
		}
		fmt.Printf("freed 0x%08x\n", blkID)
		return nil
	},
}

var blockZeroizeCmd = &cobra.Command{
	Use:   "zeroize <block-id> [device-path]",
	Short: "Overwrite a file block's data with zeros",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blkID, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		handle, err := openFS(args[1:])
		if err != nil {
			return err
		}
		defer handle.Close()

		if err := handle.Allocator().ZeroizeFileBlock(blkID); err != nil {
			return err
		}
		fmt.Printf("zeroized 0x%08x\n", blkID)
		return nil
	},
}

var blockDecodeCmd = &cobra.Command{
	Use:   "decode <block-id>",
	Short: "Decode a block identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blkID, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		printBlockID(blkID)
		if block.TypeOf(blkID) == types.BlockTypeFB {
			fmt.Printf("  TBZ:    %v\n", block.FBTBZ(blkID))
		}
		return nil
	},
}

func init() {
	blockCmd.AddCommand(
		blockStatusCmd,
		blockAllocCmd,
		blockFreeCmd,
		blockZeroizeCmd,
		blockDecodeCmd,
	)
}

func parseBlockID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid block identifier %q: %w", s, err)
	}
	return uint32(v), nil
}

func blockTypeByName(name string) (types.BlockType, error) {
	switch name {
	case "fb":
		return types.BlockTypeFB, nil
	case "sb":
		return types.BlockTypeSB, nil
	case "pb":
		return types.BlockTypePB, nil
	case "fd":
		return types.BlockTypeFD, nil
	default:
		return types.BlockTypeNone, fmt.Errorf("unknown block type %q, want fb, sb, pb or fd", name)
	}
}

func statusName(status types.ItemStatus) string {
	if status == types.ItemAllocated {
		return "allocated"
	}
	return "free"
}

func printBlockID(blkID uint32) {
	blkType, entry, item, err := block.Decode(blkID)
	if err != nil {
		fmt.Printf("0x%08x: %v\n", blkID, err)
		return
	}
	fmt.Printf("0x%08x:\n", blkID)
	fmt.Printf("  Type:   %s\n", blkType)
	fmt.Printf("  Entry:  %d\n", entry)
	fmt.Printf("  Item:   %d\n", item)
}
