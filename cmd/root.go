package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weafon/vmfs-tool/internal/device"
	"github.com/weafon/vmfs-tool/internal/fs"
	"github.com/weafon/vmfs-tool/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "vmfs-tool",
	Short: "VMFS block resource inspection and allocation tool",
	Long: `vmfs-tool is a command-line tool for inspecting and manipulating the
block addressing and allocation structures of a clustered VMFS volume:
volume records, the four resource bitmaps (file blocks, sub-blocks,
pointer blocks, file descriptors) and the block identifiers that
reference them.`,
	Version: "0.1.0-dev",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format := "human"
		if logJSON {
			format = "json"
		}
		return logger.Init(format, verbose)
	},
}

// Global flags that can be used across commands
var (
	verbose    bool
	logJSON    bool
	devicePath string
	writable   bool
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "", "Path to the volume device or flat image file")
	rootCmd.PersistentFlags().BoolVarP(&writable, "writable", "w", false, "Open the device read-write")

	rootCmd.AddCommand(
		infoCmd,
		bitmapCmd,
		blockCmd,
	)
}

// openFS opens the configured device and binds a filesystem handle.
// The --device flag overrides the configured device path.
func openFS(args []string) (*fs.FS, error) {
	cfg, err := device.LoadConfig()
	if err != nil {
		return nil, err
	}

	path := cfg.DevicePath
	if devicePath != "" {
		path = devicePath
	}
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return nil, fmt.Errorf("no device given: pass a path or set device_path in vmfs-config.yaml")
	}

	readOnly := cfg.ReadOnly && !writable
	dev, err := device.Open(path, readOnly)
	if err != nil {
		return nil, err
	}

	handle, err := fs.Open(dev, fs.Layout{
		FBBBase: cfg.FBBBase,
		SBCBase: cfg.SBCBase,
		PBCBase: cfg.PBCBase,
		FDCBase: cfg.FDCBase,
	}, fs.Options{
		LockRetries:    cfg.LockRetries,
		LockRetryDelay: time.Duration(cfg.LockRetryMs) * time.Millisecond,
	})
	if err != nil {
		dev.Close()
		return nil, err
	}
	return handle, nil
}
