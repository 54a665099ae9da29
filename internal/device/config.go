package device

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds tool-wide settings for device access and lock
// behavior.
type Config struct {
	DevicePath  string `mapstructure:"device_path"`
	ReadOnly    bool   `mapstructure:"read_only"`
	LockRetries int    `mapstructure:"lock_retries"`
	LockRetryMs int    `mapstructure:"lock_retry_ms"`
	LogFormat   string `mapstructure:"log_format"`
	LogDebug    bool   `mapstructure:"log_debug"`

	// Volume positions of the four bitmap metafiles. Resolving them
	// through the root directory belongs to a directory layer; until
	// then they are configured explicitly.
	FBBBase int64 `mapstructure:"fbb_base"`
	SBCBase int64 `mapstructure:"sbc_base"`
	PBCBase int64 `mapstructure:"pbc_base"`
	FDCBase int64 `mapstructure:"fdc_base"`
}

// LoadConfig loads configuration using Viper. Settings come from
// vmfs-config.yaml (searched in the working directory, ./config,
// $HOME/.vmfs and /etc/vmfs) and from VMFS_* environment variables;
// a missing config file falls back to defaults.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("vmfs-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.vmfs")
	viper.AddConfigPath("/etc/vmfs")

	viper.SetDefault("device_path", "")
	viper.SetDefault("read_only", true)
	viper.SetDefault("lock_retries", 100)
	viper.SetDefault("lock_retry_ms", 100)
	viper.SetDefault("log_format", "human")
	viper.SetDefault("log_debug", false)
	viper.SetDefault("fbb_base", 0)
	viper.SetDefault("sbc_base", 0)
	viper.SetDefault("pbc_base", 0)
	viper.SetDefault("fdc_base", 0)

	viper.SetEnvPrefix("VMFS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}
