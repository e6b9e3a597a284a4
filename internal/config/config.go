package config

import (
	"fmt"
	"strings"

	"compressr-go/internal/compressor"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig holds the defaults for every compression request.
// Command-line flags override these.
type CompressionConfig struct {
	Quality          int    `mapstructure:"quality"`
	Format           string `mapstructure:"format"`
	ScalePercent     int    `mapstructure:"scale_percent"`
	Width            int    `mapstructure:"width"`
	Height           int    `mapstructure:"height"`
	MaxWidth         int    `mapstructure:"max_width"`
	MaxHeight        int    `mapstructure:"max_height"`
	Threads          int    `mapstructure:"threads"` // 0 = all CPUs
	DeleteOriginal   bool   `mapstructure:"delete_original"`
	PreserveMetadata bool   `mapstructure:"preserve_metadata"`
	JPEGOptimizer    string `mapstructure:"jpeg_optimizer"` // path to jpegtran, "off" disables
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			Quality:      100,
			Format:       "jpeg",
			ScalePercent: 100,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "compressr.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// setDefaults registers every key so environment variables can override
// values that never appear in a config file.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.quality", c.Compression.Quality)
	v.SetDefault("compression.format", c.Compression.Format)
	v.SetDefault("compression.scale_percent", c.Compression.ScalePercent)
	v.SetDefault("compression.width", c.Compression.Width)
	v.SetDefault("compression.height", c.Compression.Height)
	v.SetDefault("compression.max_width", c.Compression.MaxWidth)
	v.SetDefault("compression.max_height", c.Compression.MaxHeight)
	v.SetDefault("compression.threads", c.Compression.Threads)
	v.SetDefault("compression.delete_original", c.Compression.DeleteOriginal)
	v.SetDefault("compression.preserve_metadata", c.Compression.PreserveMetadata)
	v.SetDefault("compression.jpeg_optimizer", c.Compression.JPEGOptimizer)

	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.host", c.Server.Host)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.compressr")
		v.AddConfigPath("/etc/compressr")
	}

	v.SetEnvPrefix("COMPRESSR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	cc := &c.Compression
	if cc.Quality < 0 || cc.Quality > 100 {
		return fmt.Errorf("compression.quality must be between 0 and 100, got %d", cc.Quality)
	}

	if cc.Format == "" {
		cc.Format = "jpeg"
	}
	if _, err := compressor.ParseFormat(cc.Format); err != nil {
		return fmt.Errorf("compression.format: %w", err)
	}

	if cc.ScalePercent == 0 {
		cc.ScalePercent = 100
	}
	if cc.Threads < 0 {
		cc.Threads = 0
	}
	if err := c.ResizePolicy().Validate(); err != nil {
		return fmt.Errorf("compression resize settings: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// OutputFormat returns the configured output format, JPEG when unset.
func (c *Config) OutputFormat() compressor.Format {
	f, err := compressor.ParseFormat(c.Compression.Format)
	if err != nil {
		return compressor.JPEG
	}
	return f
}

// ResizePolicy builds the resize policy from the compression settings.
func (c *Config) ResizePolicy() compressor.ResizePolicy {
	cc := c.Compression
	return compressor.ResizePolicy{
		ScalePercent: cc.ScalePercent,
		Width:        cc.Width,
		Height:       cc.Height,
		MaxWidth:     cc.MaxWidth,
		MaxHeight:    cc.MaxHeight,
	}
}

// JPEGOptimizerDisabled reports whether the jpegtran pass is switched off.
func (c *Config) JPEGOptimizerDisabled() bool {
	return strings.EqualFold(c.Compression.JPEGOptimizer, "off")
}
