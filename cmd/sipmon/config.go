package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// config is the daemon configuration, merged from flags, SIPMON_*
// environment variables, an optional sipmon.yaml, and defaults, in that
// precedence order.
type config struct {
	MonitorURL   string        `mapstructure:"monitor_url"`
	Listen       string        `mapstructure:"listen"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BootAttempts uint          `mapstructure:"boot_attempts"`
	LogLevel     string        `mapstructure:"log_level"`
	NoStream     bool          `mapstructure:"no_stream"`
}

func loadConfig(args []string) (config, error) {
	fs := pflag.NewFlagSet("sipmon", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a sipmon.yaml config file")
	fs.String("monitor-url", "", "monitor base URL (http[s]://host:port)")
	fs.String("listen", "", "local surface listen address")
	fs.String("username", "", "monitor admin username")
	fs.String("password", "", "monitor admin password")
	fs.Duration("poll-interval", 0, "periodic refresh interval, 0 disables polling")
	fs.Uint("boot-attempts", 0, "boot health probe attempts, 0 skips the probe")
	fs.String("log-level", "", "log level: debug, info, warn, or error")
	fs.Bool("no-stream", false, "disable the event stream and rely on polling")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	v := viper.New()
	v.SetConfigName("sipmon")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sipmon")
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	}

	v.SetEnvPrefix("SIPMON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("monitor_url", "http://127.0.0.1:8080")
	v.SetDefault("listen", ":9188")
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("boot_attempts", 10)
	v.SetDefault("log_level", "info")
	v.SetDefault("no_stream", false)

	for key, flag := range map[string]string{
		"monitor_url":   "monitor-url",
		"listen":        "listen",
		"username":      "username",
		"password":      "password",
		"poll_interval": "poll-interval",
		"boot_attempts": "boot-attempts",
		"log_level":     "log-level",
		"no_stream":     "no-stream",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return config{}, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file must exist; the default search may
		// come up empty and fall back to env vars and defaults.
		var notFound viper.ConfigFileNotFoundError
		if *configFile != "" || !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.MonitorURL == "" {
		return config{}, errors.New("monitor_url must not be empty")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return config{}, fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

func (c config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
