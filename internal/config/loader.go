package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var globalConfig atomic.Pointer[Config]

func Get() *Config {
	return globalConfig.Load()
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("system.log_level", "INFO")
	v.SetDefault("system.dry_run", false)
	v.SetDefault("quoting.ladder_depth", 5)
	v.SetDefault("quoting.size_fraction", 0.2)
	v.SetDefault("monitoring.metrics_addr", ":9090")
	v.SetDefault("persistence.checkpoint_db", "data/maker.db")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	globalConfig.Store(&cfg)
	return &cfg, nil
}

func WatchAndReload(configPath string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config for watch: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		var newCfg Config
		if err := v.Unmarshal(&newCfg); err != nil {
			slog.Error("failed to unmarshal reloaded config", "error", err)
			return
		}

		validate := validator.New()
		if err := validate.Struct(&newCfg); err != nil {
			slog.Error("reloaded config validation failed", "error", err)
			return
		}

		old := globalConfig.Load()
		globalConfig.Store(&newCfg)
		slog.Info("configuration reloaded successfully")

		if onChange != nil {
			onChange(&newCfg)
		}

		logConfigChanges(old, &newCfg)
	})

	return nil
}

func logConfigChanges(old, new *Config) {
	if old == nil || new == nil {
		return
	}
	if old.System.DryRun != new.System.DryRun {
		slog.Warn("dry-run mode changed",
			"old", old.System.DryRun,
			"new", new.System.DryRun,
		)
	}
	if old.Quoting.LadderDepth != new.Quoting.LadderDepth {
		slog.Info("ladder depth changed",
			"old", old.Quoting.LadderDepth,
			"new", new.Quoting.LadderDepth,
		)
	}
}
