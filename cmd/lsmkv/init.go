package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lsmkv/pkg/config"
)

// initEnv loads .env files and binds LSMKV_* environment variables to the
// command's flags.
func initEnv(cmd *cobra.Command) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("lsmkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return viper.BindPFlags(cmd.Flags())
}

// initConfig loads the YAML config file (config.Default() if it does not
// exist) and applies flag and environment overrides on top.
func initConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return cfg, err
	}

	if v := viper.GetString("data-dir"); v != "" {
		cfg.Storage.RootPath = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logger.Level = v
	}
	if viper.GetBool("log-json") {
		cfg.Logger.JSON = true
	}
	if viper.IsSet("flush-threshold") {
		cfg.Storage.Memtable.FlushThresholdBytes = viper.GetInt("flush-threshold")
	}
	if viper.IsSet("index-ratio") {
		cfg.Storage.SSTable.IndexRatio = viper.GetFloat64("index-ratio")
	}
	if viper.GetBool("no-wal") {
		cfg.Storage.WAL.Enabled = false
	}

	return cfg, cfg.Validate()
}

// initLogger настраивает глобальный slog.Logger (JSON или текстовый).
func initLogger(cfg *config.Config) error {
	level, err := cfg.Logger.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	return nil
}
