// Package commands implements the actiongate command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/actiongate/internal/pkg/config"
)

// RootCmd is the actiongate command.
var RootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "actiongate - configurable action gateway with CSP enforcement",
	Long: `actiongate serves configured actions over HTTP. Each request runs through
an interceptor stack (Content-Security-Policy, parameter binding, timing)
before the action executes and its mapped result renders.

Available commands:
  serve  - Start the gateway
  check  - Validate a configuration file without serving
  types  - List the registered bean types

Examples:
  actiongate serve -c config.yaml
  actiongate check -c config.yaml
  actiongate types`,
	SilenceUsage: true,
}

var configPath string

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(CheckCmd)
	RootCmd.AddCommand(TypesCmd)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if !cmd.Flags().Changed("config") {
		// An absent default file means defaults only.
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}
