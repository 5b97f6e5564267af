package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/actiongate/internal/runtime"
)

// CheckCmd validates a configuration without serving it.
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	Long:  `Load the configuration, then build every interceptor and check every action and result type, exactly as serve would. All problems are reported at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if err := runtime.Check(cfg, logger); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "configuration is invalid:\n%v\n", err)
			return fmt.Errorf("configuration check failed")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d interceptors, %d actions\n",
			len(cfg.Interceptors), len(cfg.Actions))
		return nil
	},
}
