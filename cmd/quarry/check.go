package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/energizer-project/quarry/internal/config"
)

func checkCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := config.Validate(cfg)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "warning [%s] %s\n", w.Field, w.Message)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error   [%s] %s\n", e.Field, e.Message)
			}
			if !result.IsValid() {
				return fmt.Errorf("%s has %d error(s)", cfg.Path(), len(result.Errors))
			}
			fmt.Fprintf(out, "%s is valid\n", cfg.Path())
			return nil
		},
	}

	configDirFlag(cmd, &configDir)
	return cmd
}
