package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eventwire/eventwire/pkg/logging"
	"github.com/eventwire/eventwire/pkg/provider"
	"github.com/eventwire/eventwire/pkg/router"
)

func newProvidersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the usable language-model backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAI(provider.Known()); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			rt, err := router.New(cfg.AI.Providers, cfg.AI.Fallback, logging.Discard())
			if err != nil {
				return err
			}

			var rows [][]string
			for _, p := range rt.Providers() {
				model := p.Model
				if model == "" {
					model = provider.DefaultModel(p.Name)
				}
				if model == "" {
					model = "(router default)"
				}
				rows = append(rows, []string{strings.ToLower(p.Name), model, maskKey(p.APIKey)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{left("Provider"), left("Model"), left("Key")}, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "Supported: %s\n", strings.Join(provider.Known(), ", "))
			return nil
		},
	}
}

// maskKey keeps the last four characters of a credential.
func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 4) + key[len(key)-4:]
}
