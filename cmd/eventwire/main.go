package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "eventwire",
		Short:         "eventwire: newsfeed event digests delivered to Telegram",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "eventwire.yaml", "path to config file (.yaml or .toml)")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	root.AddCommand(
		newRunCmd(flags),
		newClassifyCmd(flags),
		newSummarizeCmd(flags),
		newTranslateCmd(flags),
		newStatsCmd(flags),
		newProvidersCmd(flags),
		newSubscribersCmd(flags),
	)
	return root
}
