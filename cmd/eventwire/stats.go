package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventwire/eventwire/pkg/tracker"
)

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var (
		providerName string
		recent       uint64
		since        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show language-model usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if recent > 0 {
				recs, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No invocations recorded.")
					return nil
				}
				rows := make([][]string, 0, len(recs))
				for _, r := range recs {
					rows = append(rows, []string{
						r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						r.Provider,
						r.Model,
						string(r.Outcome),
						strconv.Itoa(r.Attempts),
						strconv.Itoa(r.TotalTokens),
						strconv.FormatInt(r.LatencyMs, 10),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{left("Time"), left("Provider"), left("Model"), left("Outcome"), right("Attempts"), right("Tokens"), right("Latency ms")},
					rows,
				))
				return nil
			}

			summaries, err := tr.Summary(ctx, providerName)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No usage data found.")
				return nil
			}

			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				rows = append(rows, []string{
					s.Provider,
					s.Model,
					strconv.Itoa(s.Invocations),
					strconv.Itoa(s.Succeeded),
					strconv.Itoa(s.RateLimited),
					strconv.Itoa(s.Failed),
					strconv.FormatInt(s.TotalTokens, 10),
					strconv.FormatInt(s.AvgLatencyMs, 10),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{left("Provider"), left("Model"), right("Calls"), right("OK"), right("Rate limited"), right("Failed"), right("Tokens"), right("Avg ms")},
				rows,
			))

			total, err := tr.TotalSince(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Tokens in the last %s: %d\n", since, total)
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "filter by provider")
	cmd.Flags().Uint64Var(&recent, "recent", 0, "list the N most recent invocations instead of the summary")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window for the token total")
	return cmd
}
