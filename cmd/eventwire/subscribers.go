package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eventwire/eventwire/pkg/store"
)

func newSubscribersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribers",
		Short: "List chats receiving periodic digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			st, err := store.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			subs, err := st.Subscribers(cmd.Context())
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscribers.")
				return nil
			}

			rows := make([][]string, 0, len(subs))
			for _, s := range subs {
				kw := s.Keyword
				if kw == "" {
					kw = "-"
				}
				rows = append(rows, []string{
					strconv.FormatInt(s.ChatID, 10),
					kw,
					s.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]column{right("Chat"), left("Keyword"), left("Since")},
				rows,
			))
			return nil
		},
	}
}
