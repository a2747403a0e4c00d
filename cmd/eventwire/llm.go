package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newClassifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Report whether a text announces an event",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLLM(flags, func(llm *llmStack) error {
				answer := "NO"
				if llm.classifier.IsEvent(cmd.Context(), strings.Join(args, " ")) {
					answer = "YES"
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}
}

func newSummarizeCmd(flags *rootFlags) *cobra.Command {
	var (
		maxLength int
		lang      string
	)

	cmd := &cobra.Command{
		Use:   "summarize <text>...",
		Short: "Summarize each argument in one batched request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLLM(flags, func(llm *llmStack) error {
				out := llm.classifier.SummarizeBatch(cmd.Context(), args, maxLength, lang)
				for i, s := range out {
					if s == "" {
						s = "(no summary)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, s)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxLength, "max-length", 30, "maximum characters per summary")
	cmd.Flags().StringVar(&lang, "lang", "zh", "summary language code")
	return cmd
}

func newTranslateCmd(flags *rootFlags) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "translate <text>",
		Short: "Translate text into a search keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLLM(flags, func(llm *llmStack) error {
				out := llm.classifier.Translate(cmd.Context(), strings.Join(args, " "), lang)
				if out == "" {
					return errors.New("translation failed")
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&lang, "lang", "ru", "target language code")
	return cmd
}

func withLLM(flags *rootFlags, fn func(*llmStack) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	llm, err := newLLMStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = llm.Close() }()
	return fn(llm)
}
