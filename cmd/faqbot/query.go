package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"faqbot/internal/conversation"
	"faqbot/internal/domain"
	"faqbot/internal/faq"
	"faqbot/internal/nlp"
)

func askCmd() *cobra.Command {
	var (
		threshold float64
		dataset   string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Match one question and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefaults()
			if err != nil {
				return err
			}
			if dataset == "" {
				dataset = cfg.FAQ.DatasetPath
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.FAQ.Threshold
			}

			holder, err := loadIndex(dataset, logger)
			if err != nil {
				return err
			}
			engine, err := faq.NewEngine(faq.EngineConfig{
				Index:     holder,
				Fallbacks: cfg.FAQ.Fallbacks,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			res, err := engine.Match(strings.Join(args, " "), threshold)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", faq.DefaultThreshold, "minimum similarity score for an answer")
	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "FAQ dataset file (default: faq.datasetPath or the built-in dataset)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check that a FAQ dataset file builds into an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateDataset(cmd.OutOrStdout(), args[0])
		},
	}
}

// validateDataset reports entries kept and dropped, or why the file was
// rejected.
func validateDataset(w io.Writer, path string) error {
	items, err := faq.LoadFile(path)
	var idx *faq.Index
	if err == nil {
		idx, err = faq.Build(items, nlp.NewNormalizer(), logger)
	}
	if err != nil {
		fmt.Fprintf(w, "INVALID %s: %v\n", path, err)
		return fmt.Errorf("dataset rejected")
	}
	fmt.Fprintf(w, "OK %s: %d entries, %d dropped\n", path, idx.Len(), idx.Dropped())
	return nil
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "Print a conversation from the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefaults()
			if err != nil {
				return err
			}
			if cfg.Conversation.Driver == conversation.DriverMemory {
				return fmt.Errorf("the memory driver keeps no history outside a running server")
			}
			ctx := context.Background()
			store, err := conversation.Open(ctx, storeOptions(cfg, logger))
			if err != nil {
				return err
			}
			defer store.Close()

			conv, err := store.Get(ctx, args[0])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no conversation exists with id %q", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), conv)
		},
	}
}
