package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logcask/logcask/archive"
	"github.com/logcask/logcask/query"
)

type searchFlags struct {
	ignoreCase bool
	beginTs    int64
	endTs      int64
	count      bool
	cachePath  string
	showPath   bool
}

func newSearchCommand(global *globalFlags) *cobra.Command {
	flags := &searchFlags{}

	cmd := &cobra.Command{
		Use:   "search <archive-dir> <wildcard-query>",
		Short: "Search an archive's encoded messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(global, flags, args[0], args[1])
		},
	}
	cmd.Flags().BoolVarP(&flags.ignoreCase, "ignore-case", "i", false, "case-insensitive matching")
	cmd.Flags().Int64Var(&flags.beginTs, "tge", query.EpochTimeMin, "only search messages with timestamp >= this epoch-ms")
	cmd.Flags().Int64Var(&flags.endTs, "tle", query.EpochTimeMax, "only search messages with timestamp <= this epoch-ms")
	cmd.Flags().BoolVar(&flags.count, "count", false, "print per-file match counts instead of messages")
	cmd.Flags().StringVar(&flags.cachePath, "cache", "", "sqlite database to batch results into")
	cmd.Flags().BoolVar(&flags.showPath, "show-path", false, "prefix matches with their original file path")
	return cmd
}

func runSearch(global *globalFlags, flags *searchFlags, archiveDir, expression string) error {
	log, err := global.newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	reader, err := archive.OpenReader(archiveDir, archive.WithReaderLogger(log))
	if err != nil {
		return err
	}
	defer reader.Close()
	if err := reader.ReadDictionariesAndMetadata(); err != nil {
		return err
	}

	q, mayMatch, err := query.ProcessRawQuery(reader, expression, flags.beginTs, flags.endTs, flags.ignoreCase, log)
	if err != nil {
		return err
	}
	if !mayMatch {
		// Dictionary pruning proved no message can match.
		return nil
	}

	var handler query.ResultHandler
	var counts *query.CountAggregationHandler
	switch {
	case flags.count:
		counts = query.NewCountAggregationHandler()
		handler = counts
	case flags.cachePath != "":
		handler = query.NewCacheHandler(flags.cachePath, 1000)
	default:
		handler = query.NewStreamingHandler(os.Stdout, flags.showPath)
	}

	executor := query.NewExecutor(reader, q, log)
	numMatches, err := executor.Search(handler)
	if err != nil {
		return err
	}
	if counts != nil {
		fmt.Print(counts.String())
		fmt.Printf("total: %d\n", numMatches)
	}
	return nil
}
