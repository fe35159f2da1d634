package main

import (
	"github.com/spf13/cobra"

	"github.com/logcask/logcask/archive"
)

type decompressFlags struct {
	outputDir        string
	ordered          bool
	orderedChunkSize uint64
	recordStore      string
}

func newDecompressCommand(global *globalFlags) *cobra.Command {
	flags := &decompressFlags{}

	cmd := &cobra.Command{
		Use:   "decompress <archive-dir>",
		Short: "Decompress an archive back to JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompress(global, flags, args[0])
		},
	}
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", ".", "directory to write decompressed output to")
	cmd.Flags().BoolVar(&flags.ordered, "ordered", false, "decompress in log-event order")
	cmd.Flags().Uint64Var(&flags.orderedChunkSize, "ordered-chunk-size", 0, "records per output chunk when ordered (0 = single chunk)")
	cmd.Flags().StringVar(&flags.recordStore, "record-store", "", "sqlite database to record chunk metadata in")
	return cmd
}

func runDecompress(global *globalFlags, flags *decompressFlags, archiveDir string) error {
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

	opt := archive.ConstructorOption{
		OutputDir:        flags.outputDir,
		Ordered:          flags.ordered,
		OrderedChunkSize: flags.orderedChunkSize,
	}
	if flags.recordStore != "" {
		opt.Store = &archive.SQLiteRecordStore{Path: flags.recordStore}
	}

	constructor, err := archive.NewConstructor(reader, opt, log)
	if err != nil {
		return err
	}
	return constructor.Store()
}
