package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/logcask/logcask/archive"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <archive-dir>",
		Short: "Print an archive's size and dictionary statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args[0])
		},
	}
}

func runStats(archiveDir string) error {
	reader, err := archive.OpenReader(archiveDir)
	if err != nil {
		return err
	}
	defer reader.Close()
	if err := reader.ReadDictionariesAndMetadata(); err != nil {
		return err
	}

	meta := reader.Metadata()
	ratio := 0.0
	if meta.CompressedSize > 0 {
		ratio = float64(meta.UncompressedSize) / float64(meta.CompressedSize)
	}
	fmt.Printf("format version:    %d\n", meta.Version)
	fmt.Printf("codec:             %s\n", meta.Codec)
	fmt.Printf("uncompressed:      %s\n", humanize.IBytes(meta.UncompressedSize))
	fmt.Printf("compressed:        %s\n", humanize.IBytes(meta.CompressedSize))
	fmt.Printf("compression ratio: %.1fx\n", ratio)
	fmt.Printf("segments:          %d\n", len(reader.Segments()))
	fmt.Printf("schemas:           %d\n", len(reader.Schemas()))
	fmt.Printf("schema tree nodes: %d\n", reader.Tree().Size())
	fmt.Printf("logtypes:          %d\n", reader.LogtypeDict().Size())
	fmt.Printf("variables:         %d\n", reader.VarDict().Size())
	fmt.Printf("files:             %d\n", len(reader.Files()))
	return nil
}
