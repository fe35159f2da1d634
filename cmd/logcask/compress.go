package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logcask/logcask/archive"
)

type compressFlags struct {
	configPath        string
	outputDir         string
	timestampKey      string
	targetSegmentSize string
	codec             string
	structurizeArrays bool
	fourByte          bool
	unstructured      bool
	globalMetadataDB  string
}

func newCompressCommand(global *globalFlags) *cobra.Command {
	flags := &compressFlags{}

	cmd := &cobra.Command{
		Use:   "compress <input-file>...",
		Short: "Compress JSON records or raw log files into an archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(global, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "toml config file for the writer")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", ".", "directory to create the archive in")
	cmd.Flags().StringVar(&flags.timestampKey, "timestamp-key", "", "record key holding the timestamp")
	cmd.Flags().StringVar(&flags.targetSegmentSize, "target-segment-size", "", "uncompressed size at which segments seal (e.g. 256MiB)")
	cmd.Flags().StringVar(&flags.codec, "codec", "zstd", "block compressor (zstd, snappy)")
	cmd.Flags().BoolVar(&flags.structurizeArrays, "structurize-arrays", false, "store arrays of objects as structured columns")
	cmd.Flags().BoolVar(&flags.fourByte, "four-byte-encoding", false, "use four-byte encoded variables")
	cmd.Flags().BoolVar(&flags.unstructured, "unstructured", false, "treat inputs as raw text logs instead of JSON lines")
	cmd.Flags().StringVar(&flags.globalMetadataDB, "global-metadata-db", "", "sqlite database to record archive metadata in")
	return cmd
}

func (f *compressFlags) writerConfig() (archive.Config, error) {
	cfg := archive.NewConfig()
	if f.configPath != "" {
		if _, err := toml.DecodeFile(f.configPath, &cfg); err != nil {
			return cfg, pkgerrors.Wrapf(err, "decoding config %s", f.configPath)
		}
	}
	cfg.OutputDir = f.outputDir
	cfg.TimestampKey = f.timestampKey
	cfg.Codec = f.codec
	cfg.StructurizeArrays = f.structurizeArrays
	cfg.FourByteEncoding = f.fourByte
	if f.targetSegmentSize != "" {
		size, err := humanize.ParseBytes(f.targetSegmentSize)
		if err != nil {
			return cfg, pkgerrors.Wrapf(err, "parsing target segment size %q", f.targetSegmentSize)
		}
		cfg.TargetSegmentUncompressedSize = size
	}
	return cfg, nil
}

func runCompress(global *globalFlags, flags *compressFlags, inputs []string) error {
	log, err := global.newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := flags.writerConfig()
	if err != nil {
		return err
	}

	opts := []archive.WriterOption{archive.WithLogger(log)}
	if flags.globalMetadataDB != "" {
		opts = append(opts, archive.WithGlobalMetadataDB(
			&archive.SQLiteGlobalMetadataDB{Path: flags.globalMetadataDB}))
	}

	w, err := archive.NewWriter(cfg, opts...)
	if err != nil {
		return err
	}
	if err := w.Open(); err != nil {
		return err
	}

	for _, input := range inputs {
		if flags.unstructured {
			err = compressUnstructuredFile(w, input)
		} else {
			err = compressJSONFile(w, input)
		}
		if err != nil {
			w.Close()
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	fmt.Printf("%s\n", w.ID())
	log.Info("compression finished", zap.String("archive", w.Path()))
	return nil
}

func compressJSONFile(w *archive.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		record := strings.TrimSpace(scanner.Text())
		if record == "" {
			continue
		}
		if err := w.IngestRecord([]byte(record)); err != nil {
			return pkgerrors.Wrapf(err, "%s:%d", path, line)
		}
	}
	return scanner.Err()
}

func compressUnstructuredFile(w *archive.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return pkgerrors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	if err := w.CreateAndOpenFile(path, uuid.New(), 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := w.WriteMsg(0, scanner.Text()); err != nil {
			return pkgerrors.Wrapf(err, "%s:%d", path, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return w.CloseFile()
}
