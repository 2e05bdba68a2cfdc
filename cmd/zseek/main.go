package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"flag"
	"io"
	"log"
	"os"

	"github.com/SaveTheRbtz/fastcdc-go"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	zseek "github.com/zseek/zseek-go"
	"github.com/zseek/zseek-go/env"
)

var (
	inputFlag, outputFlag, codecFlag string
	qualityFlag, workersFlag         int
	frameSizeFlag, groupFlag         int
	verifyFlag, verboseFlag          bool
)

func init() {
	flag.StringVar(&inputFlag, "f", "", "input filename")
	flag.StringVar(&outputFlag, "o", "", "output filename")
	flag.StringVar(&codecFlag, "codec", "zstd", "compression codec (zstd or lz4)")
	flag.IntVar(&qualityFlag, "q", -1, "compression level (codec default if negative)")
	flag.IntVar(&workersFlag, "T", 0, "zstd worker threads (0 = single-threaded)")
	flag.IntVar(&frameSizeFlag, "s", 512, "minimum uncompressed frame size (in KiB)")
	flag.IntVar(&groupFlag, "g", zseek.DefaultFramesPerEntry, "frames per seek table entry")
	flag.BoolVar(&verifyFlag, "t", false, "test reading after the write")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")
}

func main() {
	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if inputFlag == "" || outputFlag == "" {
		logger.Fatal("both input and output files need to be defined")
	}
	if verifyFlag && outputFlag == "-" {
		logger.Fatal("verify can't be used with stdout output")
	}

	var codec zseek.Codec
	switch codecFlag {
	case "zstd":
		codec = zseek.Zstd
	case "lz4":
		codec = zseek.LZ4
	default:
		logger.Fatal("unknown codec", zap.String("codec", codecFlag))
	}

	var input *os.File
	var inputSize int64 = -1
	if inputFlag == "-" {
		input = os.Stdin
	} else {
		if input, err = os.Open(inputFlag); err != nil {
			logger.Fatal("failed to open input", zap.Error(err))
		}
		defer input.Close()
		if fi, err := input.Stat(); err == nil {
			inputSize = fi.Size()
		}
	}

	var output *os.File
	if outputFlag == "-" {
		output = os.Stdout
	} else {
		output, err = os.OpenFile(outputFlag, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			logger.Fatal("failed to open output", zap.Error(err))
		}
		defer output.Close()
	}

	opts := []zseek.WOption{
		zseek.WithCodec(codec),
		zseek.WithMinFrameSize(frameSizeFlag * 1024),
		zseek.WithFramesPerEntry(groupFlag),
		zseek.WithChecksums(true),
		zseek.WithWLogger(logger),
	}
	if qualityFlag >= 0 {
		opts = append(opts, zseek.WithCompressionLevel(qualityFlag))
	}
	if workersFlag > 0 {
		opts = append(opts, zseek.WithZSTDWorkers(workersFlag))
	}

	w, err := zseek.NewWriter(output, opts...)
	if err != nil {
		logger.Fatal("failed to create compressed writer", zap.Error(err))
	}
	defer w.Close()

	bar := progressbar.DefaultBytes(inputSize, "compressing")
	chunker, err := fastcdc.NewChunker(io.TeeReader(input, bar), fastcdc.Options{
		MinSize:     16 * 1024,
		AverageSize: 64 * 1024,
		MaxSize:     256 * 1024,
	})
	if err != nil {
		logger.Fatal("failed to create chunker", zap.Error(err))
	}

	expected := sha256.New()
	for {
		chunk, err := chunker.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			logger.Fatal("failed to read", zap.Error(err))
		}
		if verifyFlag {
			_, _ = expected.Write(chunk.Data)
		}
		if _, err := w.Write(chunk.Data); err != nil {
			logger.Fatal("failed to write data", zap.Error(err))
		}
	}

	stats := w.Stats()
	if err := w.Close(); err != nil {
		logger.Fatal("failed to close writer", zap.Error(err))
	}
	logger.Info("compressed",
		zap.Int("frames", stats.Frames),
		zap.Int("compressedSize", stats.CompressedSize),
		zap.Int("seekTableSize", stats.SeekTableSize))

	if verifyFlag {
		verify, err := os.Open(outputFlag)
		if err != nil {
			logger.Fatal("failed to open file for verification", zap.Error(err))
		}
		defer verify.Close()

		reader, err := zseek.NewReader(context.Background(), env.OSReadFile(verify),
			zseek.WithVerifyChecksums(true), zseek.WithRLogger(logger))
		if err != nil {
			logger.Fatal("failed to create new seekable reader", zap.Error(err))
		}
		defer reader.Close()

		actual := sha256.New()
		if _, err := io.CopyBuffer(actual, reader, make([]byte, 128<<10)); err != nil {
			logger.Fatal("failed to compute actual csum", zap.Error(err))
		}

		if !bytes.Equal(actual.Sum(nil), expected.Sum(nil)) {
			logger.Fatal("checksum verification failed",
				zap.Binary("actual", actual.Sum(nil)), zap.Binary("expected", expected.Sum(nil)))
		}
		logger.Info("checksum verification succeeded")
	}
}
