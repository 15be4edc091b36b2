package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/klauspost/compress/zlib"

	"kfuz2/lib"
	"kfuz2/pkg/batch"
	"kfuz2/pkg/config"
	"kfuz2/pkg/core"
	"kfuz2/pkg/diag"
	"kfuz2/pkg/server"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitBadArguments
	}

	operation := args[0]
	switch operation {
	case "compress":
		return handleCodec(batch.Compress, args[1:], stdout, stderr)
	case "decompress":
		return handleCodec(batch.Decompress, args[1:], stdout, stderr)
	case "serve":
		return handleServe(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitSuccess
	default:
		fmt.Fprintln(stderr, "Invalid operation:", operation)
		printUsage(stderr)
		return exitBadArguments
	}
}

// printUsage prints the command-line usage information
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  kfuz2 compress   [-o dir] [-v|-q] [-nocheck] [-signature] [-j n] [-level n] [-log dir] input...")
	fmt.Fprintln(w, "  kfuz2 decompress [-o dir] [-v|-q] [-j n] [-log dir] input...")
	fmt.Fprintln(w, "  kfuz2 serve      [-config kfuz2_server.toml]")
	fmt.Fprintln(w, "Inputs may be files or directories. Directories are searched recursively.")
}

// codecFlags holds the parsed options shared by compress and decompress
type codecFlags struct {
	output    string
	verbose   bool
	quiet     bool
	nocheck   bool
	signature bool
	jobs      int
	level     int
	logDir    string
}

func (f codecFlags) logLevel() core.LogLevel {
	// Quiet wins over verbose
	switch {
	case f.quiet:
		return core.LevelMinimal
	case f.verbose:
		return core.LevelVerbose
	default:
		return core.LevelDefault
	}
}

// handleCodec handles the compress and decompress operations
func handleCodec(mode batch.Mode, args []string, stdout, stderr io.Writer) int {
	var f codecFlags
	fs := flag.NewFlagSet(mode.String(), flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.output, "o", "", "target directory; defaults to the input file's directory")
	fs.BoolVar(&f.verbose, "v", false, "print SHA-1, sizes and chunk counts")
	fs.BoolVar(&f.quiet, "q", false, "print nothing; overrides -v")
	fs.IntVar(&f.jobs, "j", runtime.NumCPU(), "number of parallel workers for directories")
	fs.StringVar(&f.logDir, "log", "", "write JSON event logs to this directory")
	if mode == batch.Compress {
		fs.BoolVar(&f.nocheck, "nocheck", false, "skip the extension and vanilla package checks")
		fs.BoolVar(&f.signature, "signature", false, "reject inputs without the KF1 package signature")
		fs.IntVar(&f.level, "level", zlib.DefaultCompression, "zlib compression level (-1..9)")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitArgumentParsing
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "No input files given")
		fs.Usage()
		return exitBadArguments
	}

	level := f.logLevel()
	var logger *diag.Logger
	if f.logDir != "" {
		logLevel := "info"
		if level == core.LevelVerbose {
			logLevel = "debug"
		}
		logger = diag.NewLogger(f.logDir, logLevel)
		defer logger.Close()
	}

	files, single, err := expandInputs(mode, fs.Args())
	if err != nil {
		if level != core.LevelMinimal {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return exitBadArguments
	}

	var codec []core.Option
	if mode == batch.Compress {
		codec = append(codec, lib.WithLevel(f.level))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if single {
		return processSingle(ctx, mode, files[0], f, codec, stdout, stderr)
	}

	var mu sync.Mutex
	opts := batch.Options{
		Mode:             mode,
		OutputDir:        f.output,
		CheckEligibility: !f.nocheck,
		RequireSignature: f.signature,
		Level:            level,
		Workers:          f.jobs,
		Codec:            codec,
		Logger:           logger,
		OnFile: func(fr batch.FileResult) {
			mu.Lock()
			defer mu.Unlock()
			reportFile(mode, fr, level, stdout, stderr)
		},
	}
	if level != core.LevelMinimal {
		opts.ProgressOut = stderr
	}
	summary := batch.Run(ctx, files, opts)

	if level != core.LevelMinimal {
		fmt.Fprintf(stdout, "Files: %d succeeded, %d failed, %d ignored (of %d)\n",
			summary.Success, summary.Failed, summary.Ignored, summary.Total)
	}
	if summary.Failed > 0 {
		return exitCannotMake
	}
	return exitSuccess
}

// expandInputs turns command-line paths into a file list. single is true
// when exactly one path was given and it is not a directory.
func expandInputs(mode batch.Mode, paths []string) (files []string, single bool, err error) {
	exts := core.DefaultExtensions
	if mode == batch.Decompress {
		exts = []string{core.CompressedExtension}
	}
	sawDir := false
	for _, p := range paths {
		info, statErr := os.Stat(p)
		if statErr == nil && info.IsDir() {
			sawDir = true
			found, err := batch.Collect(p, exts)
			if err != nil {
				return nil, false, err
			}
			files = append(files, found...)
			continue
		}
		// Missing files are reported by validation
		files = append(files, p)
	}
	return files, len(paths) == 1 && !sawDir, nil
}

// processSingle runs one file without the worker pool
func processSingle(ctx context.Context, mode batch.Mode, input string, f codecFlags, codec []core.Option, stdout, stderr io.Writer) int {
	req := lib.NewRequest(input, f.output)
	req.CheckEligibility = !f.nocheck
	req.RequireSignature = f.signature
	req.Level = f.logLevel()

	var res lib.Result
	var err error
	if mode == batch.Decompress {
		res, err = lib.DecompressFile(ctx, req, codec...)
	} else {
		res, err = lib.CompressFile(ctx, req, codec...)
	}
	fr := batch.FileResult{Input: input, Output: req.OutputPath, Result: res, Err: err}
	if err != nil {
		if req.Level != core.LevelMinimal {
			fmt.Fprintf(stderr, "Terminated with error: %v\n", err)
		}
		return exitCannotMake
	}
	reportFile(mode, fr, req.Level, stdout, stderr)
	return exitSuccess
}

// reportFile prints the per-file summary lines
func reportFile(mode batch.Mode, fr batch.FileResult, level core.LogLevel, stdout, stderr io.Writer) {
	if level == core.LevelMinimal {
		return
	}
	name := filepath.Base(fr.Input)
	if fr.Err != nil {
		if lib.IsIgnorable(fr.Err) {
			if level == core.LevelVerbose {
				fmt.Fprintf(stderr, "Skipped %s: %v\n", name, fr.Err)
			}
			return
		}
		fmt.Fprintf(stderr, "Failed %s: %v\n", name, fr.Err)
		return
	}

	fmt.Fprintf(stdout, "%s %sed in %v\n", name, mode, fr.Result.Elapsed)
	if level != core.LevelVerbose {
		return
	}
	if fr.Result.Digest != "" {
		fmt.Fprintf(stdout, "|-- SHA1: %s\n", fr.Result.Digest)
	}
	fmt.Fprintf(stdout, "`-- Size %dkb -> %dkb (ratio %.2f), chunk count: %d\n",
		fr.Result.InputSize/1024, fr.Result.OutputSize/1024, fr.Result.Ratio(), fr.Result.Chunks)
}

// handleServe handles the serve operation
func handleServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", config.DefaultPath, "path to the TOML configuration")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return exitArgumentParsing
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return exitBadArguments
	}

	cfg, created, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitBadArguments
	}
	if created {
		fmt.Fprintf(stdout, "Created default config file %s. Stop the server and change the values if needed.\n", *path)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitBadArguments
	}

	logger := diag.NewLogger(cfg.LogDir, cfg.LogLevel)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "Server running on http://%s\n", cfg.Addr())
	fmt.Fprintln(stdout, "Press Ctrl+C to stop the server")
	if err := server.New(cfg, logger).Run(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitCannotMake
	}
	fmt.Fprintln(stdout, "Server has been shut down")
	return exitSuccess
}
