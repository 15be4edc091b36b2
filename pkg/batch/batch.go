// Package batch runs the single-file codec over many files in parallel.
//
// Files are the unit of parallelism: the file list is split into disjoint
// slices, one goroutine works through each slice sequentially, and workers
// share nothing but the progress counters and the cancellation context.
package batch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"kfuz2/pkg/core"
	"kfuz2/pkg/diag"
	"kfuz2/pkg/progress"
)

// Mode selects the direction of a run.
type Mode int

const (
	Compress Mode = iota
	Decompress
)

func (m Mode) String() string {
	if m == Decompress {
		return "decompress"
	}
	return "compress"
}

// Options configures a batch run.
type Options struct {
	Mode             Mode
	OutputDir        string // Empty writes each output next to its input
	CheckEligibility bool
	RequireSignature bool
	Level            core.LogLevel
	Workers          int           // <= 0 uses runtime.NumCPU(); 1 runs sequentially
	Codec            []core.Option // Extra codec options, e.g. core.WithLevel
	Validator        *core.Validator
	Logger           *diag.Logger
	ProgressOut      io.Writer // Periodic progress lines; nil disables them
	// OnFile is called once per file from the worker that processed it.
	OnFile func(FileResult)
}

// FileResult is the outcome of one file.
type FileResult struct {
	Input   string
	Output  string
	Result  core.Result
	Err     error
	Outcome progress.Outcome
}

// Collect walks root and returns every regular file whose extension is in
// exts (case-insensitive), sorted by path.
func Collect(root string, exts []string) ([]string, error) {
	want := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		want[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if _, ok := want[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Run processes files and returns the final counters. Per-file errors never
// stop the batch; they are counted and reported through OnFile. Canceling
// ctx skips every file that has not started yet.
//
// Inputs whose derived outputs collide (compared case-insensitively) are
// resolved in file order: the first one is processed and every later one
// fails with core.ErrOutputCollision before any worker starts.
func Run(ctx context.Context, files []string, opts Options) progress.Summary {
	if opts.Validator == nil {
		opts.Validator = core.NewValidator()
	}
	tracker := progress.New(opts.ProgressOut, calculateTotalSize(files), uint32(len(files)))
	tracker.Start()
	defer tracker.Stop()

	pending := files
	if ctx.Err() == nil {
		pending = rejectCollisions(files, opts, tracker)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	timer := opts.Logger.StartKV("batch", opts.Mode.String(), "", map[string]string{
		"files":   fmt.Sprint(len(files)),
		"workers": fmt.Sprint(workers),
	})

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for _, slice := range split(pending, workers) {
		g.Go(func() error {
			for _, path := range slice {
				processOne(ctx, path, opts, tracker)
			}
			return nil
		})
	}
	_ = g.Wait()

	tracker.Stop()
	s := tracker.Snapshot()
	timer.FinishKV("done", int64(s.Done()), map[string]string{
		"success": fmt.Sprint(s.Success),
		"failed":  fmt.Sprint(s.Failed),
		"ignored": fmt.Sprint(s.Ignored),
	})
	return s
}

// rejectCollisions validates every file up front and returns the ones left
// to process. A file whose output path was already claimed by an earlier
// file is recorded as failed; files that fail validation are kept so the
// workers classify them as usual.
func rejectCollisions(files []string, opts Options, tracker *progress.Tracker) []string {
	claimed := make(map[string]string, len(files))
	pending := make([]string, 0, len(files))
	for _, path := range files {
		req := newRequest(path, opts)
		var err error
		if opts.Mode == Decompress {
			err = opts.Validator.ValidateDecompressible(req)
		} else {
			err = opts.Validator.ValidateCompressible(req)
		}
		if err != nil {
			pending = append(pending, path)
			continue
		}
		key := strings.ToLower(filepath.Clean(req.OutputPath))
		first, taken := claimed[key]
		if !taken {
			claimed[key] = path
			pending = append(pending, path)
			continue
		}

		err = &core.PathError{
			Op:   opts.Mode.String(),
			Path: path,
			Err:  fmt.Errorf("%w: %s (%s)", core.ErrOutputCollision, req.OutputPath, first),
		}
		opts.Logger.Error("batch", err, "output collision", path)
		tracker.Record(progress.Failed)
		if opts.OnFile != nil {
			opts.OnFile(FileResult{Input: path, Output: req.OutputPath, Err: err, Outcome: progress.Failed})
		}
	}
	return pending
}

func newRequest(path string, opts Options) *core.Request {
	return &core.Request{
		InputPath:        path,
		OutputPath:       opts.OutputDir,
		CheckEligibility: opts.CheckEligibility,
		RequireSignature: opts.RequireSignature,
		Level:            opts.Level,
	}
}

// processOne runs the codec for a single file and records its outcome.
func processOne(ctx context.Context, path string, opts Options, tracker *progress.Tracker) {
	req := newRequest(path, opts)
	codec := append([]core.Option{core.WithProgress(tracker.AddBytes)}, opts.Codec...)

	timer := opts.Logger.StartFile("batch", opts.Mode.String(), path)
	var res core.Result
	var err error
	if opts.Mode == Decompress {
		res, err = opts.Validator.DecompressFile(ctx, req, codec...)
	} else {
		res, err = opts.Validator.CompressFile(ctx, req, codec...)
	}

	fr := FileResult{Input: path, Output: req.OutputPath, Result: res, Err: err}
	switch {
	case err == nil:
		fr.Outcome = progress.Success
		timer.FinishKV("done", int64(res.Chunks), resultKV(res))
	case core.IsIgnorable(err):
		fr.Outcome = progress.Ignored
		opts.Logger.Warn("batch", err, "ignored", path)
	default:
		fr.Outcome = progress.Failed
		timer.Fail(err)
	}
	tracker.Record(fr.Outcome)
	if opts.OnFile != nil {
		opts.OnFile(fr)
	}
}

func resultKV(res core.Result) map[string]string {
	kv := map[string]string{
		"input_size":  fmt.Sprint(res.InputSize),
		"output_size": fmt.Sprint(res.OutputSize),
	}
	if res.Digest != "" {
		kv["sha1"] = res.Digest
	}
	return kv
}

// split divides files into at most n contiguous, disjoint slices.
func split(files []string, n int) [][]string {
	if n <= 0 || len(files) == 0 {
		return nil
	}
	size := (len(files) + n - 1) / n
	var out [][]string
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[start:end])
	}
	return out
}

// calculateTotalSize sums the sizes of files that can be stat'ed
func calculateTotalSize(files []string) uint64 {
	var totalSize uint64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		totalSize += uint64(info.Size())
	}
	return totalSize
}
