package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome classifies a finished file.
type Outcome int

const (
	Success Outcome = iota
	Failed
	Ignored
)

// Summary is a point-in-time copy of a tracker's counters.
type Summary struct {
	Success uint32
	Failed  uint32
	Ignored uint32
	Total   uint32
	Bytes   uint64
	Elapsed time.Duration
}

// Done returns the number of files that reached any outcome.
func (s Summary) Done() uint32 { return s.Success + s.Failed + s.Ignored }

// Tracker counts processed bytes and finished files for one batch run.
// Counters are updated atomically by workers and read by the reporter.
type Tracker struct {
	out       io.Writer
	quiet     bool
	interval  time.Duration
	totalSize uint64

	bytesProcessed atomic.Uint64
	success        atomic.Uint32
	failed         atomic.Uint32
	ignored        atomic.Uint32
	total          atomic.Uint32

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
	start   time.Time
}

// New returns a tracker for totalFiles files of totalSize bytes. Reports go
// to out; a nil out disables periodic output.
func New(out io.Writer, totalSize uint64, totalFiles uint32) *Tracker {
	if totalSize == 0 {
		totalSize = 1 // Avoid division by zero
	}
	t := &Tracker{out: out, quiet: out == nil, interval: 250 * time.Millisecond, totalSize: totalSize}
	t.total.Store(totalFiles)
	t.start = time.Now()
	return t
}

// Start launches the periodic reporter. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	t.done = make(chan struct{})
	t.stopped = make(chan struct{})
	t.running = true
	go t.report(t.done, t.stopped)
}

// Stop stops the reporter and waits for its final line.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	close(t.done)
	t.running = false
	stopped := t.stopped
	t.mu.Unlock()
	<-stopped
}

// AddBytes adds processed bytes to the counter
func (t *Tracker) AddBytes(n uint64) {
	if n > 0 {
		t.bytesProcessed.Add(n)
	}
}

// Record counts one finished file.
func (t *Tracker) Record(o Outcome) {
	switch o {
	case Success:
		t.success.Add(1)
	case Failed:
		t.failed.Add(1)
	case Ignored:
		t.ignored.Add(1)
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Summary {
	return Summary{
		Success: t.success.Load(),
		Failed:  t.failed.Load(),
		Ignored: t.ignored.Load(),
		Total:   t.total.Load(),
		Bytes:   t.bytesProcessed.Load(),
		Elapsed: time.Since(t.start),
	}
}

// FormatSize returns a human-readable size string
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatRate returns a human-readable rate string
func formatRate(bytesPerSec uint64) string {
	return FormatSize(bytesPerSec) + "/s"
}

// report logs processing progress periodically
func (t *Tracker) report(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	var prevBytes uint64
	var prevPercentage float64
	lastOutputTime := time.Now()
	ticksPerSecond := uint64(time.Second / t.interval)

	for {
		select {
		case <-ticker.C:
			if t.quiet {
				continue
			}
			s := t.Snapshot()
			rate := (s.Bytes - prevBytes) * ticksPerSecond
			prevBytes = s.Bytes

			currentPercentage := float64(s.Bytes) / float64(t.totalSize) * 100

			// Only show updates every second or for significant percentage changes
			if time.Since(lastOutputTime) >= time.Second || currentPercentage-prevPercentage >= 10 ||
				(currentPercentage >= 100 && prevPercentage < 100) {

				lastOutputTime = time.Now()
				timeRemaining := "calculating..."
				if rate > 0 && t.totalSize > s.Bytes {
					secondsRemaining := float64(t.totalSize-s.Bytes) / float64(rate)
					if secondsRemaining < 60 {
						timeRemaining = fmt.Sprintf("%.0f seconds", secondsRemaining)
					} else if secondsRemaining < 3600 {
						timeRemaining = fmt.Sprintf("%.1f minutes", secondsRemaining/60)
					} else {
						timeRemaining = fmt.Sprintf("%.1f hours", secondsRemaining/3600)
					}
				}

				fmt.Fprintf(t.out, "Processed %s of %s (%.1f%%) | Files %d/%d | Rate: %s | ETA: %s\n",
					FormatSize(s.Bytes), FormatSize(t.totalSize), currentPercentage,
					s.Done(), s.Total, formatRate(rate), timeRemaining)
				prevPercentage = currentPercentage
			}
		case <-done:
			if !t.quiet {
				s := t.Snapshot()
				secs := s.Elapsed.Seconds()
				if secs < 0.001 {
					secs = 0.001 // Avoid division by zero
				}
				fmt.Fprintf(t.out, "Completed processing %s in %.1f seconds (avg rate: %s)\n",
					FormatSize(s.Bytes), secs, formatRate(uint64(float64(s.Bytes)/secs)))
			}
			return
		}
	}
}
