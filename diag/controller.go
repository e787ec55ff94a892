// Package diag watches a running batch for stalls. When the analyzed-file
// counter stops moving for longer than the configured threshold it writes a
// stall event (and optionally a flight recorder dump) so a wedged parser
// can be diagnosed after the fact.
package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"metasift/logger"
)

// stampLayout names artifacts down to the millisecond so repeated dumps in
// one run never collide.
const stampLayout = "20060102-150405.000"

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long the analyzed counter may sit still before
	// artifacts are dumped. Zero disables the watchdog.
	StallThreshold time.Duration

	// Dir receives the artifacts; defaults to the current directory.
	Dir string

	// GoroutineLeak requests a goroutine profile dump on Close.
	GoroutineLeak bool

	// AnalyzedCountFn reports how many files have finished so far.
	AnalyzedCountFn func() int64

	// CurrentFileFn, when set, names the file being processed; it is
	// recorded in the stall event so the wedged input can be identified.
	CurrentFileFn func() string

	// DumpFlightRecorder, when set, writes the trace flight buffer next to
	// the stall event.
	DumpFlightRecorder func(path string) error

	NowFn           func() time.Time
	ProfileLookupFn func(name string) profileWriter
}

type Controller struct {
	stallThreshold     time.Duration
	dir                string
	goroutineLeak      bool
	analyzedCountFn    func() int64
	currentFileFn      func() string
	dumpFlightRecorder func(path string) error
	nowFn              func() time.Time
	profileLookupFn    func(name string) profileWriter

	mu             sync.Mutex
	lastAnalyzedAt time.Time
	lastAnalyzed   int64
	lastDumpAt     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewController(opts Options) *Controller {
	c := &Controller{
		stallThreshold:     opts.StallThreshold,
		dir:                opts.Dir,
		goroutineLeak:      opts.GoroutineLeak,
		analyzedCountFn:    opts.AnalyzedCountFn,
		currentFileFn:      opts.CurrentFileFn,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		nowFn:              opts.NowFn,
		profileLookupFn:    opts.ProfileLookupFn,
	}
	if c.nowFn == nil {
		c.nowFn = time.Now
	}
	if c.profileLookupFn == nil {
		c.profileLookupFn = func(name string) profileWriter { return pprof.Lookup(name) }
	}
	if c.dir == "" {
		c.dir = "."
	}
	return c
}

// Start launches the watchdog goroutine. It is a no-op without a threshold
// or a counter to watch, and at most one goroutine runs per controller.
func (c *Controller) Start(ctx context.Context) {
	if c == nil || c.stallThreshold <= 0 || c.analyzedCountFn == nil || c.stopCh != nil {
		return
	}

	c.mu.Lock()
	c.lastAnalyzed = c.analyzedCountFn()
	c.lastAnalyzedAt = c.nowFn()
	c.lastDumpAt = time.Time{}
	c.mu.Unlock()

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.watch(ctx, c.stopCh, c.doneCh)
}

func (c *Controller) watch(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.probeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.probe(c.nowFn())
		}
	}
}

// probeInterval samples at half the threshold, clamped so short thresholds
// stay responsive and long ones do not spin a hot ticker.
func (c *Controller) probeInterval() time.Duration {
	switch interval := c.stallThreshold / 2; {
	case interval <= 0:
		return 250 * time.Millisecond
	case interval > 2*time.Second:
		return 2 * time.Second
	default:
		return interval
	}
}

func (c *Controller) Close() {
	if c == nil {
		return
	}
	if c.stopCh != nil {
		close(c.stopCh)
		if c.doneCh != nil {
			<-c.doneCh
		}
		c.stopCh = nil
		c.doneCh = nil
	}

	if c.goroutineLeak {
		if _, err := c.writeProfile("goroutine", 2); err != nil {
			logger.Warnf("Diagnostics goroutine profile dump failed: %v", err)
		}
	}
}

func (c *Controller) probe(now time.Time) {
	if c == nil || c.analyzedCountFn == nil || c.stallThreshold <= 0 {
		return
	}
	report, due := c.checkStall(now)
	if !due {
		return
	}
	if err := c.writeStallArtifacts(report); err != nil {
		logger.Warnf("Diagnostics stall dump failed: %v", err)
	}
}

type stallReport struct {
	at         time.Time
	analyzed   int64
	stalledFor time.Duration
}

// checkStall advances the watchdog state and reports whether a dump is due.
// Repeat dumps for one stall are spaced at least a full threshold apart.
func (c *Controller) checkStall(now time.Time) (stallReport, bool) {
	analyzed := c.analyzedCountFn()

	c.mu.Lock()
	defer c.mu.Unlock()
	if analyzed != c.lastAnalyzed || c.lastAnalyzedAt.IsZero() {
		c.lastAnalyzed = analyzed
		c.lastAnalyzedAt = now
		return stallReport{}, false
	}
	stalledFor := now.Sub(c.lastAnalyzedAt)
	if stalledFor < c.stallThreshold {
		return stallReport{}, false
	}
	if !c.lastDumpAt.IsZero() && now.Sub(c.lastDumpAt) < c.stallThreshold {
		return stallReport{}, false
	}
	c.lastDumpAt = now
	return stallReport{at: now, analyzed: analyzed, stalledFor: stalledFor}, true
}

type stallEvent struct {
	Event         string `json:"event"`
	Timestamp     string `json:"timestamp"`
	FilesAnalyzed int64  `json:"files_analyzed"`
	CurrentFile   string `json:"current_file,omitempty"`
	ThresholdMS   int64  `json:"threshold_ms"`
	StalledMS     int64  `json:"observed_stalled_ms"`
}

func (c *Controller) writeStallArtifacts(report stallReport) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	event := stallEvent{
		Event:         "analysis_stall_threshold_exceeded",
		Timestamp:     report.at.UTC().Format(time.RFC3339Nano),
		FilesAnalyzed: report.analyzed,
		ThresholdMS:   c.stallThreshold.Milliseconds(),
		StalledMS:     report.stalledFor.Milliseconds(),
	}
	if c.currentFileFn != nil {
		event.CurrentFile = c.currentFileFn()
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}

	ts := report.at.UTC().Format(stampLayout)
	if err := os.WriteFile(filepath.Join(c.dir, "metasift-stall-"+ts+".json"), b, 0600); err != nil {
		return err
	}
	if c.dumpFlightRecorder != nil {
		if err := c.dumpFlightRecorder(filepath.Join(c.dir, "metasift-flight-"+ts+".out")); err != nil {
			logger.Warnf("Diagnostics flight recorder dump failed: %v", err)
		}
	}
	return nil
}

// writeProfile buffers the profile before touching disk so a failed WriteTo
// never leaves a truncated artifact behind.
func (c *Controller) writeProfile(name string, debug int) (string, error) {
	if c == nil || c.profileLookupFn == nil {
		return "", fmt.Errorf("diagnostics controller not configured")
	}
	profile := c.profileLookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}

	var buf bytes.Buffer
	if err := profile.WriteTo(&buf, debug); err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, fmt.Sprintf("metasift-%s-profile-%s.pprof", name, c.nowFn().UTC().Format(stampLayout)))
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return "", err
	}
	return path, nil
}
