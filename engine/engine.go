// Package engine drives a batch inspection: it expands the argument list
// into concrete files, runs the per-file pipeline (filesystem facts,
// signature and size checks, format extraction, steganography probes,
// digests), and collects everything into one BatchResult. Files are
// independent units of work; a failure inside one file is converted into
// findings and never stops the batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"metasift/analysis"
	"metasift/detect"
	"metasift/findings"
	"metasift/fsinfo"
	"metasift/fuzzy"
	"metasift/hasher"
	"metasift/logger"
	"metasift/metadata"
	"metasift/tracing"
	"metasift/utils"
)

// ErrNoFiles is returned when path expansion leaves nothing to analyze.
var ErrNoFiles = errors.New("no files to analyze")

// ErrBusy is returned when Run is called while a batch is in flight.
var ErrBusy = errors.New("analysis already in progress")

// State is the driver lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateProcessing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateProcessing:
		return "processing"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// RecordSink receives each completed record as soon as its file finishes,
// so reports stream instead of buffering the whole batch.
type RecordSink interface {
	WriteRecord(rec *analysis.FileRecord)
}

// Options tunes one batch run. The zero value analyzes with steganography
// probing off, no digests, and unthrottled reads.
type Options struct {
	// DetectSteganography enables the entropy and LSB probes for image
	// files.
	DetectSteganography bool

	// DigestAlgorithms selects content digests recorded per file
	// (md5, sha1, sha256, xxh64, blake3). Empty disables hashing.
	DigestAlgorithms []string

	// FuzzyAlgorithms selects similarity digests (tlsh). FuzzyMinSize and
	// FuzzyMaxSize bound the file sizes hashed; zero max means unbounded.
	FuzzyAlgorithms []string
	FuzzyMinSize    int64
	FuzzyMaxSize    int64

	// IncludePatterns and ExcludePatterns filter expanded paths by glob
	// (against the base name) or regexp (against the full path).
	IncludePatterns []string
	ExcludePatterns []string

	// ReadMode picks the content read strategy for steganography probes:
	// auto, stream, or mmap. MaxContentBytes caps how much of a file the
	// probes see; MmapMinSize and StreamChunkSize tune the reader.
	ReadMode        string
	MaxContentBytes int64
	MmapMinSize     int64
	StreamChunkSize int

	// MaxIOPerSecond throttles file dispatch; zero means unthrottled.
	MaxIOPerSecond int

	// Heuristics overrides the keyword rule set; nil uses the defaults.
	Heuristics *detect.Heuristics

	// FileStarted is called with each path just before its pipeline runs,
	// so watchdogs can name the file in flight.
	FileStarted func(path string)

	// Progress is called after each file with the running count. The
	// terminal progress bar renders independently of this callback.
	Progress func(done, total int, path string)

	// Records, when set, receives each record as it completes.
	Records RecordSink
}

// Driver walks a batch of files through the inspection pipeline.
type Driver struct {
	opts  Options
	heur  *detect.Heuristics
	state atomic.Int32
}

func New(opts Options) *Driver {
	heur := opts.Heuristics
	if heur == nil {
		heur = detect.DefaultHeuristics()
	}
	return &Driver{opts: opts, heur: heur}
}

// State reports the current lifecycle phase.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// AnalyzeBatch expands paths and runs the whole batch synchronously.
func AnalyzeBatch(ctx context.Context, paths []string, opts Options) (*analysis.BatchResult, error) {
	return New(opts).Run(ctx, paths)
}

// Run analyzes every file the path list expands to and returns the batch
// result. Findings are accumulated in a sink created for this run, so
// re-running the same driver starts from empty streams. Cancellation is
// honored between files only; the partial result is returned alongside
// the context error.
func (d *Driver) Run(ctx context.Context, paths []string) (*analysis.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	files := ExpandPaths(paths, d.opts.IncludePatterns, d.opts.ExcludePatterns)
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if err := d.begin(); err != nil {
		return nil, err
	}

	start := time.Now()
	sink := findings.NewSink()
	result := &analysis.BatchResult{Records: make([]*analysis.FileRecord, 0, len(files))}

	var limiter *rate.Limiter
	if d.opts.MaxIOPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.MaxIOPerSecond), d.opts.MaxIOPerSecond)
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Analyzing files"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionFullWidth(),
	)

	var runErr error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Analysis canceled after %d of %d files", i, len(files))
			runErr = err
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}

		if d.opts.FileStarted != nil {
			d.opts.FileStarted(path)
		}
		d.state.Store(int32(StateProcessing))
		rec := d.processFile(ctx, path, sink)
		d.state.Store(int32(StateRunning))

		result.Records = append(result.Records, rec)
		if d.opts.Records != nil {
			d.opts.Records.WriteRecord(rec)
		}
		_ = bar.Add(1)
		if d.opts.Progress != nil {
			d.opts.Progress(i+1, len(files), path)
		}
	}

	result.Anomalies = sink.Anomalies()
	result.LogicalIssues = sink.LogicalIssues()
	d.state.Store(int32(StateFinished))

	logger.Infof("Analysis complete. Processed %d of %d files (%d anomalies, %d logical issues) in %s.",
		len(result.Records), len(files), len(result.Anomalies), len(result.LogicalIssues),
		time.Since(start).Round(time.Millisecond))
	return result, runErr
}

// begin moves the driver into Running unless a run is already active.
func (d *Driver) begin() error {
	for {
		s := d.state.Load()
		if s == int32(StateRunning) || s == int32(StateProcessing) {
			return ErrBusy
		}
		if d.state.CompareAndSwap(s, int32(StateRunning)) {
			return nil
		}
	}
}

// processFile runs the full pipeline for one file. Every escape hatch
// funnels into the record and the sink: a stat failure keeps the file with
// an error group, and a panic anywhere below becomes the catch-all
// anomaly. The returned record is complete in all cases.
func (d *Driver) processFile(ctx context.Context, path string, sink *findings.Sink) (rec *analysis.FileRecord) {
	ctx, endTask := tracing.StartTask(ctx, "analyze_file")
	defer endTask()
	tracing.Log(ctx, "file", path)

	base := filepath.Base(path)
	tree := analysis.NewTree()
	rec = &analysis.FileRecord{Path: path, Name: base, Tree: tree}
	defer func() {
		if r := recover(); r != nil {
			sink.AddAnomaly(fmt.Sprintf("%s: Unexpected error during processing - %v", base, r))
			tree.SetLeaf("Processing Error", fmt.Sprint(r))
		}
	}()

	facts, statErr := fsinfo.Collect(path)
	if statErr != nil {
		sink.AddAnomaly(fmt.Sprintf("%s: Error reading file system stats - %v", base, statErr))
		fsinfo.RenderStatError(tree, statErr)
	} else {
		rec.Stats = facts.Record()
		facts.Render(tree, sink)

		if head, err := readHead(path, detect.SniffLen); err != nil {
			logger.Debugf("Signature sniff failed for %s: %v", path, err)
		} else if warning := detect.SignatureMismatch(path, head); warning != "" {
			tree.SetLeaf("SIGNATURE MISMATCH", warning)
			sink.AddAnomaly(fmt.Sprintf("%s: %s", base, warning))
		}

		if warnings := detect.SizeWarnings(path, facts.Size); len(warnings) > 0 {
			tree.SetLeaf("SIZE WARNING", strings.Join(warnings, "; "))
			for _, w := range warnings {
				sink.AddAnomaly(fmt.Sprintf("%s: %s", base, w))
			}
		}
	}

	kind := metadata.Classify(path)
	if ex := metadata.ForKind(kind, d.heur); ex != nil {
		endRegion := tracing.StartRegion(ctx, "extract_metadata")
		ex.Extract(path, facts, tree, sink)
		if kind == metadata.KindImage && d.opts.DetectSteganography {
			content, readErr := readContent(path, d.readOptions())
			if content == nil && readErr == nil {
				tree.Group("Steganography Analysis").SetLeaf("Status", "Skipped (file exceeds content read limit).")
			} else {
				detect.Steganography(path, content, readErr, tree, sink)
			}
		}
		endRegion()
	} else if facts != nil && !hasFormatGroup(tree) {
		tree.SetLeaf("Status", "Unsupported file type or required library missing.")
	}

	if facts != nil {
		endRegion := tracing.StartRegion(ctx, "hash_content")
		if len(d.opts.DigestAlgorithms) > 0 {
			rec.Digests = hasher.ComputeHashes(path, d.opts.DigestAlgorithms)
		}
		rec.FuzzyHashes = d.fuzzyHashes(path, facts.Size)
		endRegion()
	}
	return rec
}

func (d *Driver) readOptions() readOptions {
	return readOptions{
		mode:        d.opts.ReadMode,
		maxBytes:    d.opts.MaxContentBytes,
		mmapMinSize: d.opts.MmapMinSize,
		chunkSize:   d.opts.StreamChunkSize,
	}
}

func (d *Driver) fuzzyHashes(path string, size int64) map[string]string {
	if len(d.opts.FuzzyAlgorithms) == 0 {
		return nil
	}
	if size < d.opts.FuzzyMinSize {
		return nil
	}
	if d.opts.FuzzyMaxSize > 0 && size > d.opts.FuzzyMaxSize {
		return nil
	}
	out := make(map[string]string, len(d.opts.FuzzyAlgorithms))
	for _, name := range d.opts.FuzzyAlgorithms {
		h, ok := fuzzy.Lookup(name)
		if !ok {
			logger.Warnf("Unknown fuzzy hash algorithm: %s", name)
			continue
		}
		digest, err := h.HashFile(path)
		if err != nil {
			logger.Debugf("Fuzzy hash %s failed for %s: %v", name, path, err)
			continue
		}
		out[name] = digest
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// statusGroups are the tree entries that do not count as format metadata
// when deciding whether to mark a file unsupported.
var statusGroups = map[string]bool{
	"File System Info":       true,
	"Status":                 true,
	"Processing Error":       true,
	"Steganography Analysis": true,
}

func hasFormatGroup(tree *analysis.Tree) bool {
	for _, n := range tree.Nodes() {
		if !statusGroups[n.Key] {
			return true
		}
	}
	return false
}

// ExpandPaths resolves the argument list into the concrete files to
// analyze. Directory arguments are enumerated one level deep, keeping
// files with supported extensions in name order; enumeration failures are
// reported once and already collected paths survive. Explicit file
// arguments are kept as given, so a stat failure still yields a per-file
// finding later. Include and exclude patterns filter the final list.
func ExpandPaths(args []string, includes, excludes []string) []string {
	matcher := utils.NewPatternMatcher(includes, excludes)
	supported := make(map[string]bool)
	for _, ext := range metadata.SupportedExtensions() {
		supported[ext] = true
	}

	var files []string
	for _, arg := range args {
		if strings.TrimSpace(arg) == "" {
			continue
		}
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			entries, err := os.ReadDir(arg)
			if err != nil {
				logger.Warnf("Could not enumerate directory %s: %v", arg, err)
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if !supported[strings.ToLower(filepath.Ext(entry.Name()))] {
					continue
				}
				path := filepath.Join(arg, entry.Name())
				if matcher.ShouldInclude(path) {
					files = append(files, path)
				}
			}
			continue
		}
		if matcher.ShouldInclude(arg) {
			files = append(files, arg)
		}
	}
	return files
}

// readHead reads the leading bytes content sniffing needs. Short files
// return what they have.
func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

func progressVisible() bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv("METASIFT_DISABLE_PROGRESS")))
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
