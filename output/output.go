// Package output writes the batch report: one JSON document per output
// part, with a header (schema version, run id, tool, host), a streamed
// "files" array, the two finding streams and a metrics footer. Records can
// also be mirrored to an OTLP logs endpoint.
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"metasift/analysis"
	"metasift/config"
	"metasift/logger"
	"metasift/systeminfo"
	"metasift/version"

	"github.com/google/uuid"
)

// SchemaVersion identifies the report document layout. Bump it whenever a
// field changes meaning or moves; consumers key on it.
const SchemaVersion = "v1"

const (
	// flushEveryRecords bounds how many records may sit in the OS page
	// cache before the report file is fsynced.
	flushEveryRecords = 64
	// flushMaxInterval bounds how long a record may wait for a sync when
	// the batch is trickling in slowly.
	flushMaxInterval = 2 * time.Second
)

// Metrics is the report footer: batch timing and counters.
type Metrics struct {
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	TotalFiles    int    `json:"total_files"`
	FilesAnalyzed int    `json:"files_analyzed"`
	Anomalies     int    `json:"anomalies"`
	LogicalIssues int    `json:"logical_issues"`
}

type toolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// fileDocument is the report form of one analyzed file. Size is a pointer
// so a failed stat is distinguishable from a zero-byte file.
type fileDocument struct {
	Path          string            `json:"path"`
	Name          string            `json:"name"`
	Size          *int64            `json:"size,omitempty"`
	Modified      string            `json:"modified,omitempty"`
	Created       string            `json:"created,omitempty"`
	CreatedSource string            `json:"created_source,omitempty"`
	Accessed      string            `json:"accessed,omitempty"`
	Hashes        map[string]string `json:"hashes,omitempty"`
	FuzzyHashes   map[string]string `json:"fuzzy_hashes,omitempty"`
	Metadata      *analysis.Tree    `json:"metadata"`
}

// Writer streams the report to disk. Records are appended as they finish;
// findings and metrics land in the footer when the batch closes. When the
// file grows past MaxOutputFileSize it rotates, and every part is a
// complete JSON document on its own.
type Writer struct {
	file             *os.File
	buf              *bufio.Writer
	mu               sync.Mutex
	first            bool
	metrics          *Metrics
	cfg              *config.Config
	host             *systeminfo.HostInfo
	exporter         *logExporter
	runID            string
	generatedAt      string
	anomalies        []string
	issues           []string
	filesAnalyzed    atomic.Int64
	recordsSinceSync int
	lastSyncAt       time.Time
	base             string
	ext              string
	index            int
}

func New(cfg *config.Config, host *systeminfo.HostInfo, m *Metrics) (*Writer, error) {
	ext := filepath.Ext(cfg.OutputFileName)
	base := strings.TrimSuffix(cfg.OutputFileName, ext)

	w := &Writer{
		first:       true,
		metrics:     m,
		cfg:         cfg,
		host:        host,
		runID:       uuid.NewString(),
		generatedAt: time.Now().UTC().Format(time.RFC3339),
		base:        base,
		ext:         ext,
	}
	exporter, err := newLogExporter(cfg)
	if err != nil {
		logger.Warnf("OTLP export disabled: %v", err)
	} else if exporter != nil {
		w.exporter = exporter
		logger.Infof("Streaming records to OTLP endpoint %s", exporter.Endpoint())
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	if host != nil {
		w.emitRecordLocked("host_info", host)
	}
	return w, nil
}

// RunID returns the identifier stamped on every part of this report.
func (w *Writer) RunID() string {
	return w.runID
}

func (w *Writer) openFile() error {
	name := w.base + w.ext
	if w.index > 0 {
		name = fmt.Sprintf("%s.%d%s", w.base, w.index, w.ext)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1024*1024)
	w.first = true
	w.recordsSinceSync = 0
	w.lastSyncAt = time.Now()

	if _, err := w.buf.WriteString("{\n"); err != nil {
		return err
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *Writer) writeHeader() error {
	if _, err := fmt.Fprintf(w.buf, "  \"schema_version\": %q,\n", SchemaVersion); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.buf, "  \"run_id\": %q,\n", w.runID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.buf, "  \"generated_at\": %q,\n", w.generatedAt); err != nil {
		return err
	}

	toolBytes, err := marshalAtDepth(toolInfo{Name: "metasift", Version: version.Version}, 1)
	if err != nil {
		return err
	}
	if _, err := w.buf.WriteString("  \"tool\": "); err != nil {
		return err
	}
	if _, err := w.buf.Write(toolBytes); err != nil {
		return err
	}
	if _, err := w.buf.WriteString(",\n"); err != nil {
		return err
	}

	if w.host != nil {
		hostBytes, err := marshalAtDepth(w.host, 1)
		if err != nil {
			return err
		}
		if _, err := w.buf.WriteString("  \"host\": "); err != nil {
			return err
		}
		if _, err := w.buf.Write(hostBytes); err != nil {
			return err
		}
		if _, err := w.buf.WriteString(",\n"); err != nil {
			return err
		}
	}

	_, err = w.buf.WriteString("  \"files\": [\n")
	return err
}

// WriteRecord appends one analyzed file to the report. It satisfies the
// engine's record sink so results stream out while the batch is running.
func (w *Writer) WriteRecord(rec *analysis.FileRecord) {
	if rec == nil {
		return
	}
	doc := newFileDocument(rec)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.first {
		_, _ = w.buf.WriteString(",\n")
	}
	bytes, err := marshalAtDepth(doc, 2)
	if err == nil {
		_, _ = w.buf.WriteString("    ")
		_, _ = w.buf.Write(bytes)
	} else {
		logger.Errorf("Failed to encode record for %s: %v", rec.Name, err)
	}
	w.first = false
	w.filesAnalyzed.Add(1)
	w.emitRecordLocked("file", doc)

	w.recordsSinceSync++
	if w.shouldSync() {
		w.flush()
		_ = w.file.Sync()
		w.recordsSinceSync = 0
		w.lastSyncAt = time.Now()
	}

	if w.cfg.MaxOutputFileSize > 0 {
		w.flush()
		if info, err := w.file.Stat(); err == nil && info.Size() >= w.cfg.MaxOutputFileSize {
			w.rotate()
		}
	}
}

// shouldSync reports whether the report file should be fsynced now. The
// first record after opening a part always syncs so a crash still leaves a
// readable prefix on disk.
func (w *Writer) shouldSync() bool {
	if w.recordsSinceSync <= 1 {
		return true
	}
	if w.recordsSinceSync >= flushEveryRecords {
		return true
	}
	return time.Since(w.lastSyncAt) >= flushMaxInterval
}

// SetFindings stores the batch finding streams for the report footer and
// mirrors each entry to the OTEL export.
func (w *Writer) SetFindings(anomalies, issues []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.anomalies = anomalies
	w.issues = issues
	for _, msg := range anomalies {
		w.emitRecordLocked("anomaly", msg)
	}
	for _, msg := range issues {
		w.emitRecordLocked("logical_issue", msg)
	}
}

// SetMetrics installs the footer metrics. Counters the writer tracked
// itself (records written, findings stored) override the caller's values.
func (w *Writer) SetMetrics(m Metrics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := w.filesAnalyzed.Load(); n > 0 {
		m.FilesAnalyzed = int(n)
	}
	if len(w.anomalies) > 0 {
		m.Anomalies = len(w.anomalies)
	}
	if len(w.issues) > 0 {
		m.LogicalIssues = len(w.issues)
	}
	w.metrics = &m
}

// FilesAnalyzed returns the number of records written so far. Safe to call
// while the batch is running.
func (w *Writer) FilesAnalyzed() int64 {
	return w.filesAnalyzed.Load()
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emitMetricsLocked()
	w.closeFile()
	if w.exporter != nil {
		w.exporter.Shutdown()
	}
}

func (w *Writer) rotate() {
	w.closeFile()
	w.index++
	if err := w.openFile(); err != nil {
		logger.Errorf("Failed to open rotated report file: %v", err)
	}
}

func (w *Writer) closeFile() {
	_, _ = w.buf.WriteString("\n  ]")

	w.writeStringArray("anomalies", w.anomalies)
	w.writeStringArray("logical_issues", w.issues)

	if w.metrics != nil {
		mBytes, err := marshalAtDepth(w.metrics, 1)
		if err == nil {
			_, _ = w.buf.WriteString(",\n  \"metrics\": ")
			_, _ = w.buf.Write(mBytes)
		}
	}
	_, _ = w.buf.WriteString("\n}\n")
	w.flush()
	_ = w.file.Sync()
	_ = w.file.Close()
}

func (w *Writer) writeStringArray(key string, values []string) {
	if values == nil {
		values = []string{}
	}
	bytes, err := marshalAtDepth(values, 1)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w.buf, ",\n  %q: ", key)
	_, _ = w.buf.Write(bytes)
}

func (w *Writer) flush() {
	if w.buf != nil {
		_ = w.buf.Flush()
	}
}

func (w *Writer) emitMetricsLocked() {
	if w.metrics == nil {
		return
	}
	w.emitRecordLocked("metrics", w.metrics)
}

func (w *Writer) emitRecordLocked(recordType string, payload interface{}) {
	if w.exporter == nil {
		return
	}
	w.exporter.Emit(recordType, payload)
}

func newFileDocument(rec *analysis.FileRecord) *fileDocument {
	doc := &fileDocument{
		Path:        rec.Path,
		Name:        rec.Name,
		Hashes:      rec.Digests,
		FuzzyHashes: rec.FuzzyHashes,
		Metadata:    rec.Tree,
	}
	if rec.Stats != nil {
		size := rec.Stats.Size
		doc.Size = &size
		doc.Modified = formatStatTime(rec.Stats.Modified)
		doc.Created = formatStatTime(rec.Stats.Created)
		doc.CreatedSource = rec.Stats.CreatedSource
		doc.Accessed = formatStatTime(rec.Stats.Accessed)
	}
	return doc
}

func formatStatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
