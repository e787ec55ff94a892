package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"metasift/analysis"
	"metasift/config"
	"metasift/systeminfo"

	"github.com/google/uuid"
)

type reportDoc struct {
	SchemaVersion string                   `json:"schema_version"`
	RunID         string                   `json:"run_id"`
	GeneratedAt   string                   `json:"generated_at"`
	Tool          map[string]string        `json:"tool"`
	Host          *systeminfo.HostInfo     `json:"host"`
	Files         []map[string]interface{} `json:"files"`
	Anomalies     []string                 `json:"anomalies"`
	LogicalIssues []string                 `json:"logical_issues"`
	Metrics       *Metrics                 `json:"metrics"`
}

func readReport(t *testing.T, path string) reportDoc {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var doc reportDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		t.Fatalf("decode report: %v\n%s", err, content)
	}
	return doc
}

func sampleRecord(name string) *analysis.FileRecord {
	tree := analysis.NewTree()
	fs := tree.Group("File System Info")
	fs.SetLeaf("File Size", "12 bytes")
	fs.SetLeaf("Last Modified", "2026-03-01 10:00:00 UTC")
	tree.SetLeaf("Status", "Unsupported file type or required library missing.")

	mod := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &analysis.FileRecord{
		Path: filepath.Join("/tmp/in", name),
		Name: name,
		Tree: tree,
		Stats: &analysis.FileStats{
			Size:          12,
			Modified:      mod,
			Created:       mod.Add(-time.Hour),
			Accessed:      mod.Add(time.Minute),
			CreatedSource: "birth time",
		},
		Digests: map[string]string{"sha256": "abc123"},
	}
}

func TestReportLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	cfg := &config.Config{OutputFileName: path}
	host := &systeminfo.HostInfo{OS: "linux", Architecture: "amd64", CPUCount: 4}

	w, err := New(cfg, host, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteRecord(sampleRecord("a.jpg"))
	w.WriteRecord(sampleRecord("b.pdf"))
	w.SetFindings(
		[]string{"a.jpg: FAKE IMAGE: This is actually a PDF document!"},
		[]string{"b.pdf: File size is 0 bytes (empty file)."},
	)
	w.SetMetrics(Metrics{
		StartTime:  "2026-03-01T10:00:00Z",
		EndTime:    "2026-03-01T10:00:05Z",
		TotalFiles: 2,
	})
	w.Close()

	doc := readReport(t, path)
	if doc.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version: %s", doc.SchemaVersion)
	}
	if _, err := uuid.Parse(doc.RunID); err != nil {
		t.Fatalf("run_id is not a UUID: %q (%v)", doc.RunID, err)
	}
	if _, err := time.Parse(time.RFC3339, doc.GeneratedAt); err != nil {
		t.Fatalf("generated_at is not RFC3339: %q", doc.GeneratedAt)
	}
	if doc.Tool["name"] != "metasift" || doc.Tool["version"] == "" {
		t.Fatalf("unexpected tool header: %v", doc.Tool)
	}
	if doc.Host == nil || doc.Host.OS != "linux" {
		t.Fatalf("expected host header, got %v", doc.Host)
	}
	if len(doc.Files) != 2 {
		t.Fatalf("expected 2 file entries, got %d", len(doc.Files))
	}
	if doc.Files[0]["name"] != "a.jpg" || doc.Files[1]["name"] != "b.pdf" {
		t.Fatalf("file entries out of order: %v, %v", doc.Files[0]["name"], doc.Files[1]["name"])
	}
	if got, ok := doc.Files[0]["size"].(float64); !ok || got != 12 {
		t.Fatalf("expected size 12, got %v", doc.Files[0]["size"])
	}
	meta, ok := doc.Files[0]["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected metadata object, got %T", doc.Files[0]["metadata"])
	}
	fsInfo, ok := meta["File System Info"].(map[string]interface{})
	if !ok || fsInfo["File Size"] != "12 bytes" {
		t.Fatalf("expected nested file system info, got %v", meta)
	}
	hashes, ok := doc.Files[0]["hashes"].(map[string]interface{})
	if !ok || hashes["sha256"] != "abc123" {
		t.Fatalf("expected sha256 digest in entry, got %v", doc.Files[0]["hashes"])
	}
	if len(doc.Anomalies) != 1 || !strings.Contains(doc.Anomalies[0], "FAKE IMAGE") {
		t.Fatalf("unexpected anomalies: %v", doc.Anomalies)
	}
	if len(doc.LogicalIssues) != 1 {
		t.Fatalf("unexpected logical issues: %v", doc.LogicalIssues)
	}
	if doc.Metrics == nil {
		t.Fatal("expected metrics footer")
	}
	if doc.Metrics.TotalFiles != 2 || doc.Metrics.FilesAnalyzed != 2 {
		t.Fatalf("unexpected metrics counters: %+v", doc.Metrics)
	}
	if doc.Metrics.Anomalies != 1 || doc.Metrics.LogicalIssues != 1 {
		t.Fatalf("expected finding counts in metrics, got %+v", doc.Metrics)
	}
}

func TestReportWithoutHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	cfg := &config.Config{OutputFileName: path}

	w, err := New(cfg, nil, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteRecord(sampleRecord("a.jpg"))
	w.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if strings.Contains(string(content), "\"host\"") {
		t.Fatal("expected no host header when host info was not collected")
	}
	doc := readReport(t, path)
	if len(doc.Files) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(doc.Files))
	}
}

func TestReportMetadataKeyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	cfg := &config.Config{OutputFileName: path}

	tree := analysis.NewTree()
	tree.SetLeaf("Zulu", "first")
	tree.SetLeaf("Alpha", "second")
	rec := &analysis.FileRecord{Path: "/tmp/in/order.png", Name: "order.png", Tree: tree}

	w, err := New(cfg, nil, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	w.WriteRecord(rec)
	w.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	zulu := strings.Index(string(content), "Zulu")
	alpha := strings.Index(string(content), "Alpha")
	if zulu == -1 || alpha == -1 || zulu > alpha {
		t.Fatalf("expected insertion order preserved, got Zulu=%d Alpha=%d", zulu, alpha)
	}
}

func TestWriteRecordConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	cfg := &config.Config{OutputFileName: path}

	w, err := New(cfg, nil, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.WriteRecord(sampleRecord(fmt.Sprintf("f%d.txt", i)))
		}(i)
	}
	wg.Wait()
	w.Close()

	doc := readReport(t, path)
	if len(doc.Files) != 5 {
		t.Fatalf("expected 5 file entries, got %d", len(doc.Files))
	}
	seen := map[string]bool{}
	for _, entry := range doc.Files {
		if name, ok := entry["name"].(string); ok {
			seen[name] = true
		}
	}
	for i := range 5 {
		if !seen[fmt.Sprintf("f%d.txt", i)] {
			t.Fatalf("missing entry f%d.txt", i)
		}
	}
}

func TestReportRotation(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "report.json")
	cfg := &config.Config{OutputFileName: base, MaxOutputFileSize: 700}

	w, err := New(cfg, nil, &Metrics{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 4; i++ {
		w.WriteRecord(sampleRecord(fmt.Sprintf("f%d.jpg", i)))
	}
	w.Close()

	first := readReport(t, base)
	rotated := readReport(t, filepath.Join(tmpDir, "report.1.json"))
	if first.RunID != rotated.RunID {
		t.Fatalf("expected shared run_id across parts, got %q vs %q", first.RunID, rotated.RunID)
	}
	if first.SchemaVersion != SchemaVersion || rotated.SchemaVersion != SchemaVersion {
		t.Fatal("expected schema version in every part")
	}
	if len(first.Files) == 0 {
		t.Fatal("expected records in first part")
	}
}

func TestSetMetricsUsesWriterCounters(t *testing.T) {
	w := &Writer{}
	w.filesAnalyzed.Store(3)
	w.anomalies = []string{"x: EMPTY FILE"}

	w.SetMetrics(Metrics{TotalFiles: 10})
	if w.metrics == nil {
		t.Fatal("expected metrics to be set")
	}
	if w.metrics.TotalFiles != 10 {
		t.Fatalf("expected TotalFiles=10, got %d", w.metrics.TotalFiles)
	}
	if w.metrics.FilesAnalyzed != 3 {
		t.Fatalf("expected FilesAnalyzed=3, got %d", w.metrics.FilesAnalyzed)
	}
	if w.metrics.Anomalies != 1 {
		t.Fatalf("expected Anomalies=1, got %d", w.metrics.Anomalies)
	}
}

func TestShouldSync(t *testing.T) {
	w := &Writer{recordsSinceSync: 1, lastSyncAt: time.Now()}
	if !w.shouldSync() {
		t.Fatal("expected sync on first record")
	}

	w.recordsSinceSync = flushEveryRecords
	if !w.shouldSync() {
		t.Fatal("expected sync at flush threshold")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now().Add(-flushMaxInterval - time.Millisecond)
	if !w.shouldSync() {
		t.Fatal("expected time-based sync")
	}

	w.recordsSinceSync = 2
	w.lastSyncAt = time.Now()
	if w.shouldSync() {
		t.Fatal("expected no sync when below thresholds")
	}
}

func TestFileDocumentOmitsStatsWhenMissing(t *testing.T) {
	rec := &analysis.FileRecord{Path: "/tmp/in/gone.jpg", Name: "gone.jpg", Tree: analysis.NewTree()}
	doc := newFileDocument(rec)
	if doc.Size != nil {
		t.Fatalf("expected nil size for missing stats, got %v", *doc.Size)
	}
	bytes, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(bytes), "\"size\"") {
		t.Fatalf("expected size omitted, got %s", bytes)
	}
}
