// Package fsinfo collects the filesystem snapshot for a file before any
// format parsing runs: size, the three timestamps with their provenance,
// and the extension as spelled in the path.
package fsinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/djherbis/times"

	"metasift/analysis"
	"metasift/findings"
)

// TimeDisplayFormat renders timestamps the way the report displays them,
// local zone abbreviation and offset included.
const TimeDisplayFormat = "2006-01-02 15:04:05 MST-0700"

// timeTolerance absorbs filesystem timestamp rounding when comparing the
// three stat times against each other.
const timeTolerance = 2 * time.Second

// Facts is the filesystem snapshot taken when processing of a file starts.
type Facts struct {
	Path          string
	Name          string
	Extension     string
	Size          int64
	Modified      time.Time
	Accessed      time.Time
	Created       time.Time
	CreatedSource string
}

// Collect stats path and derives timestamp provenance. Creation time
// prefers the birth time where the filesystem records one, falling back to
// the inode change time.
func Collect(path string) (*Facts, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	ts, err := times.Stat(path)
	if err != nil {
		return nil, err
	}
	f := &Facts{
		Path:      path,
		Name:      filepath.Base(path),
		Extension: filepath.Ext(path),
		Size:      fi.Size(),
		Modified:  fi.ModTime(),
		Accessed:  ts.AccessTime(),
	}
	switch {
	case ts.HasBirthTime():
		f.Created = ts.BirthTime()
		f.CreatedSource = "birthtime"
	case ts.HasChangeTime():
		f.Created = ts.ChangeTime()
		if runtime.GOOS == "windows" {
			f.CreatedSource = "ctime"
		} else {
			f.CreatedSource = "ctime (metadata change)"
		}
	default:
		f.Created = fi.ModTime()
		f.CreatedSource = "mtime (no ctime available)"
	}
	return f, nil
}

// Render writes the File System Info group and reports timestamp ordering
// and empty-file issues. The issue text embeds the displayed time strings
// so report and findings stay in sync.
func (f *Facts) Render(tree *analysis.Tree, sink *findings.Sink) {
	created := f.Created.Format(TimeDisplayFormat) + fmt.Sprintf(" (source: %s)", f.CreatedSource)
	modified := f.Modified.Format(TimeDisplayFormat)
	accessed := f.Accessed.Format(TimeDisplayFormat)

	g := tree.Group("File System Info")
	g.SetLeaf("File Size", FormatSize(f.Size))
	g.SetLeaf("Created", created)
	g.SetLeaf("Modified", modified)
	g.SetLeaf("Accessed", accessed)
	g.SetLeaf("Extension", f.Extension)

	prefix := fmt.Sprintf("File '%s' - Filesystem Time Issue:", f.Name)
	if f.Modified.Before(f.Created.Add(-timeTolerance)) {
		sink.AddIssue(fmt.Sprintf("%s Modified (%s) significantly before Created (%s)", prefix, modified, created))
	}
	if f.Accessed.Before(f.Created.Add(-timeTolerance)) {
		sink.AddIssue(fmt.Sprintf("%s Accessed (%s) significantly before Created (%s)", prefix, accessed, created))
	}
	if f.Size == 0 {
		sink.AddIssue(fmt.Sprintf("File '%s': File size is 0 bytes (empty file).", f.Name))
	}
}

// RenderStatError writes the failure form of the File System Info group
// used when the initial stat could not be read.
func RenderStatError(tree *analysis.Tree, err error) {
	tree.Group("File System Info").SetLeaf("Error", fmt.Sprintf("Could not read stats: %v", err))
}

// Record converts the snapshot into the form stored on the file record.
func (f *Facts) Record() *analysis.FileStats {
	return &analysis.FileStats{
		Size:          f.Size,
		Modified:      f.Modified,
		Created:       f.Created,
		Accessed:      f.Accessed,
		CreatedSource: f.CreatedSource,
	}
}

// FormatSize renders a byte count for display.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KiB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1024*1024*1024))
	}
}
