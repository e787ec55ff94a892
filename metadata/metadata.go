// Package metadata turns files into named metadata fields. One extractor
// exists per format family; all of them render into the file's property
// tree and report findings through the shared sink rather than returning
// errors, so one bad file never disturbs its batch.
package metadata

import (
	"path/filepath"
	"sort"
	"strings"

	"metasift/analysis"
	"metasift/detect"
	"metasift/findings"
	"metasift/fsinfo"
)

// Kind names a format family with a dedicated extractor.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindPDF
	KindDocument
	KindMedia
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	case KindDocument:
		return "document"
	case KindMedia:
		return "media"
	}
	return "unknown"
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tiff": true,
}

// Classify picks the format family from the lower-cased extension.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return KindImage
	case ext == ".pdf":
		return KindPDF
	case ext == ".docx":
		return KindDocument
	case ext == ".mp3", ext == ".mp4":
		return KindMedia
	}
	return KindUnknown
}

// Extractor reads one file's format metadata into the tree. Extraction
// never fails: parse errors become Error leaves and anomaly lines. facts
// may be nil when the stat step failed; extractors then skip comparisons
// against filesystem times.
type Extractor interface {
	Name() string
	Extract(path string, facts *fsinfo.Facts, tree *analysis.Tree, sink *findings.Sink)
}

// ForKind returns the extractor for a format family, or nil for
// KindUnknown.
func ForKind(k Kind, heur *detect.Heuristics) Extractor {
	switch k {
	case KindImage:
		return &exifExtractor{heur: heur}
	case KindPDF:
		return &pdfExtractor{heur: heur}
	case KindDocument:
		return &docxExtractor{heur: heur}
	case KindMedia:
		return &mediaExtractor{}
	}
	return nil
}

// SupportedExtensions lists every extension Classify maps to an
// extractor, sorted, for directory enumeration.
func SupportedExtensions() []string {
	exts := []string{".pdf", ".docx", ".mp3", ".mp4"}
	for e := range imageExts {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}
