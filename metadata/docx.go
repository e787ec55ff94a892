package metadata

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"metasift/analysis"
	"metasift/detect"
	"metasift/findings"
	"metasift/fsinfo"
)

const (
	docxCorePart = "docProps/core.xml"
	docxBodyPart = "word/document.xml"
	docxRelsPart = "word/_rels/document.xml.rels"
)

// manyObjectsThreshold is the inline-shape count above which a document
// is worth a second look.
const manyObjectsThreshold = 20

// coreProperties is the docProps/core.xml payload. Fields match by local
// name; the core-property vocabulary never reuses one across namespaces.
type coreProperties struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
	Revision       string `xml:"revision"`
	Category       string `xml:"category"`
	Keywords       string `xml:"keywords"`
	Description    string `xml:"description"`
}

type docxStats struct {
	paragraphs int
	tables     int
	inline     int
}

type docxExtractor struct {
	heur *detect.Heuristics
}

func (d *docxExtractor) Name() string { return "docx" }

func (d *docxExtractor) Extract(path string, facts *fsinfo.Facts, tree *analysis.Tree, sink *findings.Sink) {
	base := filepath.Base(path)
	g := tree.Group("DOCX Metadata")

	zr, err := zip.OpenReader(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			sink.AddAnomaly(fmt.Sprintf("%s: File not found during DOCX processing.", base))
			g.SetLeaf("Error", "File not found.")
		case errors.Is(err, zip.ErrFormat):
			sink.AddAnomaly(fmt.Sprintf("%s: Error processing DOCX - File may be corrupt or not a valid DOCX (not a valid zip file).", base))
			g.SetLeaf("Error", "DOCX processing failed: not a valid zip file (corrupt?)")
		default:
			sink.AddAnomaly(fmt.Sprintf("%s: Error processing DOCX - %v", base, err))
			g.SetLeaf("Error", fmt.Sprintf("DOCX processing failed: %v", err))
		}
		return
	}
	defer zr.Close()

	// parse every part up front so a torn container fails the file as a
	// whole rather than leaving a half-rendered group
	props, err := readCoreProperties(&zr.Reader)
	if err == nil {
		var stats docxStats
		stats, err = readDocumentStats(&zr.Reader)
		if err == nil {
			var hasVBA bool
			hasVBA, err = readVBAFlag(&zr.Reader)
			if err == nil {
				d.render(base, props, stats, hasVBA, facts, g, sink)
				return
			}
		}
	}
	sink.AddAnomaly(fmt.Sprintf("%s: Error processing DOCX - %v", base, err))
	g.SetLeaf("Error", fmt.Sprintf("DOCX processing failed: %v", err))
}

func (d *docxExtractor) render(base string, props coreProperties, stats docxStats, hasVBA bool, facts *fsinfo.Facts, g *analysis.Tree, sink *findings.Sink) {
	docxCreate, haveCreate := parseDocxTime(props.Created)
	docxMod, haveMod := parseDocxTime(props.Modified)

	entries := []struct{ name, value string }{
		{"Title", strings.TrimSpace(props.Title)},
		{"Subject", strings.TrimSpace(props.Subject)},
		{"Author", strings.TrimSpace(props.Creator)},
		{"Last Modified By", strings.TrimSpace(props.LastModifiedBy)},
		{"Created", displayDocxTime(docxCreate, haveCreate)},
		{"Modified", displayDocxTime(docxMod, haveMod)},
		{"Revision", revisionValue(props.Revision)},
		{"Category", strings.TrimSpace(props.Category)},
		{"Keywords", strings.TrimSpace(props.Keywords)},
		{"Comments", strings.TrimSpace(props.Description)},
	}
	hasContent := false
	for _, e := range entries {
		if e.value == "" {
			continue
		}
		hasContent = true
		g.SetLeaf(e.name, e.value)
		if e.name == "Last Modified By" {
			if d.heur.AdminUsers.Match(e.value) {
				sink.AddAnomaly(fmt.Sprintf("File '%s': Modified by admin account - %s", base, e.value))
			} else if d.heur.GenericUsers.Match(e.value) {
				sink.AddIssue(fmt.Sprintf("File '%s': Modified by generic account - %s", base, e.value))
			}
		}
	}

	prefix := fmt.Sprintf("File '%s' - DOCX Time Issue:", base)
	if haveCreate && haveMod && detect.Before(docxMod, docxCreate) {
		g.SetLeaf("TIME INCONSISTENCY", "Modified before Created")
		sink.AddIssue(fmt.Sprintf("%s DOCX Modified (%s) is before DOCX Created (%s)",
			prefix, docxMod.Display(), docxCreate.Display()))
	}
	if haveCreate && facts != nil {
		fsMod := detect.Stamp{Time: facts.Modified}
		if detect.SignificantlyAfter(docxCreate, fsMod, detect.FormatTolerance) {
			g.SetLeaf("TIME INCONSISTENCY", "Created after filesystem modified")
			sink.AddIssue(fmt.Sprintf("%s DOCX Created (%s) is significantly after Filesystem Modified (%s)",
				prefix, docxCreate.Display(), fsMod.Display()))
		}
	}

	sg := g.Group("Document Statistics")
	sg.SetLeaf("Paragraphs", strconv.Itoa(stats.paragraphs))
	sg.SetLeaf("Tables", strconv.Itoa(stats.tables))
	sg.SetLeaf("Inline Shapes (Images, etc.)", strconv.Itoa(stats.inline))
	if stats.inline > manyObjectsThreshold {
		sg.SetLeaf("MANY EMBEDDED OBJECTS", strconv.Itoa(stats.inline))
		sink.AddIssue(fmt.Sprintf("File '%s': Contains many embedded objects (%d)", base, stats.inline))
	}

	if hasVBA {
		g.SetLeaf("MACRO DETECTED", "Document contains VBA macros")
		sink.AddAnomaly(fmt.Sprintf("File '%s': Contains VBA macros (potential security risk)", base))
	}

	if !hasContent {
		g.SetLeaf("Status", "No standard metadata found.")
	}
}

var docxTimeLayouts = []struct {
	layout string
	aware  bool
}{
	{time.RFC3339, true},
	{"2006-01-02T15:04Z07:00", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02", false},
}

// parseDocxTime reads the W3C datetime forms core properties use. Values
// without an offset parse as zoneless local stamps.
func parseDocxTime(s string) (detect.Stamp, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return detect.Stamp{}, false
	}
	for _, l := range docxTimeLayouts {
		if t, err := time.ParseInLocation(l.layout, s, time.Local); err == nil {
			return detect.Stamp{Time: t, Aware: l.aware}, true
		}
	}
	return detect.Stamp{}, false
}

func displayDocxTime(s detect.Stamp, ok bool) string {
	if !ok {
		return ""
	}
	return s.Time.Local().Format(fsinfo.TimeDisplayFormat)
}

// revisionValue drops absent or zero revision counters.
func revisionValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "0" {
		return ""
	}
	return s
}

func readCoreProperties(zr *zip.Reader) (coreProperties, error) {
	var props coreProperties
	f, err := zr.Open(docxCorePart)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// a package without core properties is valid, just empty
			return props, nil
		}
		return props, fmt.Errorf("opening %s: %w", docxCorePart, err)
	}
	defer f.Close()
	if err := xml.NewDecoder(f).Decode(&props); err != nil {
		return props, fmt.Errorf("parsing %s: %w", docxCorePart, err)
	}
	return props, nil
}

func readDocumentStats(zr *zip.Reader) (docxStats, error) {
	f, err := zr.Open(docxBodyPart)
	if err != nil {
		return docxStats{}, fmt.Errorf("opening %s: %w", docxBodyPart, err)
	}
	defer f.Close()
	st, err := countDocumentStats(f)
	if err != nil {
		return st, fmt.Errorf("parsing %s: %w", docxBodyPart, err)
	}
	return st, nil
}

// countDocumentStats counts direct children of the body (paragraphs and
// tables) plus inline shapes at any depth, mirroring how word processors
// summarize document structure.
func countDocumentStats(r io.Reader) (docxStats, error) {
	var st docxStats
	dec := xml.NewDecoder(r)
	inBody := false
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "inline" {
				st.inline++
			}
			if t.Name.Local == "body" {
				inBody = true
				depth = 0
				continue
			}
			if inBody {
				if depth == 0 {
					switch t.Name.Local {
					case "p":
						st.paragraphs++
					case "tbl":
						st.tables++
					}
				}
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "body" {
				inBody = false
				continue
			}
			if inBody && depth > 0 {
				depth--
			}
		}
	}
	return st, nil
}

type relationships struct {
	Rels []struct {
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

func readVBAFlag(zr *zip.Reader) (bool, error) {
	f, err := zr.Open(docxRelsPart)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("opening %s: %w", docxRelsPart, err)
	}
	defer f.Close()
	var rels relationships
	if err := xml.NewDecoder(f).Decode(&rels); err != nil {
		return false, fmt.Errorf("parsing %s: %w", docxRelsPart, err)
	}
	for _, rel := range rels.Rels {
		if strings.Contains(rel.Target, "vbaProject") {
			return true, nil
		}
	}
	return false, nil
}
