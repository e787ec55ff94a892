package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"metasift/analysis"
	"metasift/detect"
	"metasift/findings"
	"metasift/fsinfo"
)

type pdfExtractor struct {
	heur *detect.Heuristics
}

func (p *pdfExtractor) Name() string { return "pdf" }

func (p *pdfExtractor) Extract(path string, facts *fsinfo.Facts, tree *analysis.Tree, sink *findings.Sink) {
	base := filepath.Base(path)
	g := tree.Group("PDF Metadata")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			sink.AddAnomaly(fmt.Sprintf("%s: File not found during PDF processing.", base))
			g.SetLeaf("Error", "File not found.")
			return
		}
		sink.AddAnomaly(fmt.Sprintf("%s: Error reading PDF (likely corrupt or password protected) - %v", base, err))
		g.SetLeaf("Error", fmt.Sprintf("Failed to read PDF: %v", err))
		return
	}
	defer f.Close()

	info, err := api.PDFInfo(f, base, nil, false, nil)
	if err != nil {
		sink.AddAnomaly(fmt.Sprintf("%s: Error reading PDF (likely corrupt or password protected) - %v", base, err))
		g.SetLeaf("Error", fmt.Sprintf("Failed to read PDF: %v", err))
		return
	}

	fields := []struct{ name, value string }{
		{"Title", info.Title},
		{"Author", info.Author},
		{"Subject", info.Subject},
		{"Producer", info.Producer},
		{"Creator", info.Creator},
		{"Creation Date", info.CreationDate},
		{"Modification Date", info.ModificationDate},
		{"Keywords", strings.Join(info.Keywords, ", ")},
	}
	hasContent := false
	var producer string
	for _, fd := range fields {
		value := strings.TrimSpace(fd.value)
		if value == "" {
			continue
		}
		hasContent = true
		g.SetLeaf(fd.name, value)
		switch fd.name {
		case "Creator":
			if p.heur.PDFCreators.Match(value) {
				sink.AddIssue(fmt.Sprintf("File '%s': Created with Photoshop (%s)", base, value))
			}
		case "Producer":
			producer = value
		}
	}

	if len(info.Properties) > 0 {
		hasContent = true
		other := g.Group("Other Metadata")
		keys := make([]string, 0, len(info.Properties))
		for k := range info.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			other.SetLeaf(strings.TrimPrefix(k, "/"), strings.TrimSpace(info.Properties[k]))
		}
	}

	pdfCreate, haveCreate := parsePDFDate(info.CreationDate)
	pdfMod, haveMod := parsePDFDate(info.ModificationDate)
	prefix := fmt.Sprintf("File '%s' - PDF Time Issue:", base)
	if haveCreate && haveMod && detect.Before(pdfMod, pdfCreate) {
		g.SetLeaf("TIME INCONSISTENCY", "ModDate before CreationDate")
		sink.AddIssue(fmt.Sprintf("%s PDF ModDate (%s) is before PDF CreationDate (%s)",
			prefix, pdfMod.Display(), pdfCreate.Display()))
	}
	if haveCreate && facts != nil {
		fsMod := detect.Stamp{Time: facts.Modified}
		if detect.SignificantlyAfter(pdfCreate, fsMod, detect.FormatTolerance) {
			g.SetLeaf("TIME INCONSISTENCY", "PDF created after filesystem modified")
			sink.AddIssue(fmt.Sprintf("%s PDF CreationDate (%s) is significantly after Filesystem Modified (%s)",
				prefix, pdfCreate.Display(), fsMod.Display()))
		}
	}

	g.SetLeaf("Page Count", strconv.Itoa(info.PageCount))

	if info.Encrypted {
		g.SetLeaf("ENCRYPTION", "Document is encrypted")
		sink.AddAnomaly(fmt.Sprintf("File '%s': Encrypted PDF document", base))
		if !hasContent && info.PageCount > 0 {
			g.SetLeaf("HIDDEN METADATA", "Metadata likely encrypted")
			sink.AddAnomaly(fmt.Sprintf("File '%s': PDF metadata likely hidden by encryption", base))
		}
	}

	if p.heur.PDFProducers.Match(producer) {
		g.SetLeaf("SUSPICIOUS PRODUCER", producer)
		sink.AddAnomaly(fmt.Sprintf("File '%s': Suspicious PDF producer - %s", base, producer))
	}

	if !hasContent && info.PageCount == 0 {
		g.SetLeaf("Status", "No metadata found and 0 pages.")
		sink.AddIssue(fmt.Sprintf("File '%s': PDF has no metadata and 0 pages (potentially empty or corrupt).", base))
	} else if !hasContent {
		g.SetLeaf("Status", "No standard metadata found.")
	}
}
