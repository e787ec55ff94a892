package metadata

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"metasift/analysis"
	"metasift/detect"
	"metasift/findings"
	"metasift/fsinfo"
	"metasift/logger"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// maxTagDisplay caps rendered tag values; the full value still feeds the
// consistency checks.
const maxTagDisplay = 200

// exifRequiredTags are written by every camera, so their absence suggests
// stripping or editing.
var exifRequiredTags = []string{"DateTimeOriginal", "Make", "Model"}

type exifExtractor struct {
	heur *detect.Heuristics
}

func (e *exifExtractor) Name() string { return "exif" }

func (e *exifExtractor) Extract(path string, facts *fsinfo.Facts, tree *analysis.Tree, sink *findings.Sink) {
	base := filepath.Base(path)
	g := tree.Group("EXIF Metadata")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			sink.AddAnomaly(fmt.Sprintf("%s: File not found during EXIF processing.", base))
			g.SetLeaf("Error", "File not found.")
			return
		}
		sink.AddAnomaly(fmt.Sprintf("%s: Error processing image EXIF - %v", base, err))
		g.SetLeaf("Error", fmt.Sprintf("EXIF processing failed: %v", err))
		return
	}
	defer f.Close()

	if _, _, err := image.DecodeConfig(f); err != nil {
		sink.AddAnomaly(fmt.Sprintf("%s: Cannot identify image file (may be corrupt or unsupported format).", base))
		g.SetLeaf("Error", "Cannot identify image file.")
		return
	}

	var tags map[string]*tiff.Tag
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if x, err := exif.Decode(f); err == nil {
			tags = walkTags(x)
		} else {
			logger.Debugf("no EXIF block in %s: %v", base, err)
		}
	}

	if len(tags) == 0 {
		g.SetLeaf("Status", "No EXIF data found.")
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png":
			sink.AddAnomaly(fmt.Sprintf("File '%s': No EXIF data found in image file - may be stripped or edited", base))
		}
		return
	}

	// GPS tags render in their own block below, never as top leaves
	values := make(map[string]string, len(tags))
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := formatTagValue(tags[name])
		values[name] = value
		if strings.HasPrefix(name, "GPS") {
			continue
		}
		g.SetLeaf(name, truncateDisplay(value))
	}

	addGPSInfo(g, tags)
	e.applyTagChecks(base, values, facts, g, sink)
}

// applyTagChecks runs the consistency rules over the decoded tag values:
// serial number exposure, editing software, capture-time ordering, and
// the required-tag set.
func (e *exifExtractor) applyTagChecks(base string, values map[string]string, facts *fsinfo.Facts, g *analysis.Tree, sink *findings.Sink) {
	serial, ok := values["SerialNumber"]
	if !ok {
		serial, ok = values["BodySerialNumber"]
	}
	if ok {
		g.SetLeaf("Camera Serial Number", serial)
		if len(serial) > 10 {
			sink.AddIssue(fmt.Sprintf("File '%s': Camera serial number found - %s", base, serial))
		}
	}

	if software, found := values["Software"]; found && e.heur.EditingSoftware.Match(software) {
		g.SetLeaf("EDITING SOFTWARE", software)
		sink.AddAnomaly(fmt.Sprintf("File '%s': Edited with %s", base, software))
	}

	dtOrig, haveOrig := parseEXIFDateTime(values["DateTimeOriginal"])
	dtDigi, haveDigi := parseEXIFDateTime(values["DateTimeDigitized"])

	prefix := fmt.Sprintf("File '%s' - EXIF Time Issue:", base)
	if haveOrig && haveDigi && detect.After(dtOrig, dtDigi) {
		sink.AddIssue(fmt.Sprintf("%s DateTimeOriginal (%s) is after DateTimeDigitized (%s)",
			prefix, dtOrig.Display(), dtDigi.Display()))
	}
	if facts != nil && haveOrig {
		fsMod := detect.Stamp{Time: facts.Modified}
		fsCre := detect.Stamp{Time: facts.Created}
		if detect.SignificantlyAfter(dtOrig, fsMod, detect.FormatTolerance) {
			sink.AddIssue(fmt.Sprintf("%s DateTimeOriginal (%s) is significantly after Filesystem Modified (%s) - Suggests file modification after capture.",
				prefix, dtOrig.Display(), fsMod.Display()))
		}
		if detect.SignificantlyBefore(dtOrig, fsCre, detect.FormatTolerance) {
			sink.AddIssue(fmt.Sprintf("File '%s' - EXIF Note: DateTimeOriginal (%s) is significantly before Filesystem Created (%s) - May indicate copying or timestamp manipulation.",
				base, dtOrig.Display(), fsCre.Display()))
		}
	}

	var missing []string
	for _, tag := range exifRequiredTags {
		if _, found := values[tag]; !found {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		list := strings.Join(missing, ", ")
		g.SetLeaf("MISSING TAGS", list)
		sink.AddAnomaly(fmt.Sprintf("File '%s': Missing common EXIF tags: %s", base, list))
	}
}

// parseEXIFDateTime reads the colon-separated EXIF timestamp form. EXIF
// timestamps never carry a zone, so the result is a zoneless stamp.
func parseEXIFDateTime(s string) (detect.Stamp, bool) {
	if s == "" {
		return detect.Stamp{}, false
	}
	t, err := time.ParseInLocation(exifTimeLayout, s, time.Local)
	if err != nil {
		cleaned := strings.TrimSpace(strings.TrimRight(s, "\x00"))
		t, err = time.ParseInLocation(exifTimeLayout, cleaned, time.Local)
		if err != nil {
			logger.Debugf("unparseable EXIF datetime %q", s)
			return detect.Stamp{}, false
		}
	}
	return detect.Stamp{Time: t}, true
}

type tagCollector map[string]*tiff.Tag

func (c tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c[string(name)] = tag
	return nil
}

func walkTags(x *exif.Exif) map[string]*tiff.Tag {
	c := tagCollector{}
	x.Walk(c)
	return c
}

// formatTagValue renders one tag for display and for the consistency
// checks. Byte values go through the encoding chain; numeric values use
// their natural decimal form, parenthesized when multi-component.
func formatTagValue(t *tiff.Tag) string {
	switch t.Format() {
	case tiff.StringVal:
		s, err := t.StringVal()
		if err != nil {
			return fmt.Sprintf("%q", t.Val)
		}
		return cleanTagString(s)
	case tiff.IntVal:
		parts := make([]string, 0, t.Count)
		for i := 0; i < int(t.Count); i++ {
			v, err := t.Int(i)
			if err != nil {
				break
			}
			parts = append(parts, strconv.Itoa(v))
		}
		return joinComponents(parts)
	case tiff.RatVal:
		parts := make([]string, 0, t.Count)
		for i := 0; i < int(t.Count); i++ {
			num, den, err := t.Rat2(i)
			if err != nil {
				break
			}
			parts = append(parts, fmt.Sprintf("%d/%d", num, den))
		}
		return joinComponents(parts)
	case tiff.FloatVal:
		parts := make([]string, 0, t.Count)
		for i := 0; i < int(t.Count); i++ {
			v, err := t.Float(i)
			if err != nil {
				break
			}
			parts = append(parts, strconv.FormatFloat(v, 'f', -1, 64))
		}
		return joinComponents(parts)
	default:
		return decodeTagBytes(t.Val)
	}
}

func joinComponents(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func truncateDisplay(s string) string {
	r := []rune(s)
	if len(r) <= maxTagDisplay {
		return s
	}
	return string(r[:maxTagDisplay]) + "..."
}
