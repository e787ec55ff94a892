package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	mp4 "github.com/abema/go-mp4"
	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"metasift/analysis"
	"metasift/findings"
	"metasift/fsinfo"
)

type mediaExtractor struct{}

func (m *mediaExtractor) Name() string { return "media" }

func (m *mediaExtractor) Extract(path string, facts *fsinfo.Facts, tree *analysis.Tree, sink *findings.Sink) {
	base := filepath.Base(path)
	g := tree.Group("Media Metadata")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			sink.AddAnomaly(fmt.Sprintf("%s: File not found during Media processing.", base))
			g.SetLeaf("Error", "File not found.")
			return
		}
		sink.AddAnomaly(fmt.Sprintf("%s: Error processing Media file - %v", base, err))
		g.SetLeaf("Error", fmt.Sprintf("Media processing failed: %v", err))
		return
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil && !tagAbsenceError(err) {
		sink.AddAnomaly(fmt.Sprintf("%s: Error processing Media file - %v", base, err))
		g.SetLeaf("Error", fmt.Sprintf("Media processing failed: %v", err))
		return
	}

	hasContent := false
	if meta != nil {
		hasContent = renderMediaTags(meta, g)
	}

	tech, ok := probeTech(f, strings.ToLower(filepath.Ext(path)))
	if ok {
		hasContent = true
		tg := g.Group("Technical Info")
		if tech.hasDuration {
			tg.SetLeaf("Duration (s)", fmt.Sprintf("%.2f", tech.duration))
		}
		if tech.bitrate > 0 {
			tg.SetLeaf("Bitrate (bps)", strconv.Itoa(tech.bitrate))
		}
		if tech.sampleRate > 0 {
			tg.SetLeaf("Sample Rate (Hz)", strconv.Itoa(tech.sampleRate))
		}
		if tech.channels > 0 {
			tg.SetLeaf("Channels", strconv.Itoa(tech.channels))
		}
		if tech.mime != "" {
			tg.SetLeaf("MIME Type", tech.mime)
		}
		if tech.codec != "" {
			tg.SetLeaf("Codec", tech.codec)
		}
	} else if !hasContent {
		g.SetLeaf("Status", "File is not a supported media format or is corrupt.")
		return
	}

	if !hasContent {
		g.SetLeaf("Status", "No standard metadata tags found.")
	}
}

// tagAbsenceError separates "this file has no tags" from a real parse
// failure. Tagless containers surface as ErrNoTagsFound or as a clean
// EOF from the atom walk.
func tagAbsenceError(err error) bool {
	return errors.Is(err, tag.ErrNoTagsFound) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func renderMediaTags(meta tag.Metadata, g *analysis.Tree) bool {
	raw := meta.Raw()
	track, trackTotal := meta.Track()
	disc, discTotal := meta.Disc()
	entries := []struct{ name, value string }{
		{"Title", meta.Title()},
		{"Artist", meta.Artist()},
		{"Album", meta.Album()},
		{"Date", yearValue(meta.Year())},
		{"Genre", meta.Genre()},
		{"Track Number", pairValue(track, trackTotal)},
		{"Comment", meta.Comment()},
		{"Album Artist", meta.AlbumArtist()},
		{"Composer", meta.Composer()},
		{"Disc Number", pairValue(disc, discTotal)},
		{"Organization", rawText(raw, "TPUB", "TPB")},
		{"Encoded By", rawText(raw, "TENC", "TEN")},
		{"Copyright", rawText(raw, "TCOP", "TCR", "cprt")},
	}
	has := false
	for _, e := range entries {
		v := strings.TrimSpace(e.value)
		if v == "" {
			continue
		}
		has = true
		g.SetLeaf(e.name, v)
	}
	return has
}

func yearValue(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

func pairValue(n, total int) string {
	switch {
	case n == 0 && total == 0:
		return ""
	case total > 0:
		return fmt.Sprintf("%d/%d", n, total)
	}
	return strconv.Itoa(n)
}

// rawText digs a frame out of the raw tag map, trying each frame name a
// tag version might use for the field.
func rawText(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			return s
		case fmt.Stringer:
			return s.String()
		}
	}
	return ""
}

type techInfo struct {
	duration    float64
	hasDuration bool
	bitrate     int
	sampleRate  int
	channels    int
	mime        string
	codec       string
}

func probeTech(f *os.File, ext string) (techInfo, bool) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return techInfo{}, false
	}
	switch ext {
	case ".mp3":
		return probeMP3(f)
	case ".mp4":
		return probeMP4(f)
	}
	return techInfo{}, false
}

// probeMP3 walks every MPEG frame. Summing per-frame durations keeps the
// figure honest for variable-bitrate files; rate and channel fields come
// from the first frame.
func probeMP3(r io.Reader) (techInfo, bool) {
	d := mp3.NewDecoder(r)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
		frames  int
		ti      techInfo
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			break
		}
		if frames == 0 {
			hdr := frame.Header()
			ti.bitrate = int(hdr.BitRate())
			ti.sampleRate = int(hdr.SampleRate())
			if hdr.ChannelMode() == mp3.SingleChannel {
				ti.channels = 1
			} else {
				ti.channels = 2
			}
		}
		frames++
		total += frame.Duration()
	}
	if frames == 0 {
		return techInfo{}, false
	}
	ti.duration = total.Seconds()
	ti.hasDuration = true
	ti.mime = "audio/mpeg"
	return ti, true
}

func probeMP4(f *os.File) (techInfo, bool) {
	info, err := mp4.Probe(f)
	if err != nil || info == nil {
		return techInfo{}, false
	}
	ti := techInfo{mime: "video/mp4"}
	if info.Timescale > 0 {
		ti.duration = float64(info.Duration) / float64(info.Timescale)
		ti.hasDuration = true
	}
	hasAVC := false
	for _, t := range info.Tracks {
		switch t.Codec {
		case mp4.CodecMP4A:
			ti.codec = "mp4a"
			if t.MP4A != nil && ti.channels == 0 {
				ti.channels = int(t.MP4A.ChannelCount)
			}
		case mp4.CodecAVC1:
			hasAVC = true
		}
	}
	if ti.codec == "" && hasAVC {
		ti.codec = "avc1"
	}
	if ti.hasDuration && ti.duration > 0 {
		if st, err := f.Stat(); err == nil {
			ti.bitrate = int(float64(st.Size()) * 8 / ti.duration)
		}
	}
	return ti, true
}
