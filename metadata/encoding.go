package metadata

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
)

// tagDecoders is the ordered encoding chain for byte-valued EXIF tags.
// Each decoder drops undecodable input instead of failing; the first one
// whose cleaned output is non-empty and not pure filler wins.
var tagDecoders = []struct {
	name   string
	decode func([]byte) string
}{
	{"utf-8", func(b []byte) string {
		return strings.ToValidUTF8(string(b), "")
	}},
	{"ascii", func(b []byte) string {
		var sb strings.Builder
		for _, c := range b {
			if c < 0x80 {
				sb.WriteByte(c)
			}
		}
		return sb.String()
	}},
	{"latin-1", textDecoder(charmap.ISO8859_1)},
	{"windows-1252", textDecoder(charmap.Windows1252)},
	{"utf-16le", textDecoder(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM))},
	{"utf-16be", textDecoder(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM))},
	{"shift_jis", textDecoder(japanese.ShiftJIS)},
	{"cp437", textDecoder(charmap.CodePage437)},
}

func textDecoder(enc encoding.Encoding) func([]byte) string {
	return func(b []byte) string {
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return ""
		}
		// replacement runes stand in for bytes the encoding has no
		// mapping for; dropping them matches a lossy decode
		return strings.ReplaceAll(string(out), "�", "")
	}
}

// decodeTagBytes tries the encoding chain on a raw tag value. When no
// encoding produces usable text the raw bytes are shown quoted, so the
// value is never lost entirely.
func decodeTagBytes(b []byte) string {
	for _, d := range tagDecoders {
		s := cleanTagString(d.decode(b))
		if s != "" && !allFiller(s) {
			return s
		}
	}
	return fmt.Sprintf("%q", b)
}

// cleanTagString applies the trim rules shared by string-valued and
// byte-valued tags: trailing NULs, surrounding space, and a leading BOM.
func cleanTagString(s string) string {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	return strings.TrimPrefix(s, "\uFEFF")
}

func allFiller(s string) bool {
	for _, r := range s {
		if r != 0 && r != '�' {
			return false
		}
	}
	return true
}
