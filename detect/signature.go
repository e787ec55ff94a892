package detect

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// SniffLen is how many leading bytes content sniffing needs.
const SniffLen = 512

type signatureRule struct {
	ext     string
	keyword string
	warning string
}

// mismatchRules pairs an extension with a content-description keyword.
// First match wins, so the specific pairings outrank the generic
// executable fallback below.
var mismatchRules = []signatureRule{
	{".jpg", "PDF", "FAKE IMAGE: This is actually a PDF document!"},
	{".jpg", "executable", "MALWARE: This 'image' is an executable!"},
	{".pdf", "executable", "MALWARE: This PDF is an executable!"},
	{".docx", "executable", "MALWARE: This document is an executable!"},
	{".exe", "text", "SUSPICIOUS: Executable masquerading as text"},
	{".zip", "executable", "MALWARE: Archive is actually an executable!"},
	{".png", "executable", "MALWARE: This image is an executable!"},
}

// executableExts are expected to sniff as executables and are exempt from
// the fallback warning.
var executableExts = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".ps1": true, ".sh": true,
}

// SignatureMismatch sniffs the leading bytes and reports a warning when
// the true content type contradicts the file's extension. An empty return
// means no mismatch.
func SignatureMismatch(path string, head []byte) string {
	desc := SniffDescription(head)
	ext := strings.ToLower(filepath.Ext(path))
	for _, r := range mismatchRules {
		if ext == r.ext && strings.Contains(desc, r.keyword) {
			return r.warning
		}
	}
	if strings.Contains(desc, "executable") && !executableExts[ext] {
		return fmt.Sprintf("SUSPICIOUS: %s file is actually an executable!", ext)
	}
	return ""
}

// SniffDescription classifies content into a magic-style description. The
// mismatch rules match on the "PDF", "executable", and "text" families;
// everything else just needs a truthful label.
func SniffDescription(head []byte) string {
	if len(head) == 0 {
		return "empty"
	}
	kind, err := filetype.Match(head)
	if err == nil && kind != filetype.Unknown {
		switch kind.Extension {
		case "pdf":
			return "PDF document"
		case "exe":
			return "PE32 executable (Windows)"
		case "elf":
			return "ELF executable"
		case "macho":
			return "Mach-O executable"
		case "jpg":
			return "JPEG image data"
		case "png":
			return "PNG image data"
		case "gif":
			return "GIF image data"
		case "bmp":
			return "PC bitmap data"
		case "tif":
			return "TIFF image data"
		case "zip":
			return "Zip archive data"
		case "mp3":
			return "MPEG audio data"
		case "mp4":
			return "ISO Media, MP4 container"
		default:
			return kind.MIME.Value
		}
	}
	if looksLikeText(head) {
		return "ASCII text"
	}
	return "data"
}

// looksLikeText accepts printable ASCII plus common whitespace only.
func looksLikeText(head []byte) bool {
	for _, b := range head {
		if b >= 0x20 && b < 0x7f {
			continue
		}
		switch b {
		case '\t', '\n', '\r', '\f', '\v':
			continue
		}
		return false
	}
	return true
}
