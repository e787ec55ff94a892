package detect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	_ "golang.org/x/image/bmp"
	_ "image/png"

	"metasift/analysis"
	"metasift/findings"
)

// maxLSBMessage caps the length an embedded payload may claim. Anything
// larger is treated as pixel noise.
const maxLSBMessage = 10000

var lsbExts = map[string]bool{".png": true, ".bmp": true}

var entropyExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tiff": true,
}

// Steganography runs the LSB probe and entropy scoring for one file and
// records results under the Steganography Analysis group. The caller
// supplies the file content (or the read error it hit) so all I/O policy
// stays outside the detector.
func Steganography(path string, content []byte, readErr error, tree *analysis.Tree, sink *findings.Sink) {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(path))
	g := tree.Group("Steganography Analysis")
	hasFindings := false
	hasErrors := false

	if lsbExts[ext] {
		switch {
		case readErr != nil && os.IsPermission(readErr):
			msg := fmt.Sprintf("[Permission Denied] Could not check LSB: %v", readErr)
			g.SetLeaf("LSB Detection Error", msg)
			sink.AddAnomaly(fmt.Sprintf("File '%s': %s", base, msg))
			hasFindings = true
			hasErrors = true
		case readErr != nil:
			g.SetLeaf("LSB Detection Error", fmt.Sprintf("Failed to check LSB: %v", readErr))
			sink.AddAnomaly(fmt.Sprintf("File '%s': Error checking LSB steganography - %v", base, readErr))
			hasFindings = true
			hasErrors = true
		default:
			if msg, found := ExtractLSB(content); found && strings.TrimSpace(msg) != "" {
				g.SetLeaf("LSB Detection", "STEGANOGRAPHY (LSB): Possible hidden data detected.")
				sink.AddAnomaly(fmt.Sprintf("File '%s': STEGANOGRAPHY (LSB): Possible hidden data detected.", base))
				hasFindings = true
			} else {
				g.SetLeaf("LSB Detection", "No easily extractable LSB data found.")
			}
		}
	} else {
		g.SetLeaf("LSB Detection", "Skipped (only supports PNG and BMP).")
	}

	if entropyExts[ext] {
		switch {
		case readErr != nil && os.IsNotExist(readErr):
			g.SetLeaf("Entropy Calculation Error", "File not found for entropy calculation.")
			sink.AddAnomaly(fmt.Sprintf("File '%s': File not found during entropy calculation.", base))
			hasFindings = true
			hasErrors = true
		case readErr != nil:
			g.SetLeaf("Entropy Calculation Error", fmt.Sprintf("Failed to calculate entropy: %v", readErr))
			sink.AddAnomaly(fmt.Sprintf("File '%s': Error calculating entropy - %v", base, readErr))
			hasFindings = true
			hasErrors = true
		default:
			score := Entropy(content)
			g.SetLeaf("Entropy", fmt.Sprintf("%.4f", score))
			if score > EntropyThreshold {
				warning := fmt.Sprintf("ENTROPY ANOMALY: High entropy (%.4f) detected - suggests possible hidden data or encryption.", score)
				g.SetLeaf("High Entropy", warning)
				sink.AddAnomaly(fmt.Sprintf("File '%s': %s", base, warning))
				hasFindings = true
			} else {
				g.SetLeaf("Entropy Status", "Entropy within expected range.")
			}
		}
	} else {
		g.SetLeaf("Entropy Analysis", "Skipped (only applicable to image files).")
	}

	if g.Len() == 0 {
		g.SetLeaf("Status", "Analysis performed, no steganography indicators found.")
	} else if !hasFindings && !hasErrors {
		g.SetLeaf("Status", "Analysis performed, no steganography anomalies detected.")
	}
}

// ExtractLSB scans the least-significant bits of an image's RGB channels
// for a length-prefixed text payload: a 32-bit big-endian byte count
// followed by that many bytes, walked row-major, most significant bit of
// each byte first. Undecodable images and implausible payloads report no
// hit rather than an error.
func ExtractLSB(content []byte) (string, bool) {
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return "", false
	}
	bounds := img.Bounds()
	capacity := bounds.Dx() * bounds.Dy() * 3
	if capacity < 32 {
		return "", false
	}

	header := readLSBBits(img, 0, 32)
	length := int(binary.BigEndian.Uint32(header))
	if length <= 0 || length > maxLSBMessage {
		return "", false
	}
	if 32+length*8 > capacity {
		return "", false
	}

	payload := readLSBBits(img, 32, length*8)
	if !utf8.Valid(payload) {
		return "", false
	}
	msg := string(payload)
	if !mostlyPrintable(msg) {
		return "", false
	}
	return msg, true
}

// readLSBBits collects n bits starting at bit offset off and packs them
// into bytes, MSB first.
func readLSBBits(img image.Image, off, n int) []byte {
	bounds := img.Bounds()
	out := make([]byte, (n+7)/8)
	idx := 0
	seen := 0
	for y := bounds.Min.Y; y < bounds.Max.Y && idx < n; y++ {
		for x := bounds.Min.X; x < bounds.Max.X && idx < n; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			for _, ch := range [3]uint8{c.R, c.G, c.B} {
				if seen < off {
					seen++
					continue
				}
				if idx >= n {
					break
				}
				out[idx/8] = out[idx/8]<<1 | ch&1
				idx++
			}
		}
	}
	// left-align a ragged final byte
	if rem := n % 8; rem != 0 {
		out[len(out)-1] <<= uint(8 - rem)
	}
	return out
}

func mostlyPrintable(s string) bool {
	if s == "" {
		return false
	}
	printable := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return printable*10 >= total*9
}
