package detect

import (
	"fmt"
	"path/filepath"
	"strings"

	"metasift/fsinfo"
)

// smallFileThreshold is the size below which the formats in smallFileExts
// cannot plausibly be real.
const smallFileThreshold = 512

var smallFileExts = map[string]bool{
	".jpg": true, ".png": true, ".pdf": true, ".docx": true,
}

// SizeWarnings returns display warnings for implausible file sizes. Both
// checks can fire for the same file.
func SizeWarnings(path string, size int64) []string {
	var warnings []string
	if size == 0 {
		warnings = append(warnings, "EMPTY FILE: Possible malware placeholder or incomplete transfer")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if smallFileExts[ext] && size < smallFileThreshold {
		warnings = append(warnings, fmt.Sprintf("SUSPICIOUSLY SMALL: Only %s for a %s file",
			fsinfo.FormatSize(size), strings.ToUpper(ext)))
	}
	return warnings
}
