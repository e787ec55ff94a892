package metadata

import (
	"regexp"
	"strconv"
	"time"

	"metasift/detect"
)

// pdfDateRe matches the PDF date form D:YYYYMMDDHHmmSS followed by an
// optional Z or ±HH'MM' offset suffix.
var pdfDateRe = regexp.MustCompile(`^D:(\d{4})(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})([Zz]|([+\-])(\d{2})'(\d{2})')?`)

// parsePDFDate decodes a PDF date string. Out-of-range components reject
// the whole value; the second return is false for anything unparseable.
func parsePDFDate(s string) (detect.Stamp, bool) {
	if s == "" {
		return detect.Stamp{}, false
	}
	m := pdfDateRe.FindStringSubmatch(s)
	if m == nil {
		return detect.Stamp{}, false
	}

	year := atoi(m[1])
	month := atoi(m[2])
	day := atoi(m[3])
	hour := atoi(m[4])
	minute := atoi(m[5])
	second := atoi(m[6])
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 59 {
		return detect.Stamp{}, false
	}

	var loc *time.Location
	aware := false
	switch {
	case m[7] == "":
		loc = time.Local
	case m[7] == "Z" || m[7] == "z":
		loc = time.UTC
		aware = true
	default:
		offH := atoi(m[9])
		offM := atoi(m[10])
		if offH > 23 || offM > 59 {
			return detect.Stamp{}, false
		}
		off := offH*3600 + offM*60
		if m[8] == "-" {
			off = -off
		}
		loc = time.FixedZone("", off)
		aware = true
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	// time.Date normalizes impossible dates like Feb 30; treat any
	// rollover as unparseable rather than accepting the shifted date
	if t.Day() != day || t.Month() != time.Month(month) || t.Year() != year {
		return detect.Stamp{}, false
	}
	return detect.Stamp{Time: t, Aware: aware}, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
