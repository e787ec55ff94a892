package metadata

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rwcarlsen/goexif/tiff"

	"metasift/analysis"
)

// gpsDisplayTags are the raw GPS tags shown as-is when present. The
// coordinate tags themselves are only shown in derived decimal form.
var gpsDisplayTags = []string{"GPSAltitude", "GPSDateStamp", "GPSProcessingMethod"}

// addGPSInfo renders the GPS block nested under the EXIF group. Raw
// whitelisted tags come first; decimal coordinates are derived when both
// latitude and longitude parse cleanly and fall in range. A malformed
// coordinate tag becomes a GPSParsingError leaf instead of derived values.
func addGPSInfo(parent *analysis.Tree, tags map[string]*tiff.Tag) {
	if !hasGPSTags(tags) {
		return
	}
	g := parent.Group("GPS Info")
	for _, name := range gpsDisplayTags {
		if t, ok := tags[name]; ok {
			g.SetLeaf(name, formatTagValue(t))
		}
	}

	lat, lon, alt, err := computeCoordinates(tags)
	if err != nil {
		g.SetLeaf("GPSParsingError", err.Error())
		return
	}
	if lat != nil && lon != nil {
		g.SetLeaf("GPSLatitudeDec", strconv.FormatFloat(*lat, 'f', -1, 64))
		g.SetLeaf("GPSLongitudeDec", strconv.FormatFloat(*lon, 'f', -1, 64))
		g.SetLeaf("GPSPosition", gpsPosition(*lat, *lon))
		if alt != nil {
			// replaces the raw rational in place when one was shown
			g.SetLeaf("GPSAltitude", fmt.Sprintf("%.1f", *alt))
		}
	}
}

func hasGPSTags(tags map[string]*tiff.Tag) bool {
	for name := range tags {
		if len(name) >= 3 && name[:3] == "GPS" {
			return true
		}
	}
	return false
}

func gpsPosition(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

func computeCoordinates(tags map[string]*tiff.Tag) (lat, lon, alt *float64, err error) {
	lat, err = dmsCoordinate(tags, "GPSLatitude", "GPSLatitudeRef", "S", 90)
	if err != nil {
		return nil, nil, nil, err
	}
	lon, err = dmsCoordinate(tags, "GPSLongitude", "GPSLongitudeRef", "W", 180)
	if err != nil {
		return nil, nil, nil, err
	}
	alt, err = gpsAltitude(tags)
	if err != nil {
		return nil, nil, nil, err
	}
	return lat, lon, alt, nil
}

// dmsCoordinate converts a degrees/minutes/seconds rational triple plus
// its hemisphere reference into signed decimal degrees. Values out of
// range (or with zero denominators) are unparseable, not clamped, and
// report no coordinate rather than an error.
func dmsCoordinate(tags map[string]*tiff.Tag, valueTag, refTag, negRef string, limit float64) (*float64, error) {
	vt, okVal := tags[valueTag]
	rt, okRef := tags[refTag]
	if !okVal || !okRef {
		return nil, nil
	}
	if vt.Count < 3 {
		return nil, fmt.Errorf("%s holds %d components, want 3", valueTag, vt.Count)
	}
	var parts [3]float64
	for i := range parts {
		num, den, err := vt.Rat2(i)
		if err != nil {
			return nil, err
		}
		if den == 0 {
			return nil, nil
		}
		parts[i] = float64(num) / float64(den)
	}
	deg := dmsToDecimal(parts[0], parts[1], parts[2])
	ref, err := rt.StringVal()
	if err != nil {
		return nil, err
	}
	if ref == negRef {
		deg = -deg
	}
	if math.Abs(deg) > limit {
		return nil, nil
	}
	return &deg, nil
}

func dmsToDecimal(deg, min, sec float64) float64 {
	return deg + min/60.0 + sec/3600.0
}

func gpsAltitude(tags map[string]*tiff.Tag) (*float64, error) {
	at, ok := tags["GPSAltitude"]
	if !ok {
		return nil, nil
	}
	num, den, err := at.Rat2(0)
	if err != nil {
		return nil, err
	}
	var alt float64
	if den != 0 {
		alt = float64(num) / float64(den)
	}
	if rt, ok := tags["GPSAltitudeRef"]; ok {
		ref, err := rt.Int(0)
		if err != nil {
			return nil, err
		}
		if ref == 1 {
			alt = -alt
		}
	}
	return &alt, nil
}
