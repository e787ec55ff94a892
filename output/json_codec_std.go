//go:build !jsonv2

package output

import (
	"encoding/json"
	"strings"
)

// indentUnit is the two-space step used throughout the report document.
const indentUnit = "  "

// marshalAtDepth renders value indented for embedding at the given
// nesting depth of the report document.
func marshalAtDepth(value any, depth int) ([]byte, error) {
	return json.MarshalIndent(value, strings.Repeat(indentUnit, depth), indentUnit)
}
