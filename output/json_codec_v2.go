//go:build jsonv2

package output

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
	"strings"
)

// indentUnit is the two-space step used throughout the report document.
const indentUnit = "  "

// marshalAtDepth renders value indented for embedding at the given
// nesting depth of the report document.
func marshalAtDepth(value any, depth int) ([]byte, error) {
	opts := jsonv2.JoinOptions(
		jsontext.WithIndent(indentUnit),
		jsontext.WithIndentPrefix(strings.Repeat(indentUnit, depth)),
	)
	return jsonv2.Marshal(value, opts)
}
