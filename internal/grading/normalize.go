// Package grading holds the answer normalisation and matching rules shared by
// live attempt scoring and instructor autocheck.
package grading

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var yoFolder = strings.NewReplacer("ё", "е")

// Normalize canonicalises a typed answer: trim, lower-case, fold "ё" to "е",
// collapse whitespace runs into one space.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = yoFolder.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAny normalises a scalar taken from loosely typed JSON.
// Numbers and booleans are compared by their text.
func NormalizeAny(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Normalize(x)
	case float64:
		return Normalize(strconv.FormatFloat(x, 'f', -1, 64))
	case int:
		return Normalize(strconv.Itoa(x))
	case json.Number:
		return Normalize(x.String())
	case bool:
		return strconv.FormatBool(x)
	default:
		return Normalize(fmt.Sprint(x))
	}
}
