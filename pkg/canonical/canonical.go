// Package canonical produces the byte-stable JSON encoding used on both the signing and
// verification paths.
//
// Structs are encoded in field declaration order, maps with sorted keys, without
// insignificant whitespace and without HTML escaping, which matches JSON.stringify for the
// same values. U+2028 and U+2029 are written raw, as JSON.stringify does. json.RawMessage values are compacted but keep their original key order.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical encoding of v
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}
	// Encode always terminates with a newline
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// String is like Marshal but returns a string
func String(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unescapeLineSeparators rewrites the \u2028 and \u2029 escapes encoding/json always emits
// back to the raw characters. Other escape sequences are copied untouched, so an escaped
// backslash followed by the text "u2028" is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' {
			out = append(out, b[i])
			continue
		}
		if i+5 < len(b) && string(b[i+1:i+5]) == "u202" && (b[i+5] == '8' || b[i+5] == '9') {
			if b[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, b[i])
		if i+1 < len(b) {
			out = append(out, b[i+1])
			i++
		}
	}
	return out
}
