package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// OutputFormat selects how a successful Response's Result is serialized
// on the wire; the error shape never changes.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatTOON OutputFormat = "toon"
)

// Encode renders resp per format. TOON (token-oriented object notation)
// is a compact, indentation-based encoding aimed at cutting LLM input
// token counts versus JSON's braces/quotes/commas; Pierre supports it as
// an opt-in alternative for token-cost-sensitive callers.
func Encode(resp *Response, format OutputFormat) ([]byte, error) {
	if format == FormatTOON {
		return encodeTOON(resp)
	}
	return json.Marshal(resp)
}

func encodeTOON(resp *Response) ([]byte, error) {
	var b strings.Builder
	b.WriteString("jsonrpc: \"2.0\"\n")
	if resp.ID != nil {
		fmt.Fprintf(&b, "id: %v\n", resp.ID)
	}
	if resp.Error != nil {
		b.WriteString("error:\n")
		fmt.Fprintf(&b, "  code: %d\n", resp.Error.Code)
		fmt.Fprintf(&b, "  message: %s\n", toonScalar(resp.Error.Message))
		if resp.Error.Data != nil {
			b.WriteString("  data:\n")
			writeTOONValue(&b, resp.Error.Data, 2)
		}
		return []byte(b.String()), nil
	}
	b.WriteString("result:\n")
	writeTOONValue(&b, resp.Result, 1)
	return []byte(b.String()), nil
}

func writeTOONValue(b *strings.Builder, v any, indent int) {
	pad := strings.Repeat("  ", indent)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := t[k]
			if isScalar(val) {
				fmt.Fprintf(b, "%s%s: %s\n", pad, k, toonScalar(val))
			} else {
				fmt.Fprintf(b, "%s%s:\n", pad, k)
				writeTOONValue(b, val, indent+1)
			}
		}
	case []any:
		for _, item := range t {
			if isScalar(item) {
				fmt.Fprintf(b, "%s- %s\n", pad, toonScalar(item))
			} else {
				fmt.Fprintf(b, "%s-\n", pad)
				writeTOONValue(b, item, indent+1)
			}
		}
	default:
		fmt.Fprintf(b, "%s%s\n", pad, toonScalar(v))
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func toonScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FormatFromMetadata resolves the requested output format from a
// request's metadata map or query-string value, defaulting to JSON.
func FormatFromMetadata(metadata map[string]any, queryFormat string) OutputFormat {
	if queryFormat == string(FormatTOON) {
		return FormatTOON
	}
	if metadata != nil {
		if f, ok := metadata["format"].(string); ok && f == string(FormatTOON) {
			return FormatTOON
		}
	}
	return FormatJSON
}
