package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode renders evt in the wire format every SSE client expects:
// "event: <kind>\ndata: <json>\n\n".
func Encode(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt.Data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", evt.Kind, body)
	return buf.Bytes(), nil
}
