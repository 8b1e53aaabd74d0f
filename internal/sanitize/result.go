package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// MaxTextContentLength is the longest text content item transmitted as-is.
	MaxTextContentLength = 2000

	// MaxObjectFields is the number of top-level fields kept per object.
	MaxObjectFields = 50

	// MaxArrayItems is the number of elements kept per array.
	MaxArrayItems = 20

	// FailedResultMarker is the "error" value returned when a result cannot be sanitized.
	FailedResultMarker = "[result sanitization failed]"
)

// binaryContentTypes are MCP content item types whose "data" field carries base64.
var binaryContentTypes = map[string]bool{
	"image": true,
	"audio": true,
}

// Result returns a transmission-safe copy of a tool result.
//
// The result is first normalized to JSON-shaped data, so structs such as
// *mcp.CallToolResult are handled through their JSON representation. Result
// never panics and never returns an error: if anything goes wrong a map with
// a single "error" key set to FailedResultMarker is returned instead.
func Result(result any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = failedResult()
		}
	}()

	if result == nil {
		return nil
	}

	normalized, err := normalize(result)
	if err != nil {
		return failedResult()
	}
	return sanitizeValue(normalized)
}

func failedResult() map[string]any {
	return map[string]any{"error": FailedResultMarker}
}

// normalize round-trips v through encoding/json. Numbers are kept as
// json.Number so integer values survive unchanged.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeObject(val)
	case []any:
		return sanitizeArray(val)
	default:
		return val
	}
}

func sanitizeArray(items []any) []any {
	if len(items) <= MaxArrayItems {
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = sanitizeValue(item)
		}
		return out
	}

	out := make([]any, 0, MaxArrayItems+1)
	for _, item := range items[:MaxArrayItems] {
		out = append(out, sanitizeValue(item))
	}
	out = append(out, fmt.Sprintf("[truncated: %d items total]", len(items)))
	return out
}

func sanitizeObject(obj map[string]any) map[string]any {
	obj = sanitizeContentItem(obj)

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	if len(keys) <= MaxObjectFields {
		out := make(map[string]any, len(obj))
		for _, k := range keys {
			out[k] = sanitizeValue(obj[k])
		}
		return out
	}

	sort.Strings(keys)
	out := make(map[string]any, MaxObjectFields+1)
	for _, k := range keys[:MaxObjectFields] {
		out[k] = sanitizeValue(obj[k])
	}
	out["_truncated"] = fmt.Sprintf("%d fields total", len(keys))
	return out
}

// sanitizeContentItem applies the MCP content rules to a single object. It
// returns obj unchanged when obj is not a content item.
func sanitizeContentItem(obj map[string]any) map[string]any {
	itemType, _ := obj["type"].(string)
	switch {
	case itemType == "text":
		text, ok := obj["text"].(string)
		if !ok {
			return obj
		}
		if _, done := obj["originalLength"]; done {
			return obj
		}
		truncated, n := truncateRunes(text, MaxTextContentLength)
		if n <= MaxTextContentLength {
			return obj
		}
		out := shallowCopy(obj)
		out["text"] = truncated
		out["originalLength"] = n
		return out

	case binaryContentTypes[itemType]:
		data, ok := obj["data"].(string)
		if !ok {
			return obj
		}
		out := shallowCopy(obj)
		mimeType, _ := obj["mimeType"].(string)
		out["data"] = binaryMarker(data, mimeType)
		return out

	case itemType == "resource":
		res, ok := obj["resource"].(map[string]any)
		if !ok {
			return obj
		}
		blob, ok := res["blob"].(string)
		if !ok {
			return obj
		}
		resCopy := shallowCopy(res)
		mimeType, _ := res["mimeType"].(string)
		resCopy["blob"] = binaryMarker(blob, mimeType)
		out := shallowCopy(obj)
		out["resource"] = resCopy
		return out
	}
	return obj
}

func shallowCopy(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// binaryMarker describes a base64 payload by its decoded size.
func binaryMarker(encoded, mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("[binary data: %d bytes, %s]", decodedLen(encoded), mimeType)
}

func decodedLen(encoded string) int {
	trimmed := strings.TrimRight(encoded, "=")
	return len(trimmed) * 3 / 4
}
