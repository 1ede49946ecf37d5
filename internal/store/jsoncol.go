package store

import "encoding/json"

// safeParse decodes a JSON-in-TEXT column into T, returning the zero value
// of T when raw is empty or malformed instead of propagating the error.
// Every JSON column (metadata, retryPolicy, llmConfig, dependsOn,
// parameters) goes through this so a hand-edited or truncated row can never
// take down a read path.
func safeParse[T any](raw string) T {
	var out T
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// safeEncode serializes v to a JSON string, falling back to "null" if v
// cannot be marshalled (which does not happen for the plain maps/slices
// this package stores, but keeps the helper total).
func safeEncode(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
