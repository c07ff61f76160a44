package model

import (
	"crypto/md5" //nolint:gosec // content-addressing fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
)

// contentHash computes an md5 digest over v's canonical (sorted-keys) JSON
// serialization. Go's encoding/json already sorts map keys when marshaling,
// so a plain Marshal is canonical as long as every map in v has string
// keys; sortedCopy below enforces that recursively for []any/map[string]any
// trees built from catalog data, which is the only shape contentHash is ever
// called with.
func contentHash(v any) (string, error) {
	normalized := sortedCopy(v)
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

func sortedCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortedCopy(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedCopy(e)
		}
		return out
	default:
		return v
	}
}
