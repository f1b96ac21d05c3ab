package common

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// volatileKeys are stripped from JSON documents before hashing so that
// re-compiles of identical inputs produce identical manifest hashes.
var volatileKeys = map[string]bool{
	"generated_at": true,
	"compiled_at":  true,
	"created_at":   true,
	"version_id":   true,
}

// StableStringify renders a JSON-compatible value with lexicographically
// sorted object keys and no insignificant whitespace. The output is
// byte-stable across runs for equal inputs.
func StableStringify(value interface{}) (string, error) {
	var buf bytes.Buffer
	if err := writeStable(&buf, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeStable(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeStable(buf, v[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeStable(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

// StripVolatileKeys removes volatile keys (generated_at, compiled_at,
// created_at, version_id) at every nesting level, returning a new value
func StripVolatileKeys(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			if volatileKeys[key] {
				continue
			}
			out[key] = StripVolatileKeys(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = StripVolatileKeys(item)
		}
		return out
	default:
		return v
	}
}

// CanonicalJSONBytes renders a value as canonical JSON: sorted keys,
// two-space indent, trailing newline. This is the on-disk artifact form.
func CanonicalJSONBytes(value interface{}) ([]byte, error) {
	stable, err := StableStringify(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(stable), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent canonical JSON: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// HashSemanticJSON computes the sha256 over the canonical compact form of
// a JSON document with volatile keys removed. Non-JSON input falls back to
// a byte-for-byte hash.
func HashSemanticJSON(data []byte) string {
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return HashBytes(data)
	}
	stable, err := StableStringify(StripVolatileKeys(decoded))
	if err != nil {
		return HashBytes(data)
	}
	return HashBytes([]byte(stable))
}

// HashBytes returns the hex sha256 of raw bytes
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
