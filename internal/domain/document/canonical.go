package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize serializes a payload with every object's keys sorted,
// recursively. Arrays keep their order. Two structurally equal payloads
// canonicalize to identical bytes regardless of how their maps were built,
// which is what makes the payload hash content-addressing.
func Canonicalize(payload map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashPayload returns the lowercase hex SHA-256 of the canonical
// serialization.
func HashPayload(payload map[string]interface{}) (string, []byte, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.RawMessage:
		// Re-decode so embedded objects are sorted too.
		var decoded interface{}
		if err := json.Unmarshal(t, &decoded); err != nil {
			return fmt.Errorf("canonicalize raw message: %w", err)
		}
		return writeCanonical(buf, decoded)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
