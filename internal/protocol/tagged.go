package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeTagged splits an externally tagged union value into its tag and body.
// A unit variant arrives as a bare JSON string and yields a nil body; every
// other variant is an object with exactly one key.
func DecodeTagged(union string, data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, malformed(union, errors.New("empty input"))
	}
	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, malformed(union, err)
		}
		return tag, nil, nil
	case '{':
		obj, err := ReadObject(union, data)
		if err != nil {
			return "", nil, err
		}
		if len(obj) != 1 {
			return "", nil, malformed(union, fmt.Errorf("expected exactly one variant key, got %d", len(obj)))
		}
		for tag, body := range obj {
			return tag, body, nil
		}
	}
	return "", nil, malformed(union, fmt.Errorf("expected string or object, got %.16q", data))
}

// ReadObject reads one JSON object into its members. A repeated key is
// rejected instead of letting the last occurrence win.
func ReadObject(scope string, data []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(scope, err)
	}
	if tok != json.Delim('{') {
		return nil, malformed(scope, fmt.Errorf("expected object, got %v", tok))
	}
	obj := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(scope, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, malformed(scope, fmt.Errorf("expected object key, got %v", tok))
		}
		if _, dup := obj[key]; dup {
			return nil, malformed(scope, fmt.Errorf("duplicate key %q", key))
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, malformed(scope, err)
		}
		obj[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformed(scope, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed(scope, errors.New("trailing data after object"))
	}
	return obj, nil
}

// EncodeTagged renders an externally tagged value. A nil body renders a unit variant.
func EncodeTagged(tag string, body any) ([]byte, error) {
	if body == nil {
		return json.Marshal(tag)
	}
	inner, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	key, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(key)+len(inner)+3)
	out = append(out, '{')
	out = append(out, key...)
	out = append(out, ':')
	out = append(out, inner...)
	out = append(out, '}')
	return out, nil
}

// IsNull reports whether raw is absent or the JSON null literal.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
