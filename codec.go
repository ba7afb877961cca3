package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

var (
	ErrInvalidUTF8 = errors.New("payload is not valid UTF-8")
	ErrNotAnObject = errors.New("payload is not a JSON object")
)

// std compatible, numbers stay json.Number so large integers survive the round trip
var itemCodec = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

func marshalJSON(v any) ([]byte, error) {
	return itemCodec.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	return itemCodec.Unmarshal(data, v)
}

// parseItem turns raw bytes into an Item, rejecting anything that is not a UTF-8 JSON object
func parseItem(raw []byte) (Item, error) {
	if !utf8.Valid(raw) {
		return nil, ErrInvalidUTF8
	}

	var v any
	if err := unmarshalJSON(raw, &v); err != nil {
		return nil, err
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotAnObject, jsonKind(v))
	}
	return Item(m), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// canonicalJSON re-encodes v through a float64 decode so equal payloads
// from different backends compare equal regardless of number spelling
func canonicalJSON(v any) (any, error) {
	data, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := sonic.ConfigStd.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
