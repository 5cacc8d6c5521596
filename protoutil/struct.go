package protoutil

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// JSONValue parses a JSON document into a structpb.Value.
func JSONValue(data []byte) (*structpb.Value, error) {
	v := &structpb.Value{}
	if err := protojson.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("invalid json value: %w", err)
	}
	return v, nil
}

// ToValue converts any JSON-marshalable value, including json.RawMessage, into
// a structpb.Value.
func ToValue(v any) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONValue(data)
}

// ValueJSON is the inverse of JSONValue.
func ValueJSON(v *structpb.Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(v)
}

// StructField returns the named field of s, or nil.
func StructField(s *structpb.Struct, name string) *structpb.Value {
	if s == nil {
		return nil
	}
	return s.GetFields()[name]
}
