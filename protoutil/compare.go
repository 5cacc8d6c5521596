package protoutil

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoEqualError returns an error describing both messages in JSON form when
// they differ.
func ProtoEqualError(a, b proto.Message) error {
	if proto.Equal(a, b) {
		return nil
	}
	return fmt.Errorf("%s != %s", render(a), render(b))
}

// FieldsEqualError compares two structs field by field and names the first
// field that differs.
func FieldsEqualError(a, b *structpb.Struct) error {
	names := make([]string, 0, len(a.GetFields())+len(b.GetFields()))
	for name := range a.GetFields() {
		names = append(names, name)
	}
	for name := range b.GetFields() {
		if _, ok := a.GetFields()[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		av, aok := a.GetFields()[name]
		bv, bok := b.GetFields()[name]
		switch {
		case !aok:
			return fmt.Errorf("field %q: missing != %s", name, render(bv))
		case !bok:
			return fmt.Errorf("field %q: %s != missing", name, render(av))
		}
		if err := ProtoEqualError(av, bv); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func render(m proto.Message) string {
	data, err := protojson.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(data)
}
