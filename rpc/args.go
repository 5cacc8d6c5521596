package rpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/iap-bridge/iap"
)

// args reads command arguments. Every accessor takes the current argument
// name first, followed by any legacy aliases.
type args struct {
	fields map[string]*structpb.Value
}

func newArgs(req *structpb.Struct) args {
	return args{fields: req.GetFields()}
}

func (a args) lookup(names ...string) (*structpb.Value, bool) {
	for _, name := range names {
		v, ok := a.fields[name]
		if !ok {
			continue
		}
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
			continue
		}
		return v, true
	}
	return nil, false
}

func (a args) str(names ...string) (string, error) {
	v, ok := a.lookup(names...)
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalidArg(names[0], "a string")
	}
	return s.StringValue, nil
}

func (a args) integer(names ...string) (*int, error) {
	v, ok := a.lookup(names...)
	if !ok {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return nil, invalidArg(names[0], "an integer")
	}
	i := int(n.NumberValue)
	return &i, nil
}

func (a args) strings(names ...string) ([]string, error) {
	v, ok := a.lookup(names...)
	if !ok {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, invalidArg(names[0], "a list of strings")
	}

	result := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalidArg(names[0], "a list of strings")
		}
		result = append(result, s.StringValue)
	}
	return result, nil
}

func (a args) productType(names ...string) (iap.ProductType, error) {
	s, err := a.str(names...)
	if err != nil || s == "" {
		return "", err
	}
	return iap.ParseProductType(s), nil
}

func invalidArg(name, expected string) error {
	return iap.NewValidationError(iap.CodeDeveloperError, fmt.Sprintf("%s must be %s", name, expected))
}
