package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"camunda-discovery/internal/common/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// checkSignature accepts methods shaped like
// func([ctx context.Context,] params...) ([result,] [error]).
func checkSignature(mt reflect.Type) error {
	switch mt.NumOut() {
	case 0, 1:
	case 2:
		if mt.Out(1) != errorType {
			return fmt.Errorf("second result must be error, got %s", mt.Out(1))
		}
	default:
		return fmt.Errorf("at most two results allowed, got %d", mt.NumOut())
	}
	return nil
}

// bindHandler adapts a bound method value to Handler. Arguments that are
// not directly assignable to a parameter are converted through JSON, so
// job variables decoded as map[string]any can feed typed structs.
func bindHandler(activity string, fn reflect.Value) Handler {
	mt := fn.Type()
	takesCtx := mt.NumIn() > 0 && mt.In(0) == contextType
	first := 0
	if takesCtx {
		first = 1
	}

	return func(ctx context.Context, args ...any) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = nil
				err = errors.NewActivityPanickedError(activity, r)
			}
		}()

		in, convErr := buildArgs(mt, first, args)
		if convErr != nil {
			return nil, errors.NewActivityInputInvalidError(activity, convErr)
		}
		if takesCtx {
			in = append([]reflect.Value{reflect.ValueOf(&ctx).Elem()}, in...)
		}

		return splitResults(fn.Call(in))
	}
}

func buildArgs(mt reflect.Type, first int, args []any) ([]reflect.Value, error) {
	fixed := mt.NumIn() - first
	if mt.IsVariadic() {
		fixed--
	}
	if !mt.IsVariadic() && len(args) > fixed {
		return nil, fmt.Errorf("expected at most %d arguments, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, 0, len(args))
	for i := 0; i < fixed; i++ {
		pt := mt.In(first + i)
		if i >= len(args) {
			in = append(in, reflect.Zero(pt))
			continue
		}
		v, err := convertArg(args[i], pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	if mt.IsVariadic() {
		et := mt.In(mt.NumIn() - 1).Elem()
		for i := fixed; i < len(args); i++ {
			v, err := convertArg(args[i], et)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

func convertArg(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(target)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", arg, target, err)
	}
	return ptr.Elem(), nil
}

func splitResults(out []reflect.Value) (any, error) {
	var result any
	var err error
	switch len(out) {
	case 1:
		if out[0].Type() == errorType {
			err, _ = out[0].Interface().(error)
		} else {
			result = out[0].Interface()
		}
	case 2:
		result = out[0].Interface()
		err, _ = out[1].Interface().(error)
	}
	return result, err
}
