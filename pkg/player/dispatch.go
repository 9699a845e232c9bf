// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

package player

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jllopis/ensemble/pkg/errors"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// MethodName maps an operation name to the exported Go method answering it:
// "say_hello_to" becomes "SayHelloTo", "name" becomes "Name".
func MethodName(op string) string {
	parts := strings.Split(op, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func lookupMethod(target any, op string) (reflect.Value, bool) {
	name := MethodName(op)
	if name == "" {
		return reflect.Value{}, false
	}
	m := reflect.ValueOf(target).MethodByName(name)
	return m, m.IsValid()
}

func hasMethod(target any, op string) bool {
	_, ok := lookupMethod(target, op)
	return ok
}

func callMethod(ctx context.Context, target any, op string, args []any) (any, error) {
	m, ok := lookupMethod(target, op)
	if !ok {
		return nil, errors.New(errors.CodeNoMethod, fmt.Sprintf("undefined operation '%s' for %T", op, target), nil).
			WithContext("operation", op).
			WithContext("player_type", fmt.Sprintf("%T", target))
	}
	mt := m.Type()

	in := make([]reflect.Value, 0, len(args)+1)
	first := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(ctx))
		first = 1
	}

	fixed := mt.NumIn() - first
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, arityError(op, target, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, arityError(op, target, fixed, len(args))
	}

	for i, arg := range args {
		var pt reflect.Type
		if mt.IsVariadic() && i >= fixed {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(first + i)
		}
		v, err := argValue(arg, pt)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput,
				fmt.Sprintf("argument %d of '%s' for %T", i, op, target), err)
		}
		in = append(in, v)
	}

	return results(m.Call(in))
}

func arityError(op string, target any, want, got int) error {
	return errors.New(errors.CodeInvalidInput,
		fmt.Sprintf("wrong number of arguments for '%s' on %T (given %d, expected %d)", op, target, got, want), nil)
}

func argValue(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", pt)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(pt) {
		return v, nil
	}
	if v.Type().ConvertibleTo(pt) && v.Kind() != reflect.String && pt.Kind() != reflect.String {
		return v.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), pt)
}

func results(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	var err error
	if last.Type() == errorType {
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil, err
	}
	return out[0].Interface(), err
}
