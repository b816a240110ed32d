// Copyright 2020 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sanitize removes invalid UTF-8 from arbitrarily nested values
// before they are serialized.
package sanitize

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

var (
	jsonMarshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()

	// passthrough neither validates nor escapes strings, so invalid bytes
	// survive the round trip and are dropped by String afterwards.
	passthrough = sonic.Config{UseNumber: true}.Froze()
)

// String drops every byte sequence of s that is not valid UTF-8.
func String(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// Map returns a sanitized copy of m. A nil map stays nil.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[String(k)] = Value(v)
	}
	return out
}

// Value walks maps, slices, arrays and structs and sanitizes every string
// it finds, including map keys. Structs and maps without string keys come
// back as the map[string]any their JSON encoding describes. Other leaves,
// and values that marshal themselves, are returned unchanged. Value never
// modifies its argument.
func Value(v any) any {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		return String(v)
	case map[string]any:
		return Map(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Value(e)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = String(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, e := range v {
			out[String(k)] = String(e)
		}
		return out
	case []byte, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	}
	return reflected(reflect.ValueOf(v))
}

func reflected(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.String:
		s := String(rv.String())
		if rv.Type() == reflect.TypeOf(s) {
			return s
		}
		return reflect.ValueOf(s).Convert(rv.Type()).Interface()
	case reflect.Map:
		if rv.IsNil() || encodesItself(rv.Type()) {
			return rv.Interface()
		}
		if rv.Type().Key().Kind() != reflect.String {
			return viaJSON(rv.Interface())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[String(iter.Key().String())] = Value(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Value(rv.Index(i).Interface())
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() || encodesItself(rv.Type()) {
			return rv.Interface()
		}
		switch rv.Elem().Kind() {
		case reflect.String, reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			return Value(rv.Elem().Interface())
		}
	case reflect.Struct:
		if encodesItself(rv.Type()) {
			return rv.Interface()
		}
		return viaJSON(rv.Interface())
	}
	return rv.Interface()
}

// encodesItself reports whether t controls its own JSON form, like
// time.Time. Such values are leaves.
func encodesItself(t reflect.Type) bool {
	return t.Implements(jsonMarshaler) || t.Implements(textMarshaler) ||
		reflect.PointerTo(t).Implements(jsonMarshaler) || reflect.PointerTo(t).Implements(textMarshaler)
}

// viaJSON rebuilds v as the generic value its JSON encoding decodes to,
// which walks struct fields under their JSON names and turns map keys
// into strings. Values that cannot be encoded are returned as is.
func viaJSON(v any) any {
	data, err := passthrough.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := passthrough.Unmarshal(data, &out); err != nil {
		return v
	}
	return Value(out)
}
