// Copyright 2026 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package safejson encodes arbitrary value graphs as JSON without ever
// failing. Cycles and excessive depth are expected occurrences in domain
// object graphs, not exceptional conditions, so both degrade to sentinel
// strings instead of errors. The write path of a vault must never be taken
// down by the shape of the data it is asked to persist.
package safejson

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultMaxDepth bounds the traversal for deeply nested structures.
	DefaultMaxDepth = 10

	// SentinelCircular replaces a node that is already on the descent path.
	SentinelCircular = "[Circular Reference]"

	// SentinelTruncated replaces a container node below the depth limit.
	SentinelTruncated = "[Truncated: Max depth reached]"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Marshal encodes v as JSON. It is a total function: pathological inputs
// (cycles, excessive depth, unencodable leaves) produce valid, bounded
// output rather than an error. maxDepth <= 0 selects DefaultMaxDepth.
func Marshal(v any, maxDepth int) []byte {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	w := &walker{maxDepth: maxDepth, onPath: make(map[uintptr]struct{})}
	tree := w.sanitize(reflect.ValueOf(v), 0)

	out, err := json.Marshal(tree)
	if err != nil {
		// Something unencodable slipped through (NaN floats, for one).
		// Callers never see an error from this function.
		out, _ = json.Marshal(map[string]string{
			"error":     "Serialization failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	return out
}

type walker struct {
	maxDepth int
	onPath   map[uintptr]struct{}
}

// sanitize rebuilds the value graph as plain maps, slices, and primitives.
// depth counts container nesting levels from the root.
func (w *walker) sanitize(rv reflect.Value, depth int) any {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		return w.sanitize(rv.Elem(), depth)
	}

	// Types with their own JSON form (time.Time among them) are leaves;
	// descending into their unexported internals would mangle them.
	if isSelfMarshaling(rv) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if _, seen := w.onPath[ptr]; seen {
			return SentinelCircular
		}
		w.onPath[ptr] = struct{}{}
		defer delete(w.onPath, ptr)
		return w.sanitize(rv.Elem(), depth)

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if depth >= w.maxDepth {
			return SentinelTruncated
		}
		ptr := rv.Pointer()
		if _, seen := w.onPath[ptr]; seen {
			return SentinelCircular
		}
		w.onPath[ptr] = struct{}{}
		defer delete(w.onPath, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = w.sanitize(iter.Value(), depth+1)
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough

	case reflect.Array:
		if depth >= w.maxDepth {
			return SentinelTruncated
		}
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			ptr := rv.Pointer()
			if _, seen := w.onPath[ptr]; seen {
				return SentinelCircular
			}
			w.onPath[ptr] = struct{}{}
			defer delete(w.onPath, ptr)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = w.sanitize(rv.Index(i), depth+1)
		}
		return out

	case reflect.Struct:
		if depth >= w.maxDepth {
			return SentinelTruncated
		}
		rt := rv.Type()
		out := make(map[string]any, rt.NumField())
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			name, skip := jsonFieldName(field)
			if skip {
				continue
			}
			out[name] = w.sanitize(rv.Field(i), depth+1)
		}
		return out

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil

	default:
		return rv.Interface()
	}
}

func isSelfMarshaling(rv reflect.Value) bool {
	if !rv.CanInterface() {
		return false
	}
	rt := rv.Type()
	if rt.Implements(jsonMarshalerType) || rt.Implements(textMarshalerType) {
		return true
	}
	if rv.CanAddr() {
		pt := reflect.PointerTo(rt)
		return pt.Implements(jsonMarshalerType) || pt.Implements(textMarshalerType)
	}
	return false
}

func jsonFieldName(field reflect.StructField) (name string, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		if idx := strings.IndexByte(tag, ','); idx >= 0 {
			tag = tag[:idx]
		}
		if tag != "" {
			return tag, false
		}
	}
	return field.Name, false
}

func mapKey(rv reflect.Value) string {
	if rv.Kind() == reflect.String {
		return rv.String()
	}
	return fmt.Sprint(rv.Interface())
}
