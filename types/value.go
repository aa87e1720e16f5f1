package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the runtime type of a Value node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the string representation of a value kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged-variant JSON value. Request bodies are decoded into this
// tree once and addressed by dotted field paths from then on, so validation
// and correction never touch raw bytes or reflection.
type Value struct {
	Kind   Kind
	Bool   bool
	Num    json.Number
	Str    string
	Items  []Value
	Fields map[string]Value
}

// DecodeValue parses JSON bytes into a Value tree. Numbers are kept as
// json.Number so corrected payloads re-encode without float drift.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode body: %w", err)
	}

	return fromInterface(raw)
}

// fromInterface converts the encoding/json representation into the tagged variant
func fromInterface(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case bool:
		return Value{Kind: KindBool, Bool: v}, nil
	case json.Number:
		return Value{Kind: KindNumber, Num: v}, nil
	case string:
		return Value{Kind: KindString, Str: v}, nil
	case []interface{}:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			converted, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return Value{Kind: KindArray, Items: items}, nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(v))
		for key, item := range v {
			converted, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = converted
		}
		return Value{Kind: KindObject, Fields: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", raw)
	}
}

// toInterface converts back to the encoding/json representation for encoding
func (v Value) toInterface() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindArray:
		items := make([]interface{}, 0, len(v.Items))
		for _, item := range v.Items {
			items = append(items, item.toInterface())
		}
		return items
	case KindObject:
		fields := make(map[string]interface{}, len(v.Fields))
		for key, item := range v.Fields {
			fields[key] = item.toInterface()
		}
		return fields
	default:
		return nil
	}
}

// MarshalJSON re-encodes the value tree as JSON
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toInterface())
}

// Flatten returns the dotted leaf paths of an object tree mapped to their
// kinds. Nested objects recurse into their children; scalars and arrays are
// leaves. An empty object is reported as an object-kind leaf so it stays
// addressable. Non-object roots flatten to nothing.
func (v Value) Flatten() map[string]Kind {
	leaves := make(map[string]Kind)
	v.flattenInto("", leaves)
	return leaves
}

func (v Value) flattenInto(prefix string, leaves map[string]Kind) {
	if v.Kind != KindObject {
		if prefix != "" {
			leaves[prefix] = v.Kind
		}
		return
	}

	if len(v.Fields) == 0 {
		if prefix != "" {
			leaves[prefix] = KindObject
		}
		return
	}

	for key, child := range v.Fields {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		child.flattenInto(path, leaves)
	}
}

// SortedPaths returns the flattened leaf paths in lexical order, useful for
// deterministic logging and prompts.
func SortedPaths(leaves map[string]Kind) []string {
	paths := make([]string, 0, len(leaves))
	for path := range leaves {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
