package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

type Kind int

const (
	KindLeaf Kind = iota
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "leaf"
	}
}

// Value is a plain nested structure with no service specific types. Exactly
// one of leaf, mapping or sequence is meaningful, selected by kind.
type Value struct {
	kind     Kind
	leaf     any
	mapping  map[string]Value
	sequence []Value
}

func Leaf(v any) Value {
	return Value{kind: KindLeaf, leaf: v}
}

func Mapping(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMapping, mapping: m}
}

func Sequence(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindSequence, sequence: items}
}

func (v Value) Kind() Kind { return v.kind }

// Get looks up key in a mapping
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	child, ok := v.mapping[key]
	return child, ok
}

// Keys of a mapping in sorted order
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.mapping))
	for k := range v.mapping {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Items of a sequence
func (v Value) Items() []Value {
	return v.sequence
}

func (v Value) Len() int {
	switch v.kind {
	case KindMapping:
		return len(v.mapping)
	case KindSequence:
		return len(v.sequence)
	default:
		return 0
	}
}

// Visitor is dispatched on the variant of a Value by Accept
type Visitor interface {
	VisitLeaf(v any)
	VisitMapping(m map[string]Value)
	VisitSequence(items []Value)
}

func (v Value) Accept(vis Visitor) {
	switch v.kind {
	case KindMapping:
		vis.VisitMapping(v.mapping)
	case KindSequence:
		vis.VisitSequence(v.sequence)
	default:
		vis.VisitLeaf(v.leaf)
	}
}

// plainBuilder turns a Value back into map[string]any / []any / leaf
type plainBuilder struct {
	out any
}

func (b *plainBuilder) VisitLeaf(v any) { b.out = v }

func (b *plainBuilder) VisitMapping(m map[string]Value) {
	res := make(map[string]any, len(m))
	for k, child := range m {
		res[k] = child.Interface()
	}
	b.out = res
}

func (b *plainBuilder) VisitSequence(items []Value) {
	res := make([]any, len(items))
	for i, child := range items {
		res[i] = child.Interface()
	}
	b.out = res
}

// Interface returns the value as plain Go maps, slices and primitives
func (v Value) Interface() any {
	b := &plainBuilder{}
	v.Accept(b)
	return b.out
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = Normalize(raw)
	return nil
}

// Normalize walks an arbitrary object graph: mappings recurse key by key,
// sequences element by element, structs through their JSON form, and every
// other value becomes a leaf.
func Normalize(x any) Value {
	switch t := x.(type) {
	case nil:
		return Leaf(nil)
	case Value:
		return t
	case json.Number, string, bool, []byte:
		return Leaf(t)
	case json.RawMessage:
		var v Value
		if err := v.UnmarshalJSON(t); err != nil {
			return Leaf(string(t))
		}
		return v
	}
	return normalizeReflect(reflect.ValueOf(x))
}

func normalizeReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Leaf(nil)
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Map:
		if rv.IsNil() {
			return Mapping(nil)
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return Mapping(m)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Sequence()
		}
		items := make([]Value, rv.Len())
		for i := range rv.Len() {
			items[i] = Normalize(rv.Index(i).Interface())
		}
		return Sequence(items...)
	case reflect.Struct:
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return Leaf(fmt.Sprint(rv.Interface()))
		}
		var v Value
		if err := v.UnmarshalJSON(data); err != nil {
			return Leaf(string(data))
		}
		return v
	default:
		return Leaf(rv.Interface())
	}
}
