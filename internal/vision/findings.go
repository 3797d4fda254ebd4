package vision

import "encoding/json"

// Findings is the normalized vision result. Its root is always a mapping and
// absence of data is an empty mapping.
type Findings struct {
	root Value
}

// NewFindings normalizes raw; a non mapping root is kept under "data"
func NewFindings(raw any) Findings {
	v := Normalize(raw)
	switch {
	case v.Kind() == KindMapping:
		return Findings{root: v}
	case v.Kind() == KindLeaf && v.leaf == nil:
		return Findings{root: Mapping(nil)}
	default:
		return Findings{root: Mapping(map[string]Value{"data": v})}
	}
}

func (f Findings) Value() Value {
	if f.root.Kind() != KindMapping {
		return Mapping(nil)
	}
	return f.root
}

func (f Findings) Get(key string) (Value, bool) {
	return f.Value().Get(key)
}

func (f Findings) Empty() bool {
	return f.Value().Len() == 0
}

// Map returns the findings as a plain map
func (f Findings) Map() map[string]any {
	return f.Value().Interface().(map[string]any)
}

func (f Findings) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

func (f *Findings) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = NewFindings(v)
	return nil
}
