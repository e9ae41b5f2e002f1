package engine

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
)

// IDKey is the reserved field holding a document's server-assigned id.
const IDKey = "@id"

// Document is a JSON object as decoded by helpers.UnmarshalJSON: nested
// objects are map[string]interface{}, arrays are []interface{} and numbers are
// json.Number.
type Document map[string]interface{}

// ID returns the document's @id, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDKey].(string)
	return id
}

// Matches reports whether every key in query is present in d with an equal
// value. Numbers compare by value. An empty query matches every document.
func (d Document) Matches(query map[string]interface{}) bool {
	for key, want := range query {
		have, ok := d[key]
		if !ok || !valuesEqual(have, want) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// apply merges patch into d at the top level, skipping @id. It reports whether
// any value actually changed.
func (d Document) apply(patch map[string]interface{}) bool {
	changed := false
	for k, v := range patch {
		if k == IDKey {
			continue
		}
		if old, ok := d[k]; ok && valuesEqual(old, v) {
			continue
		}
		d[k] = cloneValue(v)
		changed = true
	}
	return changed
}

// valuesEqual is reflect.DeepEqual for decoded JSON, except that numbers are
// equal when their values are, whatever their Go type or spelling.
func valuesEqual(a, b interface{}) bool {
	if x, ok := numberValue(a); ok {
		y, ok := numberValue(b)
		return ok && x.Cmp(y) == 0
	}

	switch x := a.(type) {
	case Document:
		return mapsEqual(x, b)
	case map[string]interface{}:
		return mapsEqual(x, b)
	case []interface{}:
		y, ok := b.([]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func mapsEqual(x map[string]interface{}, b interface{}) bool {
	var y map[string]interface{}
	switch t := b.(type) {
	case Document:
		y = t
	case map[string]interface{}:
		y = t
	default:
		return false
	}
	if len(x) != len(y) {
		return false
	}
	for k, xv := range x {
		yv, ok := y[k]
		if !ok || !valuesEqual(xv, yv) {
			return false
		}
	}
	return true
}

// numberValue converts a JSON number in any of the forms a document can hold
// to an exact big.Float.
func numberValue(v interface{}) (*big.Float, bool) {
	f := new(big.Float).SetPrec(512)
	switch n := v.(type) {
	case json.Number:
		if _, ok := f.SetString(string(n)); !ok {
			return nil, false
		}
		return f, true
	case float64:
		if math.IsNaN(n) {
			return nil, false
		}
		return f.SetFloat64(n), true
	case float32:
		if math.IsNaN(float64(n)) {
			return nil, false
		}
		return f.SetFloat64(float64(n)), true
	case int:
		return f.SetInt64(int64(n)), true
	case int32:
		return f.SetInt64(int64(n)), true
	case int64:
		return f.SetInt64(n), true
	default:
		return nil, false
	}
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Document:
		return t.Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

func cloneAll(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
