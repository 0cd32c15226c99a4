package cbor

// NewMap builds a Map from alternating key/value arguments, preserving the
// order given (Encode will still canonicalize on the wire).
func NewMap(kv ...Value) *Map {
	m := &Map{}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Entries = append(m.Entries, MapEntry{Key: kv[i], Val: kv[i+1]})
	}
	return m
}

// GetString looks up a text-string key and type-asserts the value.
func (m *Map) GetString(key string) (Value, bool) {
	return m.Get(key)
}

// GetInt looks up an integer key and type-asserts the value.
func (m *Map) GetInt(key int64) (Value, bool) {
	return m.Get(key)
}

// AsInt64 type-asserts v as the int64 produced by Decode for CBOR major
// types 0/1, reporting false for anything else.
func AsInt64(v Value) (int64, bool) {
	n, ok := v.(int64)
	return n, ok
}
