package registry

import (
	"bytes"
	"encoding/json"
	"io"
)

// Shape classifies a device-list payload before any record is looked at.
type Shape int

const (
	ShapeInvalid     Shape = iota // anything unusable; yields no records
	ShapeSequence                 // [ {...}, ... ]
	ShapeWrapped                  // {"results": [ ... ]}
	ShapeKeyedObject              // {"a": {...}, "b": {...}}; values are the records
)

func (s Shape) String() string {
	switch s {
	case ShapeSequence:
		return "sequence"
	case ShapeWrapped:
		return "wrapped"
	case ShapeKeyedObject:
		return "keyed_object"
	default:
		return "invalid"
	}
}

// Decoded is a classified payload with its candidate records, in the order
// they appear in the document.
type Decoded struct {
	Shape   Shape
	Records []json.RawMessage
}

const resultsKey = "results"

// Decode classifies payload. It never fails: malformed input is ShapeInvalid
// with no records.
func Decode(payload []byte) Decoded {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return Decoded{Shape: ShapeInvalid}
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return Decoded{Shape: ShapeInvalid}
		}
		return Decoded{Shape: ShapeSequence, Records: records}
	case '{':
		keys, values, ok := decodeObject(trimmed)
		if !ok {
			return Decoded{Shape: ShapeInvalid}
		}
		for i, k := range keys {
			if k != resultsKey {
				continue
			}
			var records []json.RawMessage
			if err := json.Unmarshal(values[i], &records); err == nil && records != nil {
				return Decoded{Shape: ShapeWrapped, Records: records}
			}
			break
		}
		return Decoded{Shape: ShapeKeyedObject, Records: values}
	default:
		return Decoded{Shape: ShapeInvalid}
	}
}

// decodeObject reads a JSON object keeping member order, which a map would
// lose. The last occurrence of a duplicated key wins, as with a map.
func decodeObject(data []byte) ([]string, []json.RawMessage, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, nil, false
	}

	var (
		keys   []string
		values []json.RawMessage
		pos    = map[string]int{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, false
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, false
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, false
		}
		if i, dup := pos[key]; dup {
			values[i] = v
			continue
		}
		pos[key] = len(keys)
		keys = append(keys, key)
		values = append(values, v)
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, false // trailing data
	}
	return keys, values, true
}
