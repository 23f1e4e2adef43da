// Package codec turns cache values into bytes for the disk tier.
//
// The codec name is part of the persisted format: switching codecs on an
// existing cache directory makes old records undecodable, which the disk
// tier reports as misses.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is used by the disk tier when no codec is configured.
var Default Codec = JSON{}

// ByName returns a built-in codec by its stable name.
// An empty name selects Default.
func ByName(name string) (Codec, bool) {
	switch name {
	case "":
		return Default, true
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	case "msgpack":
		return Msgpack{}, true
	default:
		return nil, false
	}
}

// Names lists the built-in codec names.
func Names() []string { return []string{"json", "go-json", "msgpack"} }

// Typed binds a Codec to a concrete value type.
type Typed[V any] struct{ C Codec }

// Encode marshals v.
func (t Typed[V]) Encode(v V) ([]byte, error) {
	b, err := t.codec().Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: encode: %w", t.codec().Name(), err)
	}
	return b, nil
}

// Decode unmarshals data into a fresh V.
func (t Typed[V]) Decode(data []byte) (V, error) {
	var v V
	if err := t.codec().Unmarshal(data, &v); err != nil {
		var zero V
		return zero, fmt.Errorf("codec %s: decode: %w", t.codec().Name(), err)
	}
	return v, nil
}

func (t Typed[V]) codec() Codec {
	if t.C == nil {
		return Default
	}
	return t.C
}
