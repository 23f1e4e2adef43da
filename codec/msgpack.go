package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is a compact binary codec backed by vmihailenco/msgpack.
// Struct fields may use `msgpack:"name"` tags.
type Msgpack struct{}

// Marshal encodes the value to MessagePack.
func (Msgpack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes MessagePack data into v.
func (Msgpack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// Name returns "msgpack".
func (Msgpack) Name() string { return "msgpack" }
