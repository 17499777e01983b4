package storage

import (
	"encoding/binary"
	"encoding/json"
)

// Rows are stored as JSON so the audit CLI and humans can read them with
// any pebble tool.
func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// Decode unmarshals a raw row produced by Batch.Put. Used by scan callbacks.
func Decode(b []byte, v any) error {
	return decode(b, v)
}

func encodeSeq(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
