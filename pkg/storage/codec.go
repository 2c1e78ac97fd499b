package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

func encodeJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return b, nil
}

func decodeJSON(b []byte, v any) error {
	return errors.Wrap(json.Unmarshal(b, v), "decode")
}

func timeValue(t time.Time) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(t.Unix()))
	return k[:]
}

func valueTime(b []byte) time.Time {
	if len(b) != 8 {
		return time.Time{}
	}
	return time.Unix(int64(binary.BigEndian.Uint64(b)), 0)
}
