package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// Two encodings live in the store:
//   - response bodies are JSON, stored byte-for-byte as the handler produced them;
//   - internal records (session hash fields) are CBOR, which is compact and
//     deterministic and never leaves the process.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

//nolint:gochecknoinits // CBOR modes are configured once at package load time
func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoding mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 10000,
		MaxMapPairs:      10000,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoding mode: %v", err))
	}
}

// Marshal serializes an internal record to CBOR bytes.
//
//	rec := session.Record{ID: id, Role: "listener"}
//	data, err := cache.Marshal(rec)
func Marshal[T any](v T) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal failed: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes CBOR bytes produced by Marshal.
func Unmarshal[T any](data []byte) (T, error) {
	var v T
	if err := decMode.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cbor unmarshal failed: %w", err)
	}
	return v, nil
}

// EncodeJSON renders a response payload for storage.
func EncodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a cached response payload into dst.
// Any error means the entry is corrupt and must be treated as a miss.
func DecodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("json unmarshal failed: empty payload")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}
