package vision

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EncodeResult serialises a result for the wire. DecodeResult of the output
// yields an identical value.
func EncodeResult(r *Result) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil result")
	}
	return sonic.Marshal(r)
}

// DecodeResult parses a wire-encoded result.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
