package image

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// PadByte fills the gaps between Intel HEX segments, matching erased flash.
const PadByte = 0xFF

// LoadPayload reads a component payload from disk. Files with a .hex or
// .ihex extension are decoded as Intel HEX into a flat binary that starts
// at the lowest segment address; anything else is returned as-is.
func LoadPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return DecodeHex(data)
	}
	return data, nil
}

// DecodeHex flattens an Intel HEX document. Gaps are filled with PadByte.
func DecodeHex(data []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("invalid intel hex: %w", err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("intel hex has no data")
	}

	start := segments[0].Address
	end := start
	for _, seg := range segments {
		if seg.Address < start {
			start = seg.Address
		}
		if e := seg.Address + uint32(len(seg.Data)); e > end {
			end = e
		}
	}

	return mem.ToBinary(start, end-start, PadByte), nil
}

// EncodeHex renders a flat binary as Intel HEX starting at base.
func EncodeHex(base uint32, data []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, data); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := mem.DumpIntelHex(&buf, 16); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
