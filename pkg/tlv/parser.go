// Package tlv provides BER-TLV lookups over github.com/moov-io/bertlv and the Hex fixture helper.
//
// Contactless readers advertise the tag technology inside BER-TLV structures (PC/SC Part 3
// ATR historical bytes carry an '4F' application identifier); Find walks such structures.
package tlv

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Decode parses raw BER-TLV data.
func Decode(data []byte) ([]bertlv.TLV, error) {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}
	return packets, nil
}

// Find returns the value of the first packet with the given tag, searching depth-first
// through constructed packets. Tags compare case-insensitively ("4f" == "4F").
func Find(packets []bertlv.TLV, tag string) ([]byte, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			if len(p.TLVs) > 0 {
				if enc, err := bertlv.Encode(p.TLVs); err == nil {
					return enc, true
				}
			}
			return p.Value, true
		}
		if v, ok := Find(p.TLVs, tag); ok {
			return v, true
		}
	}
	return nil, false
}

// GetValue decodes data and returns the payload of tag.
func GetValue(data []byte, tag string) ([]byte, error) {
	packets, err := Decode(data)
	if err != nil {
		return nil, err
	}
	v, ok := Find(packets, tag)
	if !ok {
		return nil, fmt.Errorf("tag %s not found", strings.ToUpper(tag))
	}
	return v, nil
}
