package codec

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/keys"
)

type keysDoc struct {
	Version int      `cbor:"v"`
	TagID   []byte   `cbor:"tag"`
	Family  string   `cbor:"family,omitempty"`
	Indexed bool     `cbor:"indexed,omitempty"`
	Keys    []string `cbor:"keys"`
	Extra   []string `cbor:"extra,omitempty"`
}

// MarshalKeys encodes a key bundle. Keys are stored in their "A:HEX" text form.
func MarshalKeys(b *keys.KeyBundle) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("codec: nil key bundle")
	}
	doc := keysDoc{
		Version: FormatVersion,
		TagID:   b.TagID,
		Family:  b.Family,
		Indexed: b.Indexed,
		Keys:    make([]string, 0, len(b.Keys)),
	}
	for _, k := range b.Keys {
		doc.Keys = append(doc.Keys, k.String())
	}
	for _, k := range b.Extra {
		doc.Extra = append(doc.Extra, k.String())
	}
	return encMode.Marshal(doc)
}

// UnmarshalKeys decodes a bundle written by MarshalKeys.
func UnmarshalKeys(data []byte) (*keys.KeyBundle, error) {
	var doc keysDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codec: decode key bundle: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w %d", ErrVersion, doc.Version)
	}

	b := &keys.KeyBundle{
		TagID:   doc.TagID,
		Family:  doc.Family,
		Indexed: doc.Indexed,
		Keys:    make([]keys.SectorKey, 0, len(doc.Keys)),
	}
	for i, s := range doc.Keys {
		k, err := keys.ParseSectorKey(s)
		if err != nil {
			return nil, fmt.Errorf("codec: key %d: %w", i, err)
		}
		b.Keys = append(b.Keys, k)
	}
	for i, s := range doc.Extra {
		k, err := keys.ParseSectorKey(s)
		if err != nil {
			return nil, fmt.Errorf("codec: extra key %d: %w", i, err)
		}
		b.Extra = append(b.Extra, k)
	}
	return b, nil
}
