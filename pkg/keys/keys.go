// Package keys models MIFARE Classic sector keys and the resolvers that supply them.
//
// A KeyBundle is the set of keys known for one tag. Resolvers only look bundles up
// and store them; trying keys against a card is the job of pkg/classic.
package keys

import (
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/gregLibert/farecard/pkg/card"
)

// KeyKind selects which of the two sector keys a secret is. The values are the
// MIFARE authentication command codes.
type KeyKind byte

const (
	KeyA KeyKind = 0x60
	KeyB KeyKind = 0x61
)

func (k KeyKind) String() string {
	switch k {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("KeyKind(0x%02X)", byte(k))
	}
}

// ParseKeyKind accepts "A" or "B", case-insensitive.
func ParseKeyKind(s string) (KeyKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return KeyA, nil
	case "B":
		return KeyB, nil
	default:
		return 0, fmt.Errorf("unknown key kind %q", s)
	}
}

// SectorKey is one 6-byte secret and the slot it is used as.
type SectorKey struct {
	Kind   KeyKind
	Secret [6]byte
}

func (k SectorKey) String() string {
	return fmt.Sprintf("%s:%X", k.Kind, k.Secret[:])
}

// ParseSectorKey reads "A:FFFFFFFFFFFF" or a bare 12-digit hex secret (Key A).
func ParseSectorKey(s string) (SectorKey, error) {
	kind := KeyA
	secret := s
	if k, rest, ok := strings.Cut(s, ":"); ok {
		var err error
		if kind, err = ParseKeyKind(k); err != nil {
			return SectorKey{}, err
		}
		secret = rest
	}

	raw, err := hex.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return SectorKey{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	if len(raw) != 6 {
		return SectorKey{}, fmt.Errorf("invalid key %q: %d bytes, want 6", s, len(raw))
	}

	key := SectorKey{Kind: kind}
	copy(key.Secret[:], raw)
	return key, nil
}

// Well-known keys tried before any bundle.
var (
	// ZeroKey is tried on sector 0 only.
	ZeroKey = SectorKey{Kind: KeyA}
	// DefaultKey is the manufacturer transport key.
	DefaultKey = SectorKey{Kind: KeyA, Secret: [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}}
)

// KeyBundle is the ordered set of keys known for one tag.
// When Indexed is set, Keys[i] belongs to sector i and keys found later without a
// slot of their own go to Extra. Unindexed bundles keep every key in Keys.
type KeyBundle struct {
	TagID   card.TagID
	Family  string
	Keys    []SectorKey
	Indexed bool
	Extra   []SectorKey
}

// ForSector returns the key mapped 1:1 to sector, if the bundle is indexed and has one.
func (b *KeyBundle) ForSector(sector int) (SectorKey, bool) {
	if b == nil || !b.Indexed || sector < 0 || sector >= len(b.Keys) {
		return SectorKey{}, false
	}
	return b.Keys[sector], true
}

// Contains reports whether the bundle already holds key.
func (b *KeyBundle) Contains(key SectorKey) bool {
	if b == nil {
		return false
	}
	for _, k := range b.Keys {
		if k == key {
			return true
		}
	}
	for _, k := range b.Extra {
		if k == key {
			return true
		}
	}
	return false
}

func (b *KeyBundle) clone() *KeyBundle {
	out := &KeyBundle{}
	if b != nil {
		out.TagID = b.TagID.Clone()
		out.Family = b.Family
		out.Indexed = b.Indexed
		out.Keys = append(out.Keys, b.Keys...)
		out.Extra = append(out.Extra, b.Extra...)
	}
	return out
}

// Merge returns a new bundle holding b's keys plus every key in found that b does
// not contain yet. Sector slots never move: an indexed bundle takes the new keys
// into Extra. The second result reports whether anything was added.
func (b *KeyBundle) Merge(found []SectorKey) (*KeyBundle, bool) {
	out := b.clone()

	added := false
	for _, k := range found {
		if out.Contains(k) {
			continue
		}
		if out.Indexed {
			out.Extra = append(out.Extra, k)
		} else {
			out.Keys = append(out.Keys, k)
		}
		added = true
	}
	return out, added
}

// Import returns a new bundle whose sector slots are those of dump. Keys b held
// that the dump does not carry are kept in Extra, in their previous order. The
// dump's family wins when it has one. The second result reports whether the
// bundle changed.
func (b *KeyBundle) Import(dump *KeyBundle) (*KeyBundle, bool) {
	if dump == nil {
		return b.clone(), false
	}
	if !dump.Indexed {
		return b.Merge(dump.Keys)
	}

	out := &KeyBundle{
		TagID:   dump.TagID.Clone(),
		Family:  dump.Family,
		Indexed: true,
		Keys:    append([]SectorKey(nil), dump.Keys...),
	}
	if b != nil {
		if len(out.TagID) == 0 {
			out.TagID = b.TagID.Clone()
		}
		if out.Family == "" {
			out.Family = b.Family
		}
		for _, k := range append(append([]SectorKey(nil), b.Keys...), b.Extra...) {
			if !out.Contains(k) {
				out.Extra = append(out.Extra, k)
			}
		}
	}

	changed := b == nil || !b.Indexed || !slices.Equal(b.Keys, out.Keys) || !slices.Equal(b.Extra, out.Extra)
	return out, changed
}

// ParseDump imports a raw key dump: 6 bytes per sector, sector order, all of one kind.
func ParseDump(tagID card.TagID, family string, data []byte, kind KeyKind) (*KeyBundle, error) {
	if len(data) == 0 || len(data)%6 != 0 {
		return nil, fmt.Errorf("key dump of %d bytes is not a whole number of 6-byte keys", len(data))
	}
	if kind != KeyA && kind != KeyB {
		return nil, fmt.Errorf("invalid key kind %s", kind)
	}

	b := &KeyBundle{TagID: tagID.Clone(), Family: family, Indexed: true}
	for off := 0; off < len(data); off += 6 {
		k := SectorKey{Kind: kind}
		copy(k.Secret[:], data[off:off+6])
		b.Keys = append(b.Keys, k)
	}
	return b, nil
}

// Resolver supplies known keys for a tag and stores newly validated ones.
// KeysFor returns nil, nil when nothing is known.
type Resolver interface {
	KeysFor(ctx context.Context, tagID card.TagID) (*KeyBundle, error)
	Remember(ctx context.Context, tagID card.TagID, bundle *KeyBundle) error
}
