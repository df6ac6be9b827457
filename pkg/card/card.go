// Package card defines the immutable, technology-neutral record of one card read.
//
// A RawCard carries the tag identifier, the scan time and exactly one Payload. Payload,
// File and Sector are sealed interfaces: only the types in this package implement them,
// so a type switch over them names every variant a consumer has to handle.
//
// Values are built once by a driver in pkg/desfire, pkg/cepas, pkg/classic or pkg/felica
// and never mutated afterwards.
package card

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TagID is the anti-collision identifier of a physical tag (UID / IDm).
type TagID []byte

// String renders the identifier as upper-case hex.
func (t TagID) String() string {
	return strings.ToUpper(hex.EncodeToString(t))
}

// Clone returns a copy that does not share the backing array.
func (t TagID) Clone() TagID {
	if t == nil {
		return nil
	}
	return append(TagID(nil), t...)
}

// ParseTagID reads a hex identifier, tolerating ':' '-' and ' ' separators.
func ParseTagID(s string) (TagID, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid tag id %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, errors.New("empty tag id")
	}
	return TagID(b), nil
}

// Technology identifies the card family a payload was read from.
type Technology int

const (
	TechnologyUnknown Technology = iota
	// FileSystem is a multi-application file system card (DESFire).
	FileSystemTechnology
	// Purse is a fixed-purse card (CEPAS).
	PurseTechnology
	// SectorMemory is a sector-authenticated memory card (MIFARE Classic).
	SectorMemoryTechnology
	// PollingService is a polling/service card (FeliCa).
	PollingServiceTechnology
)

func (t Technology) String() string {
	switch t {
	case FileSystemTechnology:
		return "desfire"
	case PurseTechnology:
		return "cepas"
	case SectorMemoryTechnology:
		return "classic"
	case PollingServiceTechnology:
		return "felica"
	default:
		return "unknown"
	}
}

// ParseTechnology is the inverse of Technology.String.
func ParseTechnology(s string) (Technology, error) {
	for _, t := range []Technology{FileSystemTechnology, PurseTechnology, SectorMemoryTechnology, PollingServiceTechnology} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return TechnologyUnknown, fmt.Errorf("unknown technology %q", s)
}

// Payload is implemented by *FileSystem, *PurseCard, *SectorMemory and *PollingService.
type Payload interface {
	Technology() Technology
	payload()
}

// RawCard is the complete result of one acquisition.
type RawCard struct {
	TagID     TagID
	ScannedAt time.Time
	Payload   Payload
}

// New assembles a RawCard. The tag identifier is copied.
func New(tagID TagID, scannedAt time.Time, p Payload) (*RawCard, error) {
	if len(tagID) == 0 {
		return nil, errors.New("card: empty tag id")
	}
	if p == nil {
		return nil, errors.New("card: nil payload")
	}
	return &RawCard{
		TagID:     tagID.Clone(),
		ScannedAt: scannedAt,
		Payload:   p,
	}, nil
}

// Technology reports the payload kind.
func (c *RawCard) Technology() Technology {
	if c == nil || c.Payload == nil {
		return TechnologyUnknown
	}
	return c.Payload.Technology()
}

// Epoch anchors card-relative timestamps to absolute time.
type Epoch struct {
	Base time.Time
}

// Seconds returns the instant n seconds after the epoch.
func (e Epoch) Seconds(n int64) time.Time {
	return e.Base.Add(time.Duration(n) * time.Second)
}

// Minutes returns the instant n minutes after the epoch.
func (e Epoch) Minutes(n int64) time.Time {
	return e.Base.Add(time.Duration(n) * time.Minute)
}

// Days returns midnight (epoch location) n days after the epoch.
func (e Epoch) Days(n int) time.Time {
	return e.Base.AddDate(0, 0, n)
}
