package pcsc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/classic"
	"github.com/gregLibert/farecard/pkg/desfire"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/tlv"
)

// ATR historical bytes of a PC/SC Part 3 storage card:
//
//	80 | 4F len | RID(5) | standard(1) | card name(2) | RFU(4)
const (
	categoryTLV    byte = 0x80
	standardFeliCa byte = 0x11
)

var pcscRID = []byte{0xA0, 0x00, 0x00, 0x03, 0x06}

// Card names assigned by PC/SC Part 3.
var cardNames = map[uint16]Identity{
	0x0001: {Technology: card.SectorMemoryTechnology, Size: classic.K1},
	0x0002: {Technology: card.SectorMemoryTechnology, Size: classic.K4},
	0x0026: {Technology: card.SectorMemoryTechnology, Size: classic.Mini},
	0x0036: {Technology: card.SectorMemoryTechnology, Size: classic.K2},
	0x0037: {Technology: card.SectorMemoryTechnology, Size: classic.K4},
	0x003B: {Technology: card.PollingServiceTechnology},
}

// Identity is what the reader tells about a card before any command is sent.
// Size is set for sector-memory cards only.
type Identity struct {
	Technology card.Technology
	Size       classic.Size
}

// ErrMalformedATR is returned for an ATR whose interface bytes run past its end.
var ErrMalformedATR = errors.New("pcsc: malformed ATR")

// Identify reads the technology from the ATR a PC/SC reader synthesizes for a
// contactless card. ISO 14443-4 cards carry no card name; they come back as
// TechnologyUnknown without error and need Detect.
func Identify(atr []byte) (Identity, error) {
	hist, err := historicalBytes(atr)
	if err != nil {
		return Identity{}, err
	}
	if len(hist) < 2 || hist[0] != categoryTLV {
		return Identity{}, nil
	}

	aid, err := tlv.GetValue(hist[1:], "4F")
	if err != nil || len(aid) < 8 || !bytes.Equal(aid[:5], pcscRID) {
		return Identity{}, nil
	}
	if aid[5] == standardFeliCa {
		return Identity{Technology: card.PollingServiceTechnology}, nil
	}
	name := uint16(aid[6])<<8 | uint16(aid[7])
	return cardNames[name], nil
}

// historicalBytes skips the ATR interface bytes (ISO 7816-3 §8.2).
func historicalBytes(atr []byte) ([]byte, error) {
	if len(atr) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedATR, len(atr))
	}
	k := int(atr[1] & 0x0F)
	y := atr[1] >> 4
	i := 2
	for {
		for _, present := range []byte{0x1, 0x2, 0x4} {
			if y&present != 0 {
				i++
			}
		}
		if y&0x8 == 0 {
			break
		}
		if i >= len(atr) {
			return nil, fmt.Errorf("%w: TD beyond end", ErrMalformedATR)
		}
		y = atr[i] >> 4
		i++
	}
	if i+k > len(atr) {
		return nil, fmt.Errorf("%w: %d historical bytes announced, %d left", ErrMalformedATR, k, len(atr)-i)
	}
	return atr[i : i+k], nil
}

// Detect identifies the card from its ATR and, for ISO 14443-4 cards, by asking
// for a DESFire version. Cards that do not answer it are taken for CEPAS purses.
// Only link failures are returned as errors.
func Detect(link iso7816.Transmitter, atr []byte) (Identity, error) {
	id, err := Identify(atr)
	if err != nil {
		return Identity{}, err
	}
	if id.Technology != card.TechnologyUnknown {
		return id, nil
	}

	if _, err := desfire.NewProtocol(link).Version(); err != nil {
		if iso7816.IsTransport(err) {
			return Identity{}, err
		}
		return Identity{Technology: card.PurseTechnology}, nil
	}
	return Identity{Technology: card.FileSystemTechnology}, nil
}
