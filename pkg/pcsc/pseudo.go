package pcsc

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/classic"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/keys"
)

// PC/SC Part 3 pseudo-APDU instructions, all under class FF.
const (
	insLoadKey        byte = 0x82
	insAuthenticate   byte = 0x86
	insReadBinary     byte = 0xB0
	insDirectTransmit byte = 0x00
	insGetData        byte = 0xCA

	pseudoClass byte = 0xFF

	// keySlot is the volatile reader key slot used for every authentication.
	keySlot byte = 0x00
)

// StatusError is a pseudo-APDU the reader answered with a non-9000 status.
type StatusError struct {
	Command string
	Status  iso7816.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pcsc: %s: %s", e.Command, e.Status.Verbose())
}

// ClassicTag drives a MIFARE Classic card through the reader's LOAD KEY,
// GENERAL AUTHENTICATE and READ BINARY pseudo-APDUs.
type ClassicTag struct {
	client *iso7816.Client
	size   classic.Size
}

var _ classic.Tag = (*ClassicTag)(nil)

// NewClassicTag wraps link for a card of the given size.
func NewClassicTag(link iso7816.Transmitter, size classic.Size) *ClassicTag {
	return &ClassicTag{client: iso7816.NewClient(link), size: size}
}

func (t *ClassicTag) SectorCount() int          { return t.size.Sectors() }
func (t *ClassicTag) BlockCount(sector int) int { return classic.BlocksIn(sector) }

// Authenticate loads key into the reader and authenticates the first block of sector.
// A card rejection is (false, nil); a reader refusing to load the key is an error.
func (t *ClassicTag) Authenticate(sector int, key keys.SectorKey) (bool, error) {
	load := append([]byte{pseudoClass, insLoadKey, 0x00, keySlot, 0x06}, key.Secret[:]...)
	resp, err := t.client.Transmit(load)
	if err != nil {
		return false, err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return false, &StatusError{Command: "load key", Status: resp.Status}
	}

	block := byte(classic.FirstBlock(sector))
	auth := []byte{pseudoClass, insAuthenticate, 0x00, 0x00, 0x05, 0x01, 0x00, block, byte(key.Kind), keySlot}
	resp, err = t.client.Transmit(auth)
	if err != nil {
		return false, err
	}
	return resp.Status == iso7816.SW_NO_ERROR, nil
}

// ReadBlock reads one block of the sector authenticated last.
func (t *ClassicTag) ReadBlock(sector, block int) ([]byte, error) {
	abs := classic.FirstBlock(sector) + block
	resp, err := t.client.Transmit([]byte{pseudoClass, insReadBinary, 0x00, byte(abs), classic.BlockSize})
	if err != nil {
		return nil, err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, &StatusError{Command: fmt.Sprintf("read block %d", abs), Status: resp.Status}
	}
	if len(resp.Data) != classic.BlockSize {
		return nil, fmt.Errorf("pcsc: read block %d: %d bytes, want %d", abs, len(resp.Data), classic.BlockSize)
	}
	return resp.Data, nil
}

// FelicaLink carries raw FeliCa frames through the reader's direct-transmit
// pseudo-APDU. It satisfies iso7816.Transmitter for pkg/felica.
type FelicaLink struct {
	client *iso7816.Client
}

// NewFelicaLink wraps link.
func NewFelicaLink(link iso7816.Transmitter) *FelicaLink {
	return &FelicaLink{client: iso7816.NewClient(link)}
}

// Transmit sends frame and returns the card's answer without the reader trailer.
func (f *FelicaLink) Transmit(frame []byte) ([]byte, error) {
	if len(frame) > 0xFF {
		return nil, fmt.Errorf("pcsc: frame of %d bytes too long", len(frame))
	}
	cmd := append([]byte{pseudoClass, insDirectTransmit, 0x00, 0x00, byte(len(frame))}, frame...)
	resp, err := f.client.Transmit(cmd)
	if err != nil {
		return nil, err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, &StatusError{Command: "direct transmit", Status: resp.Status}
	}
	return resp.Data, nil
}

// ReadUID asks the reader for the tag's anti-collision identifier (GET DATA, P1 00).
func ReadUID(link iso7816.Transmitter) (card.TagID, error) {
	resp, err := iso7816.NewClient(link).Transmit([]byte{pseudoClass, insGetData, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, &StatusError{Command: "get uid", Status: resp.Status}
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("pcsc: reader returned an empty uid")
	}
	return card.TagID(resp.Data).Clone(), nil
}
