// Package pcsc adapts PC/SC readers (github.com/ebfe/scard) to the card drivers.
//
// Link carries ISO 7816 frames and reports tag loss as iso7816.ErrTagLost.
// ClassicTag and FelicaLink speak the PC/SC Part 3 pseudo-APDUs that contactless
// readers use for cards without an APDU layer of their own. Identify and Detect pick
// the driver for the card on the reader.
package pcsc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	"github.com/gregLibert/farecard/pkg/iso7816"
)

// Card is the part of *scard.Card a Link needs.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	Disconnect(d scard.Disposition) error
}

// lostErrors are PC/SC failures meaning the tag is gone.
var lostErrors = []error{
	scard.ErrRemovedCard,
	scard.ErrResetCard,
	scard.ErrNoSmartcard,
	scard.ErrUnpoweredCard,
	scard.ErrUnresponsiveCard,
}

// Link is a connected card. It is safe for concurrent use, but drivers send one
// frame at a time anyway.
type Link struct {
	mu     sync.Mutex
	card   Card
	lost   bool
	closed bool
}

// NewLink wraps a connected card.
func NewLink(c Card) *Link {
	return &Link{card: c}
}

// Transmit implements iso7816.Transmitter.
func (l *Link) Transmit(cmd []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.lost {
		return nil, fmt.Errorf("link closed: %w", iso7816.ErrTagLost)
	}
	resp, err := l.card.Transmit(cmd)
	if err != nil {
		for _, lost := range lostErrors {
			if errors.Is(err, lost) {
				l.lost = true
				return nil, fmt.Errorf("%w: %v", iso7816.ErrTagLost, err)
			}
		}
		return nil, err
	}
	return resp, nil
}

// Connected reports whether the link is still usable.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && !l.lost
}

// Close disconnects the card and leaves it powered. Closing twice is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.card.Disconnect(scard.LeaveCard); err != nil {
		return fmt.Errorf("pcsc: disconnect: %w", err)
	}
	return nil
}
