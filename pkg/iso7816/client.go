package iso7816

import (
	"errors"
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client drives one physical link, one exchange at a time. It handles the ISO 7816-3
// transport behaviours that surface at the application layer:
//
// 1. "61 XX": XX bytes are waiting; the client sends GET RESPONSE.
// 2. "6C XX": wrong Le; the client re-sends the command with Le = XX.
//
// Everything else, including DESFire 91XX trailers and CEPAS 6B/67, is returned untouched
// for the technology driver to interpret.

// maxAutoSteps bounds 61XX/6CXX auto-handling against a card that never settles.
const maxAutoSteps = 8

// ErrTagLost is returned (possibly wrapped) by a Transmitter when the tag left the field
// or the link was closed underneath an exchange.
var ErrTagLost = errors.New("tag lost")

// TransportError wraps a failure of the physical exchange itself.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transmission error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err came from the link rather than from the card.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr) || errors.Is(err, ErrTagLost)
}

// Transmitter abstracts the physical card connection. *scard.Card satisfies it.
// Requests and responses are whole frames.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	return c.send(cmd, 0)
}

// Transmit sends an already-encoded frame and parses the trailer, without auto-handling.
// Used by drivers whose frames are not expressible as a CommandAPDU.
func (c *Client) Transmit(raw []byte) (*ResponseAPDU, error) {
	rawResp, err := c.Card.Transmit(raw)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, fmt.Errorf("malformed response %X: %w", rawResp, err)
	}
	return resp, nil
}

func (c *Client) send(cmd *CommandAPDU, step int) (Trace, error) {
	if step >= maxAutoSteps {
		return nil, fmt.Errorf("card did not settle after %d automatic steps", step)
	}

	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	resp, err := c.Transmit(rawCmd)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	var next *CommandAPDU
	switch sw1 {
	case 0x61:
		// GET RESPONSE must use the same logical channel as the original command.
		respCls := cmd.Class
		if respCls.IsProprietary {
			respCls = InterindustryClass
		}
		respCls.IsChained = false

		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		ins, _ := NewInstruction(INS_GET_RESPONSE)
		next = NewCommandAPDU(respCls, ins, 0x00, 0x00, nil, ne)
	case 0x6C:
		resend := *cmd
		resend.Ne = int(sw2)
		if resend.Ne == 0 {
			resend.Ne = MaxShortLe
		}
		next = &resend
	default:
		return trace, nil
	}

	subTrace, err := c.send(next, step+1)
	if err != nil {
		return trace, err
	}
	return append(trace, subTrace...), nil
}
