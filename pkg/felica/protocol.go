// Package felica reads FeliCa systems and services.
//
// FRAMES:
// Every command and response is [LEN, CODE, ...] where LEN counts itself. Responses use
// CODE+1. Most commands address the card by the IDm returned from the last polling.
// Service codes are little-endian on the wire; system codes are big-endian.
package felica

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/bits"
	"github.com/gregLibert/farecard/pkg/iso7816"
)

const (
	cmdPolling               byte = 0x00
	cmdReadWithoutEncryption byte = 0x06
	cmdSearchServiceCode     byte = 0x0A
	cmdRequestSystemCode     byte = 0x0C
)

const (
	// WildcardSystem polls any system.
	WildcardSystem uint16 = 0xFFFF

	// BlockSize is the size of one FeliCa block.
	BlockSize = 16

	endOfServices uint16 = 0xFFFF
	maxServices          = 0x1000
)

// ResponseError is a frame that does not answer the command that was sent.
type ResponseError struct {
	Command byte
	Frame   []byte
	Reason  string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("felica: bad response to command %02X (%s): %X", e.Command, e.Reason, e.Frame)
}

// Protocol issues FeliCa commands over one link.
type Protocol struct {
	link iso7816.Transmitter
	idm  [8]byte
}

// NewProtocol wraps a transmitter that carries raw FeliCa frames.
func NewProtocol(link iso7816.Transmitter) *Protocol {
	return &Protocol{link: link}
}

// exchange frames body with its length byte, sends it and checks the response code.
func (p *Protocol) exchange(code byte, body []byte) ([]byte, error) {
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, byte(len(body)+2), code)
	frame = append(frame, body...)

	resp, err := p.link.Transmit(frame)
	if err != nil {
		return nil, &iso7816.TransportError{Err: err}
	}
	if len(resp) < 2 {
		return nil, &ResponseError{Command: code, Frame: resp, Reason: "short frame"}
	}
	if int(resp[0]) != len(resp) {
		return nil, &ResponseError{Command: code, Frame: resp, Reason: "length mismatch"}
	}
	if resp[1] != code+1 {
		return nil, &ResponseError{Command: code, Frame: resp, Reason: "unexpected response code"}
	}
	return resp[2:], nil
}

// Poll selects the system matching systemCode and returns the card identifiers.
func (p *Protocol) Poll(systemCode uint16) (idm, pmm [8]byte, err error) {
	body, err := p.exchange(cmdPolling, []byte{byte(systemCode >> 8), byte(systemCode), 0x01, 0x00})
	if err != nil {
		return idm, pmm, err
	}
	if len(body) < 16 {
		return idm, pmm, &ResponseError{Command: cmdPolling, Frame: body, Reason: "short polling response"}
	}
	copy(idm[:], body[0:8])
	copy(pmm[:], body[8:16])
	p.idm = idm
	return idm, pmm, nil
}

// SystemCodes lists the systems of the polled card.
func (p *Protocol) SystemCodes() ([]uint16, error) {
	body, err := p.exchange(cmdRequestSystemCode, p.idm[:])
	if err != nil {
		return nil, err
	}
	if len(body) < 9 || len(body) < 9+2*int(body[8]) {
		return nil, &ResponseError{Command: cmdRequestSystemCode, Frame: body, Reason: "truncated system list"}
	}

	n := int(body[8])
	codes := make([]uint16, 0, n)
	for i := range n {
		v, _ := bits.Uint(body, 9+2*i, 2)
		codes = append(codes, uint16(v))
	}
	return codes, nil
}

// ServiceCodes walks Search Service Code from index 0 until the end marker.
// Area entries are skipped; only service codes are returned.
func (p *Protocol) ServiceCodes() ([]uint16, error) {
	var codes []uint16
	for idx := 0; idx < maxServices; idx++ {
		req := append(append([]byte(nil), p.idm[:]...), byte(idx), byte(idx>>8))
		body, err := p.exchange(cmdSearchServiceCode, req)
		if err != nil {
			return nil, err
		}
		if len(body) < 10 {
			return nil, &ResponseError{Command: cmdSearchServiceCode, Frame: body, Reason: "short search response"}
		}

		entry := body[8:]
		code, _ := bits.UintLE(entry, 0, 2)
		if uint16(code) == endOfServices {
			return codes, nil
		}
		if len(entry) == 2 {
			codes = append(codes, uint16(code))
		}
	}
	return codes, nil
}

// ReadBlock reads one block of service without encryption. It returns false when the
// card signals the end of the service with a non-zero status flag or an empty answer.
func (p *Protocol) ReadBlock(service, address uint16) ([BlockSize]byte, bool, error) {
	var block [BlockSize]byte

	req := append([]byte(nil), p.idm[:]...)
	req = append(req, 0x01, byte(service), byte(service>>8), 0x01)
	if address < 0x100 {
		req = append(req, 0x80, byte(address))
	} else {
		req = append(req, 0x00, byte(address), byte(address>>8))
	}

	body, err := p.exchange(cmdReadWithoutEncryption, req)
	if err != nil {
		return block, false, err
	}
	if len(body) < 10 {
		return block, false, &ResponseError{Command: cmdReadWithoutEncryption, Frame: body, Reason: "short read response"}
	}
	if body[8] != 0x00 || body[9] != 0x00 {
		return block, false, nil
	}
	if len(body) < 11 || body[10] == 0 || len(body) < 11+BlockSize {
		return block, false, nil
	}
	copy(block[:], body[11:11+BlockSize])
	return block, true, nil
}
