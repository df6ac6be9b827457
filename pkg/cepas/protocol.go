// Package cepas reads CEPAS (Singapore ez-link / NETS FlashPay) purses and their
// transaction logs.
//
// A CEPAS card exposes 16 purse slots under EF 4000. Each slot answers a READ PURSE
// (0x32) with either the purse record, status 6B (no purse in that slot) or an error.
// The history of a slot is read with the same instruction and a one-byte offset.
package cepas

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/iso7816"
)

const (
	insReadPurse iso7816.InsCode = 0x32

	// purseFile is the elementary file holding the purses.
	purseFile uint16 = 0x4000

	// recordSize is the length of one transaction log record.
	recordSize = 16

	// recordsPerRead is the most records a single history request returns.
	recordsPerRead = 15
)

// State is the outcome of reading one slot.
type State int

const (
	// Absent means the card has nothing in that slot (status 6B).
	Absent State = iota
	// Present means Data holds the slot contents.
	Present
	// Failed means the card refused the request; Err says why.
	Failed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the tri-state answer of a slot read.
type Result struct {
	State State
	Data  []byte
	Err   error
}

// StatusError is a trailer that fails a single slot.
type StatusError struct {
	Status iso7816.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cepas: unexpected status %s", e.Status.Verbose())
}

// Protocol issues CEPAS commands over one link.
type Protocol struct {
	client *iso7816.Client
}

// NewProtocol wraps a transmitter.
func NewProtocol(t iso7816.Transmitter) *Protocol {
	return &Protocol{client: iso7816.NewClient(t)}
}

// SelectPurseFile selects EF 4000. Cards that reject the select still answer purse
// reads, so a refusal is not an error; only link failures are returned.
func (p *Protocol) SelectPurseFile() error {
	_, err := p.client.Send(iso7816.SelectFile(iso7816.InterindustryClass, purseFile))
	return err
}

// ReadPurse reads the purse record of slot.
func (p *Protocol) ReadPurse(slot int) (Result, error) {
	return p.read(iso7816.NewCommandAPDU(iso7816.NativeClass, iso7816.ProprietaryInstruction(insReadPurse), byte(slot), 0x00, nil, iso7816.MaxShortLe))
}

// ReadHistory reads up to records log entries of slot, in as many requests as needed.
func (p *Protocol) ReadHistory(slot, records int) (Result, error) {
	if records <= 0 {
		records = recordsPerRead
	}

	var data []byte
	for offset := 0; offset < records; offset += recordsPerRead {
		n := min(records-offset, recordsPerRead)
		cmd := iso7816.NewCommandAPDU(iso7816.NativeClass, iso7816.ProprietaryInstruction(insReadPurse), byte(slot), 0x00, []byte{byte(offset)}, n*recordSize)

		res, err := p.read(cmd)
		if err != nil {
			return Result{}, err
		}
		switch {
		case res.State == Present:
			data = append(data, res.Data...)
		case offset == 0:
			return res, nil
		default:
			// The second page is optional; keep what the first one returned.
			return Result{State: Present, Data: data}, nil
		}
		if len(res.Data) < n*recordSize {
			break
		}
	}
	return Result{State: Present, Data: data}, nil
}

// read sends cmd and maps the trailer to a Result, retransmitting once on 67XX.
func (p *Protocol) read(cmd *iso7816.CommandAPDU) (Result, error) {
	for attempt := 0; ; attempt++ {
		trace, err := p.client.Send(cmd)
		if err != nil {
			if iso7816.IsTransport(err) {
				return Result{}, err
			}
			return Result{State: Failed, Err: err}, nil
		}
		resp := trace.Last().Response

		switch sw := resp.Status; {
		case sw == iso7816.SW_NO_ERROR:
			return Result{State: Present, Data: trace.Data()}, nil
		case sw.SW1() == 0x6B:
			return Result{State: Absent}, nil
		case sw.SW1() == 0x67 && attempt == 0:
			continue
		default:
			return Result{State: Failed, Err: &StatusError{Status: sw}}, nil
		}
	}
}
