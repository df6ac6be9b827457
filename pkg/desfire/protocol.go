// Package desfire reads the application/file structure of MIFARE DESFire cards using
// ISO 7816-4 wrapped native commands.
//
// WRAPPED FRAMES:
// Every native command travels as a short APDU [0x90, INS, 0x00, 0x00, (Lc, Data)?, 0x00].
// The card answers [Body..., 0x91, Status]. Status 0xAF means the card holds more data,
// which is fetched with the ADDITIONAL FRAME command until status 0x00.
package desfire

import (
	"errors"
	"fmt"

	"github.com/gregLibert/farecard/pkg/bits"
	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
)

// Native command codes.
const (
	cmdGetVersion        iso7816.InsCode = 0x60
	cmdGetApplicationIDs iso7816.InsCode = 0x6A
	cmdSelectApplication iso7816.InsCode = 0x5A
	cmdGetFileIDs        iso7816.InsCode = 0x6F
	cmdGetFileSettings   iso7816.InsCode = 0xF5
	cmdReadData          iso7816.InsCode = 0xBD
	cmdReadRecords       iso7816.InsCode = 0xBB
	cmdGetValue          iso7816.InsCode = 0x6C
	cmdAdditionalFrame   iso7816.InsCode = 0xAF
)

// Native status codes carried in SW2 after SW1 0x91.
const (
	StatusOK               byte = 0x00
	StatusPermissionDenied byte = 0x9D
	StatusMoreFrames       byte = 0xAF
)

// maxFrames bounds ADDITIONAL FRAME rounds for a single command.
const maxFrames = 64

// ErrPermissionDenied is returned when the card requires authentication for a command.
var ErrPermissionDenied = errors.New("desfire: permission denied")

// ProtocolError is a trailer the driver has no recovery for.
type ProtocolError struct {
	Status iso7816.StatusWord
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("desfire: unexpected status %s", e.Status.Verbose())
}

var statusNames = map[byte]string{
	0x0C: "no changes",
	0x0E: "out of eeprom",
	0x1C: "illegal command",
	0x1E: "integrity error",
	0x40: "no such key",
	0x7E: "length error",
	0x9E: "parameter error",
	0xA0: "application not found",
	0xAE: "authentication error",
	0xBE: "boundary error",
	0xCA: "command aborted",
	0xF0: "file not found",
}

// Reason describes the native status, when known.
func (e *ProtocolError) Reason() string {
	if e.Status.SW1() != 0x91 {
		return "not a native trailer"
	}
	if name, ok := statusNames[e.Status.SW2()]; ok {
		return name
	}
	return "unknown"
}

// Protocol issues native commands over one link.
type Protocol struct {
	client *iso7816.Client
}

// NewProtocol wraps a transmitter.
func NewProtocol(t iso7816.Transmitter) *Protocol {
	return &Protocol{client: iso7816.NewClient(t)}
}

// exchange sends one native command and follows MORE_FRAMES continuations.
// The returned payload is every frame body concatenated in order, trailers stripped.
func (p *Protocol) exchange(ins iso7816.InsCode, data []byte) ([]byte, error) {
	var payload []byte
	cmd := iso7816.NewCommandAPDU(iso7816.NativeClass, iso7816.ProprietaryInstruction(ins), 0x00, 0x00, data, iso7816.MaxShortLe)

	for frame := 0; frame < maxFrames; frame++ {
		trace, err := p.client.Send(cmd)
		if err != nil {
			return nil, err
		}
		resp := trace.Last().Response
		if !resp.Status.IsDESFire() {
			return nil, &ProtocolError{Status: resp.Status}
		}

		switch resp.Status.SW2() {
		case StatusOK:
			return append(payload, resp.Data...), nil
		case StatusMoreFrames:
			payload = append(payload, resp.Data...)
			cmd = iso7816.NewCommandAPDU(iso7816.NativeClass, iso7816.ProprietaryInstruction(cmdAdditionalFrame), 0x00, 0x00, nil, iso7816.MaxShortLe)
		case StatusPermissionDenied:
			return nil, ErrPermissionDenied
		default:
			return nil, &ProtocolError{Status: resp.Status}
		}
	}
	return nil, fmt.Errorf("desfire: more than %d additional frames", maxFrames)
}

// Version returns the raw GET VERSION answer (hardware, software and production frames).
func (p *Protocol) Version() ([]byte, error) {
	return p.exchange(cmdGetVersion, nil)
}

// ApplicationIDs lists the application directory. Ids are 3 bytes each.
func (p *Protocol) ApplicationIDs() ([]uint32, error) {
	dir, err := p.exchange(cmdGetApplicationIDs, nil)
	if err != nil {
		return nil, err
	}
	if len(dir)%3 != 0 {
		return nil, fmt.Errorf("desfire: application directory length %d is not a multiple of 3", len(dir))
	}

	ids := make([]uint32, 0, len(dir)/3)
	for off := 0; off < len(dir); off += 3 {
		id, err := bits.Uint(dir, off, 3)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

// SelectApplication makes id the current application.
func (p *Protocol) SelectApplication(id uint32) error {
	_, err := p.exchange(cmdSelectApplication, []byte{byte(id >> 16), byte(id >> 8), byte(id)})
	return err
}

// FileIDs lists the files of the current application.
func (p *Protocol) FileIDs() ([]byte, error) {
	return p.exchange(cmdGetFileIDs, nil)
}

// FileSettings reads and decodes the settings of one file.
func (p *Protocol) FileSettings(id byte) (card.FileSettings, error) {
	raw, err := p.exchange(cmdGetFileSettings, []byte{id})
	if err != nil {
		return card.FileSettings{}, err
	}
	return ParseFileSettings(raw)
}

// ReadFile reads a whole standard or backup file (offset 0, length 0).
func (p *Protocol) ReadFile(id byte) ([]byte, error) {
	return p.exchange(cmdReadData, []byte{id, 0, 0, 0, 0, 0, 0})
}

// ReadRecords reads every record of a record file and splits them by record size.
func (p *Protocol) ReadRecords(id byte, settings card.FileSettings) ([][]byte, error) {
	if settings.RecordSize == 0 {
		return nil, fmt.Errorf("desfire: file %02X has record size 0", id)
	}
	if settings.CurrentRecords == 0 {
		return nil, nil
	}

	raw, err := p.exchange(cmdReadRecords, []byte{id, 0, 0, 0, 0, 0, 0})
	if err != nil {
		return nil, err
	}

	size := int(settings.RecordSize)
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("desfire: %d record bytes do not divide into records of %d", len(raw), size)
	}
	records := make([][]byte, 0, len(raw)/size)
	for off := 0; off < len(raw); off += size {
		records = append(records, raw[off:off+size:off+size])
	}
	return records, nil
}

// Value reads a value file.
func (p *Protocol) Value(id byte) (int32, error) {
	raw, err := p.exchange(cmdGetValue, []byte{id})
	if err != nil {
		return 0, err
	}
	v, err := bits.UintLE(raw, 0, 4)
	if err != nil {
		return 0, fmt.Errorf("desfire: value of file %02X: %w", id, err)
	}
	return int32(uint32(v)), nil
}
