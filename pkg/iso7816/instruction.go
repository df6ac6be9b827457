package iso7816

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/bits"
)

// Instruction Byte (INS) Logic according to ISO/IEC 7816-4.
//
// Under an interindustry class, INS values with a '6' or '9' upper nibble are invalid
// (reserved for SW1 / transport procedures) and bit 1 flags BER-TLV data.
// Under a proprietary class the card defines its own INS space: DESFire's
// GET APPLICATION IDS is 0x6A and GET VERSION is 0x60, both legal there.

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Interindustry instruction codes used by this module.
const (
	INS_SELECT          InsCode = 0xA4
	INS_READ_BINARY     InsCode = 0xB0
	INS_READ_BINARY_BER InsCode = 0xB1
	INS_GET_RESPONSE    InsCode = 0xC0
	INS_GET_DATA        InsCode = 0xCA
)

// Reader pseudo-APDU instruction codes (PC/SC Part 3, class 0xFF).
const (
	INS_PCSC_DIRECT_TRANSMIT InsCode = 0x00
	INS_PCSC_LOAD_KEY        InsCode = 0x82
	INS_PCSC_GENERAL_AUTH    InsCode = 0x86
)

var insNames = map[InsCode]string{
	INS_SELECT:          "INS_SELECT",
	INS_READ_BINARY:     "INS_READ_BINARY",
	INS_READ_BINARY_BER: "INS_READ_BINARY_BER",
	INS_GET_RESPONSE:    "INS_GET_RESPONSE",
	INS_GET_DATA:        "INS_GET_DATA",
}

// String returns the constant name for known interindustry codes.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(0x%02X)", byte(i))
}

// Instruction represents the parsed INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction creates an interindustry Instruction with validation.
// It rejects '6X' and '9X' values as they are invalid according to ISO 7816-3.
func NewInstruction(ins InsCode) (Instruction, error) {
	highNibble := byte(ins) & 0xF0
	if highNibble == 0x60 || highNibble == 0x90 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", ins)
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// ProprietaryInstruction wraps an INS code for use under a proprietary class.
// No range check applies and no BER-TLV meaning is attached to bit 1.
func ProprietaryInstruction(ins InsCode) Instruction {
	return Instruction{Raw: ins}
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw.String(), format)
}
