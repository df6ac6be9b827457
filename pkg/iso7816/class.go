package iso7816

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/bits"
)

// Class Byte (CLA) according to ISO/IEC 7816-4.
//
// Bit 8: Proprietary (1) or Interindustry (0).
// Bit 7: First (0) or Further (1) interindustry range.
// Bit 5: Command Chaining.
//
// Transit cards mostly use proprietary classes: DESFire and CEPAS use 0x90,
// PC/SC readers intercept 0xFF as "addressed to the reader, not the card".

// Class represents the parsed ISO 7816-4 Class byte (CLA).
type Class struct {
	Raw           byte
	IsProprietary bool
	IsChained     bool
	Channel       uint8 // Logical channel number (0-19)
}

// Commonly used classes.
var (
	// InterindustryClass is CLA 0x00: no chaining, no secure messaging, channel 0.
	InterindustryClass = Class{Raw: 0x00}

	// NativeClass is CLA 0x90, used for DESFire wrapped native commands and CEPAS reads.
	NativeClass = Class{Raw: 0x90, IsProprietary: true}

	// ReaderClass is CLA 0xFF, the PC/SC Part 3 pseudo-APDU class handled by the reader itself.
	ReaderClass = Class{Raw: 0xFF, IsProprietary: true}
)

// NewClass creates a Class object by decoding a raw CLA byte.
// 0xFF is rejected: it is reserved for PPS on the card side; use ReaderClass for pseudo-APDUs.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}

	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)

	if !bits.IsSet(cla, 7) {
		c.Channel = bits.GetRange(cla, 2, 1)
	} else {
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	}

	return c, nil
}

// Encode converts the Class object back to its byte representation.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("channel %d out of range (max 19)", c.Channel)
	}

	// Secure messaging bits are carried through untouched from Raw.
	var res byte
	if c.Channel <= 3 {
		res = c.Raw & 0b0000_1100
		res |= c.Channel
	} else {
		res = bits.Set(res, 7)
		res |= c.Raw & 0b0010_0000
		res |= c.Channel - 4
	}
	if c.IsChained {
		res = bits.Set(res, 5)
	}

	return res, nil
}
