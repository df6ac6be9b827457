/*
Package iso7816 implements the APDU layer shared by every contactless card technology in this module.

Transit cards reached through a PC/SC or NFC stack all speak "command frame in, response frame
out", even when the payload is not ISO 7816-4 at all:

  - DESFire native commands are wrapped in class 0x90 APDUs and answer with a 0x91XX trailer.
  - CEPAS purses answer ISO-style 0x90XX trailers, with 0x6B and 0x67 carrying driver semantics.
  - MIFARE Classic and FeliCa are reached through PC/SC Part 3 reader pseudo-APDUs (class 0xFF).

This package supplies the common pieces: CommandAPDU encoding, ResponseAPDU parsing, the
StatusWord trailer, a Client that records every exchange in a Trace, and the TransportError /
ErrTagLost pair that lets drivers tell a lost link from a card-level refusal.

# Transport failures

The link is half-duplex and stateful. Anything the Transmitter reports is wrapped in a
*TransportError; a Transmitter that detects the tag left the field returns (or wraps) ErrTagLost.
Drivers treat both as fatal for the whole acquisition:

	trace, err := client.Send(cmd)
	var terr *iso7816.TransportError
	if errors.As(err, &terr) {
	    return nil, err // abort, the card is gone or the link is broken
	}
*/
package iso7816
