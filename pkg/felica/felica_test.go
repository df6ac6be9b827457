package felica

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/iso7816/iso7816test"
	"github.com/gregLibert/farecard/pkg/tlv"
)

type ex = iso7816test.Exchange

const (
	idm = "01 12 04 00 8E 0A 3B 4C"
	pmm = "10 0B 4B 42 84 85 D0 FF"
)

// frame prefixes body with its length byte.
func frame(parts ...string) []byte {
	body := tlv.Hex(parts...)
	return append([]byte{byte(len(body) + 1)}, body...)
}

func blockData(b byte) []byte {
	return bytes.Repeat([]byte{b}, BlockSize)
}

func readOK(data []byte) []byte {
	body := append(tlv.Hex("07", idm, "00 00 01"), data...)
	return append([]byte{byte(len(body) + 1)}, body...)
}

func TestPoll(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Request: tlv.Hex("06 00 FF FF 01 00"), Response: frame("01", idm, pmm, "00 03")},
	)
	gotIDm, gotPMm, err := NewProtocol(s).Poll(WildcardSystem)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !bytes.Equal(gotIDm[:], tlv.Hex(idm)) || !bytes.Equal(gotPMm[:], tlv.Hex(pmm)) {
		t.Errorf("IDm %X, PMm %X", gotIDm, gotPMm)
	}
}

func TestExchange_BadFrames(t *testing.T) {
	tests := []struct {
		name string
		resp []byte
	}{
		{name: "Short", resp: tlv.Hex("01")},
		{name: "Length mismatch", resp: tlv.Hex("05 01 00")},
		{name: "Wrong response code", resp: frame("0D", idm, pmm)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewProtocol(iso7816test.NewScript(ex{Response: tt.resp})).Poll(WildcardSystem)
			var rerr *ResponseError
			if !errors.As(err, &rerr) {
				t.Errorf("error = %v; want ResponseError", err)
			}
			if iso7816.IsTransport(err) {
				t.Error("malformed frame must not classify as transport error")
			}
		})
	}
}

func TestServiceCodes_ByteReversed(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Request: frame("0A", idm, "00 00"), Response: frame("0B", idm, "00 00 FE 00")}, // area: skipped
		ex{Request: frame("0A", idm, "01 00"), Response: frame("0B", idm, "8B 09")},
		ex{Request: frame("0A", idm, "02 00"), Response: frame("0B", idm, "0F 09")},
		ex{Request: frame("0A", idm, "03 00"), Response: frame("0B", idm, "FF FF")},
	)
	p := NewProtocol(s)
	p.idm = [8]byte(tlv.Hex(idm))

	codes, err := p.ServiceCodes()
	if err != nil {
		t.Fatalf("ServiceCodes: %v", err)
	}
	if diff := cmp.Diff([]uint16{0x098B, 0x090F}, codes); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

func TestReadBlock_AddressForms(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Request: frame("06", idm, "01 8B 09 01 80 05"), Response: readOK(blockData(0x05))},
		ex{Request: frame("06", idm, "01 8B 09 01 00 2C 01"), Response: readOK(blockData(0x2C))},
	)
	p := NewProtocol(s)
	p.idm = [8]byte(tlv.Hex(idm))

	for _, addr := range []uint16{0x05, 0x012C} {
		data, ok, err := p.ReadBlock(0x098B, addr)
		if err != nil || !ok {
			t.Fatalf("ReadBlock(%X) = %v, %v", addr, ok, err)
		}
		if data[0] != byte(addr) {
			t.Errorf("ReadBlock(%X) data = %X", addr, data)
		}
	}
}

func TestRead(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Request: tlv.Hex("06 00 FF FF 01 00"), Response: frame("01", idm, pmm)},
		ex{Request: frame("0C", idm), Response: frame("0D", idm, "02 00 03 FE 00")},

		// System 0003: one service with two blocks, one empty service.
		ex{Request: tlv.Hex("06 00 00 03 01 00"), Response: frame("01", idm, pmm)},
		ex{Response: frame("0B", idm, "8B 09")},
		ex{Response: frame("0B", idm, "0F 09")},
		ex{Response: frame("0B", idm, "FF FF")},
		ex{Request: frame("06", idm, "01 8B 09 01 80 00"), Response: readOK(blockData(0xA0))},
		ex{Request: frame("06", idm, "01 8B 09 01 80 01"), Response: readOK(blockData(0xA1))},
		ex{Request: frame("06", idm, "01 8B 09 01 80 02"), Response: frame("07", idm, "01 A8")},
		ex{Request: frame("06", idm, "01 0F 09 01 80 00"), Response: frame("07", idm, "01 A6")},

		// System FE00: polling fails, system kept without services.
		ex{Request: tlv.Hex("06 00 FE 00 01 00"), Response: frame("01")},
	)

	got, err := Read(context.Background(), s)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Remaining() != 0 {
		t.Errorf("%d scripted exchanges not consumed", s.Remaining())
	}

	want := &card.PollingService{
		IDm: [8]byte(tlv.Hex(idm)),
		PMm: [8]byte(tlv.Hex(pmm)),
		Systems: []card.System{
			{
				Code: 0x0003,
				Services: []card.Service{{
					Code: 0x098B,
					Blocks: []card.ServiceBlock{
						{Address: 0, Data: [16]byte(blockData(0xA0))},
						{Address: 1, Data: [16]byte(blockData(0xA1))},
					},
				}},
			},
			{Code: 0xFE00},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("card mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_TagLost(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Response: frame("01", idm, pmm)},
		ex{Response: frame("0D", idm, "01 00 03")},
		ex{Response: frame("01", idm, pmm)},
		ex{Response: frame("0B", idm, "8B 09")},
		ex{Err: iso7816.ErrTagLost},
	)
	if _, err := Read(context.Background(), s); !errors.Is(err, iso7816.ErrTagLost) {
		t.Errorf("Read error = %v; want tag lost", err)
	}
}
