package iso7816_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/iso7816/iso7816test"
	"github.com/gregLibert/farecard/pkg/tlv"
)

func TestClient_GetResponse(t *testing.T) {
	script := iso7816test.NewScript(
		iso7816test.Exchange{Request: tlv.Hex("00 A4 00 00 02 40 00"), Response: tlv.Hex("61 04")},
		iso7816test.Exchange{Request: tlv.Hex("00 C0 00 00 04"), Response: tlv.Hex("6F 02 84 00 90 00")},
	)
	client := iso7816.NewClient(script)

	trace, err := client.Send(iso7816.SelectFile(iso7816.InterindustryClass, 0x4000))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(trace) != 2 {
		t.Fatalf("trace length = %d; want 2", len(trace))
	}
	if !trace.IsSuccess() {
		t.Errorf("final status %s", trace.Status().Verbose())
	}
	if diff := cmp.Diff(tlv.Hex("6F 02 84 00"), trace.Data()); diff != "" {
		t.Errorf("Data() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_WrongLengthResend(t *testing.T) {
	script := iso7816test.NewScript(
		iso7816test.Exchange{Request: tlv.Hex("00 B0 00 00 00"), Response: tlv.Hex("6C 02")},
		iso7816test.Exchange{Request: tlv.Hex("00 B0 00 00 02"), Response: tlv.Hex("CA FE 90 00")},
	)
	client := iso7816.NewClient(script)

	ins, _ := iso7816.NewInstruction(iso7816.INS_READ_BINARY)
	trace, err := client.Send(iso7816.NewCommandAPDU(iso7816.InterindustryClass, ins, 0, 0, nil, iso7816.MaxShortLe))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := trace.Last().Response.Data; !cmp.Equal(got, tlv.Hex("CA FE")) {
		t.Errorf("final data = %X", got)
	}
}

func TestClient_DESFireTrailerUntouched(t *testing.T) {
	script := iso7816test.NewScript(
		iso7816test.Exchange{Response: tlv.Hex("01 02 91 AF")},
	)
	client := iso7816.NewClient(script)

	trace, err := client.Send(iso7816.NewCommandAPDU(iso7816.NativeClass, iso7816.ProprietaryInstruction(0x60), 0, 0, nil, iso7816.MaxShortLe))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(trace) != 1 || trace.Status() != iso7816.NewStatusWord(0x91, 0xAF) {
		t.Errorf("client must not chase 91AF itself, got %d steps, status %04X", len(trace), uint16(trace.Status()))
	}
}

func TestClient_TransportErrors(t *testing.T) {
	script := iso7816test.NewScript(
		iso7816test.Exchange{Err: iso7816.ErrTagLost},
		iso7816test.Exchange{Response: []byte{0x90}},
	)
	client := iso7816.NewClient(script)

	_, err := client.Transmit(tlv.Hex("90 6A 00 00 00"))
	if !errors.Is(err, iso7816.ErrTagLost) {
		t.Errorf("err = %v; want ErrTagLost", err)
	}
	if !iso7816.IsTransport(err) {
		t.Error("tag loss must be classified as transport")
	}

	_, err = client.Transmit(tlv.Hex("90 6A 00 00 00"))
	if err == nil {
		t.Fatal("expected error for one-byte response")
	}
	if iso7816.IsTransport(err) {
		t.Error("a malformed frame is a card problem, not a transport one")
	}
}
