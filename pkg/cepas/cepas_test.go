package cepas

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/iso7816/iso7816test"
	"github.com/gregLibert/farecard/pkg/reconcile"
	"github.com/gregLibert/farecard/pkg/tlv"
)

type ex = iso7816test.Exchange

var swOK = tlv.Hex("90 00")

func record(typ byte, amount int32, secs uint32, user string) []byte {
	a := uint32(amount) & 0xFFFFFF
	r := []byte{typ, byte(a >> 16), byte(a >> 8), byte(a), byte(secs >> 24), byte(secs >> 16), byte(secs >> 8), byte(secs)}
	ud := []byte("        ")
	copy(ud, user)
	return append(r, ud...)
}

func purseRecord(balance int32, logCount byte, last []byte) []byte {
	raw := make([]byte, purseMinLength)
	raw[0], raw[1] = 0x02, 0x01
	b := uint32(balance) & 0xFFFFFF
	raw[2], raw[3], raw[4] = byte(b>>16), byte(b>>8), byte(b)
	copy(raw[8:16], tlv.Hex("10 01 23 45 67 89 01 23"))
	copy(raw[16:24], tlv.Hex("AA BB CC DD EE FF 00 11"))
	raw[24], raw[25] = 0x2A, 0xF8 // 11000 days
	raw[26], raw[27] = 0x1F, 0x40 // 8000 days
	raw[40] = logCount
	copy(raw[46:62], last)
	return raw
}

func respond(data []byte, trailer []byte) []byte {
	return append(append([]byte(nil), data...), trailer...)
}

func TestParseTransaction(t *testing.T) {
	got, err := ParseTransaction(record(TypeBus, -77, 915148800, "SBS 174"))
	if err != nil {
		t.Fatalf("ParseTransaction: %v", err)
	}
	want := card.Transaction{
		Type:     TypeBus,
		Amount:   -77,
		Time:     Epoch.Seconds(915148800),
		UserData: "SBS 174",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transaction mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseTransaction(make([]byte, 15)); err == nil {
		t.Error("expected error for short record")
	}
}

func TestEpoch(t *testing.T) {
	if got := Epoch.Base.Unix(); got != 788889600 {
		t.Errorf("epoch unix = %d; want 788889600", got)
	}
}

func TestParsePurse(t *testing.T) {
	last := record(TypeMRT, -120, 1000, "BGS-JUR")
	raw := append(purseRecord(-250, 7, last), 0xEE, 0xFF)
	raw[41] = 2

	p, err := ParsePurse(4, raw)
	if err != nil {
		t.Fatalf("ParsePurse: %v", err)
	}
	if !p.Valid() || p.Slot != 4 {
		t.Errorf("purse not valid: %+v", p)
	}
	if p.Balance != -250 {
		t.Errorf("Balance = %d; want -250", p.Balance)
	}
	if p.LogRecordCount != 7 {
		t.Errorf("LogRecordCount = %d; want 7", p.LogRecordCount)
	}
	if CAN(p) != "1001234567890123" {
		t.Errorf("CAN = %s", CAN(p))
	}
	if !p.Expiry.Equal(Epoch.Days(11000)) || !p.Created.Equal(Epoch.Days(8000)) {
		t.Errorf("dates = %v / %v", p.Expiry, p.Created)
	}
	if p.LastTransaction.Amount != -120 || p.LastTransaction.UserData != "BGS-JUR" {
		t.Errorf("LastTransaction = %+v", p.LastTransaction)
	}
	if !bytes.Equal(p.IssuerData, tlv.Hex("EE FF")) {
		t.Errorf("IssuerData = %X", p.IssuerData)
	}

	if _, err := ParsePurse(0, raw[:40]); err == nil {
		t.Error("expected error for short purse")
	}
}

func TestRead_SlotOutcomes(t *testing.T) {
	purse3 := purseRecord(1234, 2, nil)
	purse7 := purseRecord(50, 0, nil)
	history3 := append(record(TypeBus, -90, 2000, "SMRT 190"), record(TypeTopUp, 1000, 1500, "")...)

	script := []ex{{Request: tlv.Hex("00 A4 00 00 02 40 00"), Response: swOK}}
	for slot := range card.PurseSlots {
		switch slot {
		case 3:
			script = append(script, ex{Request: tlv.Hex("90 32 03 00 00"), Response: respond(purse3, swOK)})
		case 5:
			script = append(script, ex{Request: tlv.Hex("90 32 05 00 00"), Response: tlv.Hex("6A 82")})
		case 7:
			script = append(script,
				ex{Request: tlv.Hex("90 32 07 00 00"), Response: tlv.Hex("67 00")},
				ex{Request: tlv.Hex("90 32 07 00 00"), Response: respond(purse7, swOK)},
			)
		default:
			script = append(script, ex{Response: tlv.Hex("6B 00")})
		}
	}
	for slot := range card.PurseSlots {
		switch slot {
		case 3:
			script = append(script, ex{Request: tlv.Hex("90 32 03 00 01 00 20"), Response: respond(history3, swOK)})
		case 7:
			script = append(script, ex{Request: tlv.Hex("90 32 07 00 01 00 F0"), Response: tlv.Hex("6B 00")})
		default:
			script = append(script, ex{Response: tlv.Hex("6B 00")})
		}
	}

	s := iso7816test.NewScript(script...)
	pc, err := Read(context.Background(), s)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Remaining() != 0 {
		t.Errorf("%d scripted exchanges not consumed", s.Remaining())
	}

	var failed, present []int
	for slot, p := range pc.Purses {
		if p.Slot != slot {
			t.Errorf("purse %d carries slot %d", slot, p.Slot)
		}
		switch {
		case p.Err != "":
			failed = append(failed, slot)
		case p.Present:
			present = append(present, slot)
		}
	}
	if diff := cmp.Diff([]int{5}, failed); diff != "" {
		t.Errorf("failed slots mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 7}, present); diff != "" {
		t.Errorf("present slots mismatch (-want +got):\n%s", diff)
	}
	if pc.Purses[3].Balance != 1234 || pc.Purses[7].Balance != 50 {
		t.Errorf("balances = %d, %d", pc.Purses[3].Balance, pc.Purses[7].Balance)
	}

	h := pc.Histories[3]
	if !h.Valid() || len(h.Transactions) != 2 {
		t.Fatalf("history 3 = %+v", h)
	}
	if h.Transactions[0].UserData != "SMRT 190" {
		t.Errorf("first transaction = %+v", h.Transactions[0])
	}
	if pc.Histories[7].Present || pc.Histories[7].Err != "" {
		t.Errorf("history 7 should be absent: %+v", pc.Histories[7])
	}
}

func TestReadPurse_SecondWrongLengthFails(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Response: tlv.Hex("67 00")},
		ex{Response: tlv.Hex("67 00")},
	)
	res, err := NewProtocol(s).ReadPurse(0)
	if err != nil {
		t.Fatalf("ReadPurse: %v", err)
	}
	var serr *StatusError
	if res.State != Failed || !errors.As(res.Err, &serr) || serr.Status != iso7816.SW_ERR_WRONG_LENGTH {
		t.Errorf("result = %+v", res)
	}
}

func TestReadHistory_TwoPages(t *testing.T) {
	page1 := bytes.Repeat(record(TypeBus, -50, 100, "SBS 1"), 15)
	page2 := bytes.Repeat(record(TypeMRT, -60, 50, "ABC-DEF"), 5)

	s := iso7816test.NewScript(
		ex{Request: tlv.Hex("90 32 01 00 01 00 F0"), Response: respond(page1, swOK)},
		ex{Request: tlv.Hex("90 32 01 00 01 0F 50"), Response: respond(page2, swOK)},
	)
	res, err := NewProtocol(s).ReadHistory(1, 20)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if res.State != Present || len(res.Data) != 20*recordSize {
		t.Fatalf("result = %s, %d bytes", res.State, len(res.Data))
	}
}

func TestRead_TagLost(t *testing.T) {
	s := iso7816test.NewScript(
		ex{Response: swOK},
		ex{Response: tlv.Hex("6B 00")},
		ex{Err: iso7816.ErrTagLost},
	)
	if _, err := Read(context.Background(), s); !errors.Is(err, iso7816.ErrTagLost) {
		t.Errorf("Read error = %v; want tag lost", err)
	}
}

func TestTrips(t *testing.T) {
	t0 := uint32(900000000)
	history := card.History{Slot: 3, Present: true}
	for _, raw := range [][]byte{
		record(TypeBus, -150, t0+3000, "SBS 174"),
		record(TypeTopUp, 1000, t0+2000, "KIOSK"),
		record(TypeMRT, -200, t0+1000, "BGS-JUR"),
		record(TypeCreation, 0, t0, ""),
	} {
		tx, err := ParseTransaction(raw)
		if err != nil {
			t.Fatal(err)
		}
		history.Transactions = append(history.Transactions, tx)
	}
	purse := card.Purse{Slot: 3, Present: true, Balance: 2000}

	trips, refills := Extract(purse, history)
	if len(trips) != 2 || len(refills) != 1 {
		t.Fatalf("Extract = %d trips, %d refills", len(trips), len(refills))
	}

	want := []reconcile.Trip{
		{
			Start: Epoch.Seconds(int64(t0 + 3000)), Fare: -150, Mode: reconcile.ModeBus,
			Agency: "SBS", Journey: "SBS 174", BalanceAfter: 2000, HasBalance: true,
		},
		{
			Start: Epoch.Seconds(int64(t0 + 1000)), Fare: -200, Mode: reconcile.ModeTrain,
			Agency: "MRT", StartStation: "BGS", EndStation: "JUR", BalanceAfter: 1150, HasBalance: true,
		},
	}
	if diff := cmp.Diff(want, Trips(purse, history)); diff != "" {
		t.Errorf("Trips mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_FallsBackToLastTransaction(t *testing.T) {
	last, err := ParseTransaction(record(TypeRetail, -500, 42, "7-ELEVEN"))
	if err != nil {
		t.Fatal(err)
	}
	purse := card.Purse{Present: true, LastTransaction: last}

	trips, _ := Extract(purse, card.History{Present: true})
	if len(trips) != 1 || trips[0].Mode != reconcile.ModePOS {
		t.Fatalf("trips = %+v", trips)
	}
	if !trips[0].Start.Equal(Epoch.Base.Add(42 * time.Second)) {
		t.Errorf("Start = %v", trips[0].Start)
	}
}

func TestExtract_SkipsUnusedRecords(t *testing.T) {
	history := card.History{Present: true}
	for _, raw := range [][]byte{
		record(TypeMRT, -200, 5000, "BGS-JUR"),
		record(TypeBus, 0, 0, ""),
		record(TypeTopUp, 0, 0, ""),
	} {
		tx, err := ParseTransaction(raw)
		if err != nil {
			t.Fatal(err)
		}
		history.Transactions = append(history.Transactions, tx)
	}

	trips, refills := Extract(card.Purse{Present: true, Balance: 800}, history)
	if len(trips) != 1 || len(refills) != 0 {
		t.Fatalf("Extract = %+v, %+v; want only the MRT trip", trips, refills)
	}
	if !trips[0].Start.Equal(Epoch.Base.Add(5000 * time.Second)) {
		t.Errorf("Start = %v", trips[0].Start)
	}
}
