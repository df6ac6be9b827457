package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/keys"
	"github.com/gregLibert/farecard/pkg/tlv"
)

var (
	tagID     = card.TagID{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	scannedAt = time.Date(2024, 5, 17, 18, 42, 7, 123000000, time.UTC)
	sgt       = time.FixedZone("SGT", 8*3600)
)

func mustCard(t *testing.T, p card.Payload) *card.RawCard {
	t.Helper()
	raw, err := card.New(tagID, scannedAt, p)
	if err != nil {
		t.Fatalf("card.New: %v", err)
	}
	return raw
}

func fileSystem(t *testing.T) card.Payload {
	t.Helper()
	fs, err := card.NewFileSystem(tlv.Hex("04 01 01 01 00 1A 05"), []card.Application{
		{
			ID: 0x002001,
			Files: []card.File{
				card.StandardFile{
					ID:       1,
					Settings: card.FileSettings{Type: card.StandardDataFile, AccessRights: 0xEEE0, Size: 4},
					Data:     tlv.Hex("DE AD BE EF"),
				},
				card.RecordFile{
					ID:       2,
					Settings: card.FileSettings{Type: card.CyclicRecordFile, RecordSize: 2, MaxRecords: 5, CurrentRecords: 2},
					Records:  [][]byte{tlv.Hex("AA 01"), tlv.Hex("AA 02")},
				},
				card.ValueFile{
					ID:       3,
					Settings: card.FileSettings{Type: card.ValueFileType, LowerLimit: -100, UpperLimit: 1000, LimitedCreditEnabled: true},
					Value:    -42,
				},
				card.UnauthorizedFile{ID: 4, Err: "desfire: permission denied"},
				card.InvalidFile{ID: 5, Err: "desfire: status 91F0 (file not found)"},
			},
		},
		{ID: 0xF010F0},
	})
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	return fs
}

func purseCard() card.Payload {
	pc := &card.PurseCard{}
	for slot := range card.PurseSlots {
		pc.Purses[slot].Slot = slot
		pc.Histories[slot].Slot = slot
	}
	pc.Purses[3] = card.Purse{
		Slot:            3,
		Present:         true,
		Version:         2,
		Balance:         1234,
		CAN:             [8]byte(tlv.Hex("10 01 23 45 67 89 01 23")),
		Expiry:          time.Date(2025, 2, 14, 0, 0, 0, 0, sgt),
		LogRecordCount:  2,
		LastTransaction: card.Transaction{Type: 0x31, Amount: -90, Time: time.Date(2024, 5, 17, 8, 0, 0, 0, sgt), UserData: "SBS 174"},
		Raw:             tlv.Hex("02 01 00 04 D2"),
	}
	pc.Purses[5].Err = "cepas: status 6A82"
	pc.Histories[3] = card.History{Slot: 3, Present: true, Transactions: []card.Transaction{
		{Type: 0x31, Amount: -90, Time: time.Date(2024, 5, 17, 8, 0, 0, 0, sgt), UserData: "SBS 174"},
		{Type: 0x75, Amount: 1000, Time: time.Date(2024, 5, 16, 19, 30, 0, 0, sgt)},
	}}
	return pc
}

func sectorMemory() card.Payload {
	return &card.SectorMemory{Sectors: []card.Sector{
		card.DataSector{Index: 0, Blocks: []card.Block{
			{Index: 0, Data: bytes.Repeat([]byte{0x01}, 16)},
			{Index: 1, Data: bytes.Repeat([]byte{0x02}, 16)},
		}},
		card.UnauthorizedSector{Index: 1},
		card.InvalidSector{Index: 2, Err: "read block 0: crc error"},
	}}
}

func pollingService() card.Payload {
	return &card.PollingService{
		IDm: [8]byte(tlv.Hex("01 12 04 00 8E 0A 3B 4C")),
		PMm: [8]byte(tlv.Hex("10 0B 4B 42 84 85 D0 FF")),
		Systems: []card.System{
			{Code: 0x0003, Services: []card.Service{{
				Code:   0x090F,
				Blocks: []card.ServiceBlock{{Address: 0, Data: [16]byte{0xA0}}, {Address: 1, Data: [16]byte{0xA1}}},
			}}},
			{Code: 0xFE00},
		},
	}
}

func TestCardRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload card.Payload
	}{
		{name: "FileSystem", payload: fileSystem(t)},
		{name: "Purse", payload: purseCard()},
		{name: "SectorMemory", payload: sectorMemory()},
		{name: "PollingService", payload: pollingService()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := mustCard(t, tt.payload)

			data, err := MarshalCard(original)
			if err != nil {
				t.Fatalf("MarshalCard: %v", err)
			}
			decoded, err := UnmarshalCard(data)
			if err != nil {
				t.Fatalf("UnmarshalCard: %v", err)
			}
			if decoded.Technology() != original.Technology() {
				t.Errorf("technology = %s; want %s", decoded.Technology(), original.Technology())
			}
			if diff := cmp.Diff(original, decoded); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			again, err := MarshalCard(decoded)
			if err != nil {
				t.Fatalf("MarshalCard(decoded): %v", err)
			}
			if !bytes.Equal(data, again) {
				t.Error("re-encoding a decoded card changed its bytes")
			}
		})
	}
}

func TestMarshalCard_Deterministic(t *testing.T) {
	first, err := MarshalCard(mustCard(t, fileSystem(t)))
	if err != nil {
		t.Fatalf("MarshalCard: %v", err)
	}
	for range 5 {
		next, err := MarshalCard(mustCard(t, fileSystem(t)))
		if err != nil {
			t.Fatalf("MarshalCard: %v", err)
		}
		if !bytes.Equal(first, next) {
			t.Fatal("encoding differs between runs")
		}
	}
}

func TestUnmarshalCard_Rejects(t *testing.T) {
	encode := func(doc cardDoc) []byte {
		data, err := cbor.Marshal(doc)
		if err != nil {
			t.Fatalf("cbor.Marshal: %v", err)
		}
		return data
	}
	badSector, _ := cbor.Marshal(sectorMemoryDoc{Sectors: []sectorDoc{{Kind: "mystery", Index: 0}}})
	goodSector, _ := cbor.Marshal(sectorMemoryDoc{Sectors: []sectorDoc{{Kind: sectorUnauthorized, Index: 0}}})

	tests := []struct {
		name        string
		data        []byte
		wantVersion bool
	}{
		{name: "Garbage", data: []byte{0xFF, 0x00}},
		{name: "Future version", data: encode(cardDoc{Version: 99, Kind: "cepas", TagID: tagID}), wantVersion: true},
		{name: "Unknown technology", data: encode(cardDoc{Version: FormatVersion, Kind: "nfc-v", TagID: tagID})},
		{name: "Unknown sector kind", data: encode(cardDoc{Version: FormatVersion, Kind: "classic", TagID: tagID, Payload: badSector})},
		{name: "Missing tag", data: encode(cardDoc{Version: FormatVersion, Kind: "classic", Payload: goodSector})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalCard(tt.data)
			if err == nil {
				t.Fatal("UnmarshalCard accepted invalid input")
			}
			if got := errors.Is(err, ErrVersion); got != tt.wantVersion {
				t.Errorf("errors.Is(err, ErrVersion) = %v; want %v (err %v)", got, tt.wantVersion, err)
			}
		})
	}
}

func TestKeysRoundTrip(t *testing.T) {
	original := &keys.KeyBundle{
		TagID:   tagID,
		Family:  "classic-1k",
		Indexed: true,
		Keys: []keys.SectorKey{
			keys.DefaultKey,
			{Kind: keys.KeyB, Secret: [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}},
		},
		Extra: []keys.SectorKey{keys.ZeroKey},
	}

	data, err := MarshalKeys(original)
	if err != nil {
		t.Fatalf("MarshalKeys: %v", err)
	}
	decoded, err := UnmarshalKeys(data)
	if err != nil {
		t.Fatalf("UnmarshalKeys: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshalKeys_BadKey(t *testing.T) {
	data, err := cbor.Marshal(keysDoc{Version: FormatVersion, TagID: tagID, Keys: []string{"C:FFFFFFFFFFFF"}})
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	if _, err := UnmarshalKeys(data); err == nil {
		t.Error("UnmarshalKeys accepted key kind C")
	}
}
