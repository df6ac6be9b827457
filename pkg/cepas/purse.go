package cepas

import (
	"fmt"
	"strings"
	"time"

	"github.com/gregLibert/farecard/pkg/bits"
	"github.com/gregLibert/farecard/pkg/card"
)

// Epoch is the CEPAS time origin, 1995-01-01 00:00 Singapore time.
var Epoch = card.Epoch{Base: time.Date(1995, time.January, 1, 0, 0, 0, 0, time.FixedZone("SGT", 8*60*60))}

// Transaction types seen in CEPAS logs.
const (
	TypeRetail    byte = 0x01
	TypeTopUpAlt  byte = 0x03
	TypeService   byte = 0x04
	TypeCreateAlt byte = 0x05
	TypeMRT       byte = 0x30
	TypeBus       byte = 0x31
	TypeTopUp     byte = 0x75
	TypeBusRefund byte = 0x76
	TypeCreation  byte = 0xF0
)

// purseMinLength covers every fixed field up to the last transaction record.
const purseMinLength = 62

// PURSE LAYOUT (big-endian):
//
//	[0]      CEPAS version       [1]      purse status
//	[2:5]    balance (signed)    [5:8]    auto-load amount (signed)
//	[8:16]   CAN                 [16:24]  CSN
//	[24:26]  expiry (days)       [26:28]  creation (days)
//	[28:32]  last credit TRP     [32:40]  last credit header
//	[40]     log record count    [41]     issuer data length
//	[42:46]  last txn TRP        [46:62]  last txn record
//	[62:]    issuer data

// ParsePurse decodes a READ PURSE answer for slot.
func ParsePurse(slot int, raw []byte) (card.Purse, error) {
	if len(raw) < purseMinLength {
		return card.Purse{}, fmt.Errorf("cepas: purse record too short: %d bytes", len(raw))
	}

	u := func(off, n int) uint64 {
		v, _ := bits.Uint(raw, off, n)
		return v
	}

	p := card.Purse{
		Slot:               slot,
		Present:            true,
		Version:            raw[0],
		Status:             raw[1],
		Balance:            int32(bits.Signed(u(2, 3), 24)),
		AutoLoadAmount:     int32(bits.Signed(u(5, 3), 24)),
		Expiry:             Epoch.Days(int(u(24, 2))),
		Created:            Epoch.Days(int(u(26, 2))),
		LastCreditTRP:      uint32(u(28, 4)),
		LogRecordCount:     int(raw[40]),
		IssuerDataLength:   int(raw[41]),
		LastTransactionTRP: uint32(u(42, 4)),
		Raw:                append([]byte(nil), raw...),
	}
	copy(p.CAN[:], raw[8:16])
	copy(p.CSN[:], raw[16:24])
	copy(p.LastCreditHeader[:], raw[32:40])

	last, err := ParseTransaction(raw[46:62])
	if err != nil {
		return card.Purse{}, err
	}
	p.LastTransaction = last

	end := min(purseMinLength+p.IssuerDataLength, len(raw))
	if end > purseMinLength {
		p.IssuerData = append([]byte(nil), raw[purseMinLength:end]...)
	}
	return p, nil
}

// ParseTransaction decodes one 16-byte log record.
func ParseTransaction(raw []byte) (card.Transaction, error) {
	if len(raw) != recordSize {
		return card.Transaction{}, fmt.Errorf("cepas: transaction record is %d bytes, want %d", len(raw), recordSize)
	}

	amount, _ := bits.Uint(raw, 1, 3)
	secs, _ := bits.Uint(raw, 4, 4)

	return card.Transaction{
		Type:     raw[0],
		Amount:   int32(bits.Signed(amount, 24)),
		Time:     Epoch.Seconds(int64(secs)),
		UserData: strings.TrimRight(string(raw[8:16]), " \x00"),
	}, nil
}

// ParseHistory splits a history answer into transactions, newest first as stored.
func ParseHistory(raw []byte) ([]card.Transaction, error) {
	if len(raw)%recordSize != 0 {
		return nil, fmt.Errorf("cepas: history of %d bytes is not a whole number of records", len(raw))
	}
	txs := make([]card.Transaction, 0, len(raw)/recordSize)
	for off := 0; off < len(raw); off += recordSize {
		tx, err := ParseTransaction(raw[off : off+recordSize])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// CAN renders the card application number, which is stored as BCD digits.
func CAN(p card.Purse) string {
	return fmt.Sprintf("%X", p.CAN[:])
}
