package cepas

import (
	"context"
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
)

// Read acquires all 16 purse slots and their histories.
//
// Absent slots stay absent, slots the card refuses carry an error, and neither
// stops the remaining slots. Only link failures and cancellation abort.
func Read(ctx context.Context, t iso7816.Transmitter) (*card.PurseCard, error) {
	p := NewProtocol(t)
	pc := &card.PurseCard{}

	if err := p.SelectPurseFile(); err != nil {
		return nil, fmt.Errorf("select purse file: %w", err)
	}

	for slot := range card.PurseSlots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := p.ReadPurse(slot)
		if err != nil {
			return nil, fmt.Errorf("purse %d: %w", slot, err)
		}
		pc.Purses[slot] = purseFrom(slot, res)
	}

	for slot := range card.PurseSlots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := recordsPerRead
		if purse := pc.Purses[slot]; purse.Valid() && purse.LogRecordCount > 0 {
			records = purse.LogRecordCount
		}
		res, err := p.ReadHistory(slot, records)
		if err != nil {
			return nil, fmt.Errorf("history %d: %w", slot, err)
		}
		pc.Histories[slot] = historyFrom(slot, res)
	}

	return pc, nil
}

func purseFrom(slot int, res Result) card.Purse {
	switch res.State {
	case Present:
		p, err := ParsePurse(slot, res.Data)
		if err != nil {
			return card.Purse{Slot: slot, Err: err.Error()}
		}
		return p
	case Failed:
		return card.Purse{Slot: slot, Err: res.Err.Error()}
	default:
		return card.Purse{Slot: slot}
	}
}

func historyFrom(slot int, res Result) card.History {
	switch res.State {
	case Present:
		txs, err := ParseHistory(res.Data)
		if err != nil {
			return card.History{Slot: slot, Err: err.Error()}
		}
		return card.History{Slot: slot, Present: true, Transactions: txs}
	case Failed:
		return card.History{Slot: slot, Err: res.Err.Error()}
	default:
		return card.History{Slot: slot}
	}
}
