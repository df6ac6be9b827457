package cepas

import (
	"strings"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/reconcile"
)

// Extract splits a purse's log into trips and refills, both newest first.
// Creation and service records carry no value movement and are skipped.
// When the history is empty the purse's own last transaction record is used.
func Extract(purse card.Purse, history card.History) ([]reconcile.Trip, []reconcile.Refill) {
	txs := history.Transactions
	if len(txs) == 0 && purse.Valid() && !purse.LastTransaction.Time.Equal(Epoch.Base) {
		txs = []card.Transaction{purse.LastTransaction}
	}

	var trips []reconcile.Trip
	var refills []reconcile.Refill
	for _, tx := range txs {
		// Unused log records carry no timestamp.
		if tx.Time.Equal(Epoch.Base) {
			continue
		}
		switch tx.Type {
		case TypeTopUp, TypeTopUpAlt:
			refills = append(refills, reconcile.Refill{Time: tx.Time, Amount: int64(tx.Amount), Agency: tx.UserData})
		case TypeCreation, TypeCreateAlt, TypeService:
		default:
			trips = append(trips, tripFrom(tx))
		}
	}
	return reconcile.SortNewestFirst(trips), reconcile.SortRefillsNewestFirst(refills)
}

// Trips extracts, deduplicates and back-computes balances for one purse.
func Trips(purse card.Purse, history card.History) []reconcile.Trip {
	trips, refills := Extract(purse, history)
	return reconcile.Balances(int64(purse.Balance), reconcile.Dedupe(trips), refills)
}

func tripFrom(tx card.Transaction) reconcile.Trip {
	t := reconcile.Trip{Start: tx.Time, Fare: int64(tx.Amount)}

	switch tx.Type {
	case TypeMRT:
		t.Mode = reconcile.ModeTrain
		t.Agency = "MRT"
		// User data reads "FROM-TO  " with three-letter station codes.
		if from, to, ok := strings.Cut(tx.UserData, "-"); ok {
			t.StartStation = strings.TrimSpace(from)
			t.EndStation = strings.TrimSpace(to)
		} else {
			t.StartStation = tx.UserData
		}
	case TypeBus, TypeBusRefund:
		t.Mode = reconcile.ModeBus
		t.Agency = "BUS"
		// User data reads "OPR ROUTE", for example "SBS 174".
		t.Journey = tx.UserData
		if op, _, ok := strings.Cut(tx.UserData, " "); ok {
			t.Agency = op
		}
	case TypeRetail:
		t.Mode = reconcile.ModePOS
		t.Agency = "POS"
		t.StartStation = tx.UserData
	default:
		t.Mode = reconcile.ModeUnknown
		t.Journey = tx.UserData
	}
	return t
}
