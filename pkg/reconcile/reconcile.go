// Package reconcile rebuilds a trustworthy trip history from the incomplete log a
// transit card stores.
//
// Cards keep one current balance and a short, partly ordered log of trips and
// top-ups. The functions here back-compute historical balances, drop records
// that were rewritten in place, and pair tap-on/tap-off events into journeys.
// They are pure: inputs are never modified and results are fresh slices.
package reconcile

import (
	"slices"
	"time"
)

// Mode is the transport mode of a trip.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeBus
	ModeTrain
	ModeMetro
	ModeTram
	ModeFerry
	// ModePOS is a retail purchase paid from the purse.
	ModePOS
	// ModeTicketMachine is a ticket or pass bought from a machine.
	ModeTicketMachine
)

func (m Mode) String() string {
	switch m {
	case ModeBus:
		return "bus"
	case ModeTrain:
		return "train"
	case ModeMetro:
		return "metro"
	case ModeTram:
		return "tram"
	case ModeFerry:
		return "ferry"
	case ModePOS:
		return "pos"
	case ModeTicketMachine:
		return "ticket-machine"
	default:
		return "unknown"
	}
}

// Trip is the technology-neutral shape of one journey or purchase.
// Fare is the signed amount the trip applied to the stored value, in the card's
// smallest currency unit: debits are negative, refunds positive, 0 if unknown.
// A zero End means the trip is open-ended.
type Trip struct {
	Start        time.Time
	End          time.Time
	Fare         int64
	Mode         Mode
	Journey      string
	Agency       string
	StartStation string
	EndStation   string

	// BalanceAfter is filled in by Balances; HasBalance reports that it was.
	BalanceAfter int64
	HasBalance   bool
}

// Refill is a top-up of the stored value.
type Refill struct {
	Time   time.Time
	Amount int64
	Agency string
}

// TapEvent is a single tap of the card at a reader.
type TapEvent struct {
	JourneyID string
	Mode      Mode
	StationID string
	Time      time.Time
}

// SortNewestFirst returns the trips ordered by descending start time. Ties keep input order.
func SortNewestFirst(trips []Trip) []Trip {
	out := slices.Clone(trips)
	slices.SortStableFunc(out, func(a, b Trip) int {
		return b.Start.Compare(a.Start)
	})
	return out
}

// SortRefillsNewestFirst returns the refills ordered by descending time. Ties keep input order.
func SortRefillsNewestFirst(refills []Refill) []Refill {
	out := slices.Clone(refills)
	slices.SortStableFunc(out, func(a, b Refill) int {
		return b.Time.Compare(a.Time)
	})
	return out
}

// Balances back-computes the balance each trip left on the card.
//
// trips and refills are expected newest first. Walking trips from newest to
// oldest, every refill newer than the trip is subtracted once, the running
// balance is recorded on the trip, and the trip's effect is reversed by taking
// its signed fare back out before moving to the older trip. Running it twice on
// the same input gives the same result.
func Balances(current int64, trips []Trip, refills []Refill) []Trip {
	out := slices.Clone(trips)
	applied := make([]bool, len(refills))
	balance := current

	for i := range out {
		for j, r := range refills {
			if !applied[j] && r.Time.After(out[i].Start) {
				balance -= r.Amount
				applied[j] = true
			}
		}
		out[i].BalanceAfter = balance
		out[i].HasBalance = true
		balance -= out[i].Fare
	}
	return out
}

// Dedupe drops trips that were rewritten in place when they closed.
//
// Two records with the same start time are the same journey: the one with an
// end time is kept, at the position of whichever came first. If both or neither
// have an end time the first one wins. Records with a zero start time are unused
// ring slots and are dropped.
func Dedupe(trips []Trip) []Trip {
	out := make([]Trip, 0, len(trips))
	index := make(map[int64]int, len(trips))

	for _, t := range trips {
		if t.Start.IsZero() {
			continue
		}
		key := t.Start.UnixNano()
		if i, ok := index[key]; ok {
			if out[i].End.IsZero() && !t.End.IsZero() {
				out[i] = t
			}
			continue
		}
		index[key] = len(out)
		out = append(out, t)
	}
	return out
}

// PairTaps merges consecutive tap-on/tap-off events into trips.
//
// Taps are ordered by time (ties keep input order). A tap followed immediately by
// a tap of the same journey and mode becomes one trip spanning both; any other tap
// becomes an open-ended trip. The result is ordered by start time.
func PairTaps(taps []TapEvent) []Trip {
	sorted := slices.Clone(taps)
	slices.SortStableFunc(sorted, func(a, b TapEvent) int {
		return a.Time.Compare(b.Time)
	})

	trips := make([]Trip, 0, len(sorted))
	for i := 0; i < len(sorted); {
		on := sorted[i]
		trip := Trip{
			Start:        on.Time,
			Mode:         on.Mode,
			Journey:      on.JourneyID,
			StartStation: on.StationID,
		}

		if i+1 < len(sorted) && sorted[i+1].JourneyID == on.JourneyID && sorted[i+1].Mode == on.Mode {
			off := sorted[i+1]
			trip.End = off.Time
			trip.EndStation = off.StationID
			i += 2
		} else {
			i++
		}
		trips = append(trips, trip)
	}

	slices.SortStableFunc(trips, func(a, b Trip) int {
		return a.Start.Compare(b.Start)
	})
	return trips
}
