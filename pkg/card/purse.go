package card

import "time"

// PurseSlots is the number of purse (and history) slots a CEPAS card exposes.
const PurseSlots = 16

// Purse is one CEPAS purse slot. A slot is either absent (Present false, Err empty),
// invalid (Err set) or valid (Present true, fields decoded).
type Purse struct {
	Slot    int
	Present bool
	Err     string

	Version        byte
	Status         byte
	Balance        int32
	AutoLoadAmount int32
	CAN            [8]byte
	CSN            [8]byte
	Expiry         time.Time
	Created        time.Time

	LastCreditTRP    uint32
	LastCreditHeader [8]byte
	LogRecordCount   int
	IssuerDataLength int

	LastTransactionTRP uint32
	LastTransaction    Transaction
	IssuerData         []byte

	// Raw is the purse record as read.
	Raw []byte
}

// Valid reports a present purse that decoded cleanly.
func (p Purse) Valid() bool {
	return p.Present && p.Err == ""
}

// History is the transaction log tied to one purse slot.
type History struct {
	Slot         int
	Present      bool
	Err          string
	Transactions []Transaction
}

// Valid reports a present history that decoded cleanly.
func (h History) Valid() bool {
	return h.Present && h.Err == ""
}

// Transaction is one CEPAS log record. Amount is signed in cents; debits are negative.
type Transaction struct {
	Type     byte
	Amount   int32
	Time     time.Time
	UserData string
}

// PurseCard is the payload of a CEPAS card.
type PurseCard struct {
	Purses    [PurseSlots]Purse
	Histories [PurseSlots]History
}

// Purse returns the purse in slot, if it was read successfully.
func (c *PurseCard) Purse(slot int) (Purse, bool) {
	if slot < 0 || slot >= PurseSlots || !c.Purses[slot].Valid() {
		return Purse{}, false
	}
	return c.Purses[slot], true
}

func (*PurseCard) Technology() Technology { return PurseTechnology }
func (*PurseCard) payload()               {}
