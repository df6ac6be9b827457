package iso7816

// SELECT COMMAND LOGIC (ISO 7816-4):
// The SELECT command (INS 'A4') opens a file (MF, DF, or EF) or an application.
//
// P1 (Selection Method): how the file is targeted.
// P2 (Selection Control): bits 4-3 response type, bits 2-1 occurrence.
//
// CEPAS purses live under EF 4000, selected by file identifier before the first purse read.

// SelectionMethod defines how the file is targeted (P1).
type SelectionMethod byte

const (
	SelectByFileID SelectionMethod = 0x00
	SelectByDFName SelectionMethod = 0x04 // Select by AID
)

// SelectionControl defines what data to return (Bits 3-4 of P2).
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnFCP    SelectionControl = 0b0000_01_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

// NewSelectCommand creates a SELECT command for the first or only occurrence.
func NewSelectCommand(cla Class, method SelectionMethod, ctrl SelectionControl, data []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)

	// T=0: a Case 3 command cannot also carry Le; the card answers 61XX and the
	// Client fetches the body.
	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}

	return NewCommandAPDU(cla, ins, byte(method), byte(ctrl), data, ne)
}

// SelectFile selects an elementary or dedicated file by its two-byte identifier.
func SelectFile(cla Class, fid uint16) *CommandAPDU {
	return NewSelectCommand(cla, SelectByFileID, ReturnFCI, []byte{byte(fid >> 8), byte(fid)})
}

// SelectByAID selects an application by its name (AID).
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, ReturnFCI, aid)
}
