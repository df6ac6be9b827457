package desfire

import (
	"fmt"

	"github.com/gregLibert/farecard/pkg/bits"
	"github.com/gregLibert/farecard/pkg/card"
)

// FILE SETTINGS LAYOUT (all integers little-endian):
//
//	[0]     file type
//	[1]     communication setting
//	[2:4]   access rights
//	data:   [4:7] file size
//	value:  [4:8] lower limit, [8:12] upper limit, [12:16] limited credit, [16] limited credit enabled
//	record: [4:7] record size, [7:10] max records, [10:13] current records

// ParseFileSettings decodes a GET FILE SETTINGS answer.
func ParseFileSettings(raw []byte) (card.FileSettings, error) {
	if len(raw) < 4 {
		return card.FileSettings{}, fmt.Errorf("desfire: file settings too short: %d bytes", len(raw))
	}

	s := card.FileSettings{
		Type:         card.FileType(raw[0]),
		CommSetting:  raw[1],
		AccessRights: uint16(raw[2]) | uint16(raw[3])<<8,
	}

	le := func(off, n int) uint64 {
		v, _ := bits.UintLE(raw, off, n)
		return v
	}

	switch s.Type {
	case card.StandardDataFile, card.BackupDataFile:
		if len(raw) < 7 {
			return card.FileSettings{}, fmt.Errorf("desfire: %s file settings too short: %d bytes", s.Type, len(raw))
		}
		s.Size = uint32(le(4, 3))
	case card.ValueFileType:
		if len(raw) < 17 {
			return card.FileSettings{}, fmt.Errorf("desfire: %s file settings too short: %d bytes", s.Type, len(raw))
		}
		s.LowerLimit = int32(uint32(le(4, 4)))
		s.UpperLimit = int32(uint32(le(8, 4)))
		s.LimitedCredit = int32(uint32(le(12, 4)))
		s.LimitedCreditEnabled = raw[16] != 0
	case card.LinearRecordFile, card.CyclicRecordFile:
		if len(raw) < 13 {
			return card.FileSettings{}, fmt.Errorf("desfire: %s file settings too short: %d bytes", s.Type, len(raw))
		}
		s.RecordSize = uint32(le(4, 3))
		s.MaxRecords = uint32(le(7, 3))
		s.CurrentRecords = uint32(le(10, 3))
	default:
		return card.FileSettings{}, fmt.Errorf("desfire: unknown file type %s", s.Type)
	}
	return s, nil
}
