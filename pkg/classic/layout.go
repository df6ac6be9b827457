package classic

import "fmt"

// BlockSize is the size of one Classic block.
const BlockSize = 16

// Size is a Classic memory variant.
type Size int

const (
	Mini Size = 320
	K1   Size = 1024
	K2   Size = 2048
	K4   Size = 4096
)

func (s Size) String() string {
	switch s {
	case Mini:
		return "classic-mini"
	case K1:
		return "classic-1k"
	case K2:
		return "classic-2k"
	case K4:
		return "classic-4k"
	default:
		return fmt.Sprintf("Size(%d)", int(s))
	}
}

// Sectors returns the sector count of a memory variant.
func (s Size) Sectors() int {
	switch s {
	case Mini:
		return 5
	case K1:
		return 16
	case K2:
		return 32
	case K4:
		return 40
	default:
		return 0
	}
}

// BlocksIn returns the number of blocks in sector, trailer included.
// Sectors 32 and above (4K only) hold 16 blocks; the others hold 4.
func BlocksIn(sector int) int {
	if sector >= 32 {
		return 16
	}
	return 4
}

// FirstBlock returns the absolute block number of a sector's first block.
func FirstBlock(sector int) int {
	if sector >= 32 {
		return 128 + (sector-32)*16
	}
	return sector * 4
}
