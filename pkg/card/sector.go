package card

// Block is one 16-byte block of a memory card sector. Index is relative to the sector.
type Block struct {
	Index int
	Data  []byte
}

// Sector is implemented by DataSector, UnauthorizedSector and InvalidSector.
type Sector interface {
	SectorIndex() int
	sector()
}

// DataSector is an authenticated sector with every block in index order,
// the trailer block included.
type DataSector struct {
	Index  int
	Blocks []Block
}

// UnauthorizedSector is a sector no known key opened. It is an expected outcome.
type UnauthorizedSector struct {
	Index int
}

// InvalidSector is a sector whose exchange failed at the I/O level.
type InvalidSector struct {
	Index int
	Err   string
}

func (s DataSector) SectorIndex() int         { return s.Index }
func (s UnauthorizedSector) SectorIndex() int { return s.Index }
func (s InvalidSector) SectorIndex() int      { return s.Index }

func (DataSector) sector()         {}
func (UnauthorizedSector) sector() {}
func (InvalidSector) sector()      {}

// SectorMemory is the payload of a MIFARE Classic card, sectors in index order.
type SectorMemory struct {
	Sectors []Sector
}

// Sector returns the sector at index.
func (m *SectorMemory) Sector(index int) (Sector, bool) {
	if index < 0 || index >= len(m.Sectors) {
		return nil, false
	}
	return m.Sectors[index], true
}

// Unlocked counts the sectors that were read.
func (m *SectorMemory) Unlocked() int {
	n := 0
	for _, s := range m.Sectors {
		if _, ok := s.(DataSector); ok {
			n++
		}
	}
	return n
}

func (*SectorMemory) Technology() Technology { return SectorMemoryTechnology }
func (*SectorMemory) payload()               {}
