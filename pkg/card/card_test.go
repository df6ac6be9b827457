package card

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tag := TagID{0x04, 0xAB, 0xCD}
	scanned := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

	c, err := New(tag, scanned, &SectorMemory{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tag[0] = 0xFF
	if c.TagID[0] != 0x04 {
		t.Error("New must copy the tag id")
	}
	if c.Technology() != SectorMemoryTechnology {
		t.Errorf("Technology() = %s", c.Technology())
	}

	if _, err := New(nil, scanned, &SectorMemory{}); err == nil {
		t.Error("expected error for empty tag id")
	}
	if _, err := New(tag, scanned, nil); err == nil {
		t.Error("expected error for nil payload")
	}
}

func TestTagID(t *testing.T) {
	id, err := ParseTagID("04:ab-CD ef")
	if err != nil {
		t.Fatalf("ParseTagID: %v", err)
	}
	if id.String() != "04ABCDEF" {
		t.Errorf("String() = %s", id)
	}
	if _, err := ParseTagID("zz"); err == nil {
		t.Error("expected error for non-hex id")
	}
	if _, err := ParseTagID(""); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestParseTechnology(t *testing.T) {
	for _, tech := range []Technology{FileSystemTechnology, PurseTechnology, SectorMemoryTechnology, PollingServiceTechnology} {
		got, err := ParseTechnology(tech.String())
		if err != nil || got != tech {
			t.Errorf("ParseTechnology(%q) = %v, %v", tech.String(), got, err)
		}
	}
	if _, err := ParseTechnology("ultralight"); err == nil {
		t.Error("expected error for unknown technology")
	}
}

func TestNewFileSystem_Uniqueness(t *testing.T) {
	_, err := NewFileSystem(nil, []Application{{ID: 1}, {ID: 1}})
	if err == nil {
		t.Error("expected error for duplicate application")
	}

	_, err = NewFileSystem(nil, []Application{{
		ID:    0x2000,
		Files: []File{StandardFile{ID: 1}, InvalidFile{ID: 1, Err: "boom"}},
	}})
	if err == nil {
		t.Error("expected error for duplicate file id")
	}

	fs, err := NewFileSystem(nil, []Application{{
		ID:    0x2000,
		Files: []File{StandardFile{ID: 1}, RecordFile{ID: 2}},
	}})
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	app, ok := fs.Application(0x2000)
	if !ok {
		t.Fatal("application 2000 not found")
	}
	if f, ok := app.File(2); !ok {
		t.Error("file 2 not found")
	} else if _, isRecord := f.(RecordFile); !isRecord {
		t.Errorf("file 2 is %T; want RecordFile", f)
	}
}

func TestSectorMemory_Unlocked(t *testing.T) {
	m := &SectorMemory{Sectors: []Sector{
		DataSector{Index: 0},
		UnauthorizedSector{Index: 1},
		InvalidSector{Index: 2, Err: "timeout"},
		DataSector{Index: 3},
	}}
	if got := m.Unlocked(); got != 2 {
		t.Errorf("Unlocked() = %d; want 2", got)
	}
	if s, ok := m.Sector(2); !ok || s.SectorIndex() != 2 {
		t.Errorf("Sector(2) = %v, %v", s, ok)
	}
	if _, ok := m.Sector(4); ok {
		t.Error("Sector(4) should not exist")
	}
}

func TestEpoch(t *testing.T) {
	e := Epoch{Base: time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)}

	if got := e.Seconds(86400); !got.Equal(time.Date(1995, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Seconds(86400) = %v", got)
	}
	if got := e.Minutes(90); !got.Equal(time.Date(1995, 1, 1, 1, 30, 0, 0, time.UTC)) {
		t.Errorf("Minutes(90) = %v", got)
	}
	if got := e.Days(31); !got.Equal(time.Date(1995, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Days(31) = %v", got)
	}
}

func TestPurseCard_Purse(t *testing.T) {
	var pc PurseCard
	pc.Purses[3] = Purse{Slot: 3, Present: true, Balance: 1234}
	pc.Purses[4] = Purse{Slot: 4, Err: "Got generic invalid response: 6a"}

	if p, ok := pc.Purse(3); !ok || p.Balance != 1234 {
		t.Errorf("Purse(3) = %+v, %v", p, ok)
	}
	if _, ok := pc.Purse(4); ok {
		t.Error("invalid purse must not be returned")
	}
	if _, ok := pc.Purse(0); ok {
		t.Error("absent purse must not be returned")
	}
	if _, ok := pc.Purse(16); ok {
		t.Error("out of range slot must not be returned")
	}
}
