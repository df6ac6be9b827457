package card

import "fmt"

// FileType is the DESFire file structure code returned by GET FILE SETTINGS.
type FileType byte

const (
	StandardDataFile FileType = 0x00
	BackupDataFile   FileType = 0x01
	ValueFileType    FileType = 0x02
	LinearRecordFile FileType = 0x03
	CyclicRecordFile FileType = 0x04
)

func (t FileType) String() string {
	switch t {
	case StandardDataFile:
		return "standard"
	case BackupDataFile:
		return "backup"
	case ValueFileType:
		return "value"
	case LinearRecordFile:
		return "linear-record"
	case CyclicRecordFile:
		return "cyclic-record"
	default:
		return fmt.Sprintf("FileType(0x%02X)", byte(t))
	}
}

// IsRecord reports whether the file holds fixed-size records.
func (t FileType) IsRecord() bool {
	return t == LinearRecordFile || t == CyclicRecordFile
}

// FileSettings is the decoded GET FILE SETTINGS answer. Only the fields of the
// file's own structure are meaningful.
type FileSettings struct {
	Type         FileType
	CommSetting  byte
	AccessRights uint16

	// Standard and backup data files.
	Size uint32

	// Record files.
	RecordSize     uint32
	MaxRecords     uint32
	CurrentRecords uint32

	// Value files.
	LowerLimit           int32
	UpperLimit           int32
	LimitedCredit        int32
	LimitedCreditEnabled bool
}

// File is implemented by StandardFile, RecordFile, ValueFile, UnauthorizedFile and InvalidFile.
type File interface {
	FileID() byte
	file()
}

// StandardFile is a flat data (or backup) file.
type StandardFile struct {
	ID       byte
	Settings FileSettings
	Data     []byte
}

// RecordFile is a linear or cyclic record file, records in card order.
type RecordFile struct {
	ID       byte
	Settings FileSettings
	Records  [][]byte
}

// ValueFile is a signed 32-bit counter file.
type ValueFile struct {
	ID       byte
	Settings FileSettings
	Value    int32
}

// UnauthorizedFile is a file the card refused to disclose without authentication.
type UnauthorizedFile struct {
	ID  byte
	Err string
}

// InvalidFile is a file whose settings or contents could not be read.
type InvalidFile struct {
	ID  byte
	Err string
}

func (f StandardFile) FileID() byte     { return f.ID }
func (f RecordFile) FileID() byte       { return f.ID }
func (f ValueFile) FileID() byte        { return f.ID }
func (f UnauthorizedFile) FileID() byte { return f.ID }
func (f InvalidFile) FileID() byte      { return f.ID }

func (StandardFile) file()     {}
func (RecordFile) file()       {}
func (ValueFile) file()        {}
func (UnauthorizedFile) file() {}
func (InvalidFile) file()      {}

// Application is one DESFire application (24-bit AID) and its files in card order.
type Application struct {
	ID    uint32
	Files []File
}

// File looks up a file by id.
func (a Application) File(id byte) (File, bool) {
	for _, f := range a.Files {
		if f.FileID() == id {
			return f, true
		}
	}
	return nil, false
}

// FileSystem is the payload of a DESFire card.
type FileSystem struct {
	// Manufacturing holds the raw GET VERSION answer (hardware, software and production data).
	Manufacturing []byte
	Applications  []Application
}

// NewFileSystem validates id uniqueness and returns the payload.
func NewFileSystem(manufacturing []byte, apps []Application) (*FileSystem, error) {
	seenApps := make(map[uint32]bool, len(apps))
	for _, app := range apps {
		if seenApps[app.ID] {
			return nil, fmt.Errorf("card: duplicate application %06X", app.ID)
		}
		seenApps[app.ID] = true

		seenFiles := make(map[byte]bool, len(app.Files))
		for _, f := range app.Files {
			if seenFiles[f.FileID()] {
				return nil, fmt.Errorf("card: duplicate file %02X in application %06X", f.FileID(), app.ID)
			}
			seenFiles[f.FileID()] = true
		}
	}
	return &FileSystem{Manufacturing: manufacturing, Applications: apps}, nil
}

// Application looks up an application by id.
func (fs *FileSystem) Application(id uint32) (Application, bool) {
	for _, app := range fs.Applications {
		if app.ID == id {
			return app, true
		}
	}
	return Application{}, false
}

func (*FileSystem) Technology() Technology { return FileSystemTechnology }
func (*FileSystem) payload()               {}
