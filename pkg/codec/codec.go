// Package codec serializes raw cards and key bundles to CBOR.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): the same card always produces the
// same bytes. Every sum type is written with a "kind" discriminator so the exact
// variant, placeholders included, comes back on decode.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/gregLibert/farecard/pkg/card"
)

// FormatVersion is written into every document. Decoding rejects other versions.
const FormatVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Unix seconds would drop sub-second scan times and the card's zone offset.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrVersion is returned for documents written by an unknown format version.
var ErrVersion = errors.New("codec: unsupported format version")

// Kind discriminators.
const (
	fileStandard     = "standard"
	fileRecord       = "record"
	fileValue        = "value"
	fileUnauthorized = "unauthorized"
	fileInvalid      = "invalid"

	sectorData         = "data"
	sectorUnauthorized = "unauthorized"
	sectorInvalid      = "invalid"
)

type cardDoc struct {
	Version   int             `cbor:"v"`
	Kind      string          `cbor:"kind"`
	TagID     []byte          `cbor:"tag"`
	ScannedAt time.Time       `cbor:"at"`
	Payload   cbor.RawMessage `cbor:"payload"`
}

type fileSystemDoc struct {
	Manufacturing []byte   `cbor:"mfg"`
	Applications  []appDoc `cbor:"apps"`
}

type appDoc struct {
	ID    uint32    `cbor:"id"`
	Files []fileDoc `cbor:"files"`
}

type fileDoc struct {
	Kind     string             `cbor:"kind"`
	ID       byte               `cbor:"id"`
	Settings *card.FileSettings `cbor:"settings,omitempty"`
	Data     []byte             `cbor:"data,omitempty"`
	Records  [][]byte           `cbor:"records,omitempty"`
	Value    int32              `cbor:"value,omitempty"`
	Err      string             `cbor:"err,omitempty"`
}

type sectorMemoryDoc struct {
	Sectors []sectorDoc `cbor:"sectors"`
}

type sectorDoc struct {
	Kind   string       `cbor:"kind"`
	Index  int          `cbor:"index"`
	Blocks []card.Block `cbor:"blocks,omitempty"`
	Err    string       `cbor:"err,omitempty"`
}

// MarshalCard encodes raw.
func MarshalCard(raw *card.RawCard) ([]byte, error) {
	if raw == nil || raw.Payload == nil {
		return nil, errors.New("codec: empty card")
	}

	var payload any
	switch p := raw.Payload.(type) {
	case *card.FileSystem:
		payload = fileSystemToDoc(p)
	case *card.SectorMemory:
		payload = sectorMemoryToDoc(p)
	case *card.PurseCard, *card.PollingService:
		payload = p
	default:
		return nil, fmt.Errorf("codec: unsupported payload %T", raw.Payload)
	}

	body, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s payload: %w", raw.Technology(), err)
	}
	return encMode.Marshal(cardDoc{
		Version:   FormatVersion,
		Kind:      raw.Technology().String(),
		TagID:     raw.TagID,
		ScannedAt: raw.ScannedAt,
		Payload:   body,
	})
}

// UnmarshalCard decodes a card written by MarshalCard.
func UnmarshalCard(data []byte) (*card.RawCard, error) {
	var doc cardDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("codec: decode card: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("%w %d", ErrVersion, doc.Version)
	}
	tech, err := card.ParseTechnology(doc.Kind)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	payload, err := decodePayload(tech, doc.Payload)
	if err != nil {
		return nil, fmt.Errorf("codec: decode %s payload: %w", tech, err)
	}
	return card.New(doc.TagID, doc.ScannedAt, payload)
}

func decodePayload(tech card.Technology, data []byte) (card.Payload, error) {
	switch tech {
	case card.FileSystemTechnology:
		var doc fileSystemDoc
		if err := decMode.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return fileSystemFromDoc(doc)
	case card.SectorMemoryTechnology:
		var doc sectorMemoryDoc
		if err := decMode.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return sectorMemoryFromDoc(doc)
	case card.PurseTechnology:
		pc := &card.PurseCard{}
		if err := decMode.Unmarshal(data, pc); err != nil {
			return nil, err
		}
		return pc, nil
	case card.PollingServiceTechnology:
		ps := &card.PollingService{}
		if err := decMode.Unmarshal(data, ps); err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unsupported technology %s", tech)
	}
}

func fileSystemToDoc(fs *card.FileSystem) fileSystemDoc {
	doc := fileSystemDoc{Manufacturing: fs.Manufacturing}
	for _, app := range fs.Applications {
		ad := appDoc{ID: app.ID, Files: make([]fileDoc, 0, len(app.Files))}
		for _, f := range app.Files {
			ad.Files = append(ad.Files, fileToDoc(f))
		}
		doc.Applications = append(doc.Applications, ad)
	}
	return doc
}

func fileToDoc(f card.File) fileDoc {
	switch f := f.(type) {
	case card.StandardFile:
		return fileDoc{Kind: fileStandard, ID: f.ID, Settings: &f.Settings, Data: f.Data}
	case card.RecordFile:
		return fileDoc{Kind: fileRecord, ID: f.ID, Settings: &f.Settings, Records: f.Records}
	case card.ValueFile:
		return fileDoc{Kind: fileValue, ID: f.ID, Settings: &f.Settings, Value: f.Value}
	case card.UnauthorizedFile:
		return fileDoc{Kind: fileUnauthorized, ID: f.ID, Err: f.Err}
	case card.InvalidFile:
		return fileDoc{Kind: fileInvalid, ID: f.ID, Err: f.Err}
	default:
		panic(fmt.Sprintf("codec: unhandled file type %T", f))
	}
}

func fileSystemFromDoc(doc fileSystemDoc) (*card.FileSystem, error) {
	apps := make([]card.Application, 0, len(doc.Applications))
	for _, ad := range doc.Applications {
		app := card.Application{ID: ad.ID}
		for _, fd := range ad.Files {
			f, err := fileFromDoc(fd)
			if err != nil {
				return nil, fmt.Errorf("application %06X: %w", ad.ID, err)
			}
			app.Files = append(app.Files, f)
		}
		apps = append(apps, app)
	}
	return card.NewFileSystem(doc.Manufacturing, apps)
}

func fileFromDoc(fd fileDoc) (card.File, error) {
	var settings card.FileSettings
	if fd.Settings != nil {
		settings = *fd.Settings
	}
	switch fd.Kind {
	case fileStandard:
		return card.StandardFile{ID: fd.ID, Settings: settings, Data: fd.Data}, nil
	case fileRecord:
		return card.RecordFile{ID: fd.ID, Settings: settings, Records: fd.Records}, nil
	case fileValue:
		return card.ValueFile{ID: fd.ID, Settings: settings, Value: fd.Value}, nil
	case fileUnauthorized:
		return card.UnauthorizedFile{ID: fd.ID, Err: fd.Err}, nil
	case fileInvalid:
		return card.InvalidFile{ID: fd.ID, Err: fd.Err}, nil
	default:
		return nil, fmt.Errorf("file %02X: unknown kind %q", fd.ID, fd.Kind)
	}
}

func sectorMemoryToDoc(sm *card.SectorMemory) sectorMemoryDoc {
	doc := sectorMemoryDoc{Sectors: make([]sectorDoc, 0, len(sm.Sectors))}
	for _, s := range sm.Sectors {
		switch s := s.(type) {
		case card.DataSector:
			doc.Sectors = append(doc.Sectors, sectorDoc{Kind: sectorData, Index: s.Index, Blocks: s.Blocks})
		case card.UnauthorizedSector:
			doc.Sectors = append(doc.Sectors, sectorDoc{Kind: sectorUnauthorized, Index: s.Index})
		case card.InvalidSector:
			doc.Sectors = append(doc.Sectors, sectorDoc{Kind: sectorInvalid, Index: s.Index, Err: s.Err})
		default:
			panic(fmt.Sprintf("codec: unhandled sector type %T", s))
		}
	}
	return doc
}

func sectorMemoryFromDoc(doc sectorMemoryDoc) (*card.SectorMemory, error) {
	sm := &card.SectorMemory{Sectors: make([]card.Sector, 0, len(doc.Sectors))}
	for _, sd := range doc.Sectors {
		switch sd.Kind {
		case sectorData:
			sm.Sectors = append(sm.Sectors, card.DataSector{Index: sd.Index, Blocks: sd.Blocks})
		case sectorUnauthorized:
			sm.Sectors = append(sm.Sectors, card.UnauthorizedSector{Index: sd.Index})
		case sectorInvalid:
			sm.Sectors = append(sm.Sectors, card.InvalidSector{Index: sd.Index, Err: sd.Err})
		default:
			return nil, fmt.Errorf("sector %d: unknown kind %q", sd.Index, sd.Kind)
		}
	}
	return sm, nil
}
