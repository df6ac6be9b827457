package desfire

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
)

// Read acquires every application and file the card discloses.
//
// Only link failures and cancellation abort the read. A file whose settings or
// contents cannot be read becomes an UnauthorizedFile or InvalidFile, and an
// application that cannot be selected or listed is kept with no files.
func Read(ctx context.Context, t iso7816.Transmitter) (*card.FileSystem, error) {
	p := NewProtocol(t)

	version, err := p.Version()
	if err != nil {
		if fatal(err) {
			return nil, fmt.Errorf("get version: %w", err)
		}
		version = nil
	}

	ids, err := p.ApplicationIDs()
	if err != nil {
		if fatal(err) {
			return nil, fmt.Errorf("get application ids: %w", err)
		}
		ids = nil
	}

	apps := make([]card.Application, 0, len(ids))
	seen := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		app, err := readApplication(ctx, p, id)
		if err != nil {
			return nil, fmt.Errorf("application %06X: %w", id, err)
		}
		apps = append(apps, app)
	}

	return card.NewFileSystem(version, apps)
}

func readApplication(ctx context.Context, p *Protocol, id uint32) (card.Application, error) {
	app := card.Application{ID: id}

	if err := p.SelectApplication(id); err != nil {
		if fatal(err) {
			return app, err
		}
		return app, nil
	}

	fileIDs, err := p.FileIDs()
	if err != nil {
		if fatal(err) {
			return app, err
		}
		return app, nil
	}

	seen := make(map[byte]bool, len(fileIDs))
	for _, fid := range fileIDs {
		if seen[fid] {
			continue
		}
		seen[fid] = true

		if err := ctx.Err(); err != nil {
			return app, err
		}
		f, err := readFile(p, fid)
		if err != nil {
			if fatal(err) {
				return app, fmt.Errorf("file %02X: %w", fid, err)
			}
			f = placeholder(fid, err)
		}
		app.Files = append(app.Files, f)
	}
	return app, nil
}

func readFile(p *Protocol, id byte) (card.File, error) {
	settings, err := p.FileSettings(id)
	if err != nil {
		return nil, err
	}

	switch {
	case settings.Type.IsRecord():
		records, err := p.ReadRecords(id, settings)
		if err != nil {
			return nil, err
		}
		return card.RecordFile{ID: id, Settings: settings, Records: records}, nil
	case settings.Type == card.ValueFileType:
		v, err := p.Value(id)
		if err != nil {
			return nil, err
		}
		return card.ValueFile{ID: id, Settings: settings, Value: v}, nil
	default:
		data, err := p.ReadFile(id)
		if err != nil {
			return nil, err
		}
		return card.StandardFile{ID: id, Settings: settings, Data: data}, nil
	}
}

func placeholder(id byte, err error) card.File {
	if errors.Is(err, ErrPermissionDenied) {
		return card.UnauthorizedFile{ID: id, Err: err.Error()}
	}
	return card.InvalidFile{ID: id, Err: err.Error()}
}

func fatal(err error) bool {
	return iso7816.IsTransport(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
