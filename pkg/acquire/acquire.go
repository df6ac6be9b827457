// Package acquire drives one protocol driver over a whole card and assembles the RawCard.
//
// Which driver runs is decided by the caller through the Target it passes; probing the
// card to pick one is done elsewhere (see pkg/pcsc). Per-unit failures are already
// absorbed into placeholders by the drivers, so Acquire fails only when the link drops,
// the context ends, or the card answers a step that has no recovery.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/cepas"
	"github.com/gregLibert/farecard/pkg/classic"
	"github.com/gregLibert/farecard/pkg/desfire"
	"github.com/gregLibert/farecard/pkg/felica"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/keys"
)

// Clock supplies the scan timestamp.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Target names the driver to run and carries the link it runs over.
type Target interface {
	Technology() card.Technology
	target()
}

// FileSystem reads a DESFire-style card over Link.
type FileSystem struct{ Link iso7816.Transmitter }

// Purse reads a CEPAS-style card over Link.
type Purse struct{ Link iso7816.Transmitter }

// SectorMemory reads a MIFARE Classic card. Family is stored on any key bundle
// remembered for the tag.
type SectorMemory struct {
	Tag    classic.Tag
	Family string
}

// PollingService reads a FeliCa card over Link, which carries raw FeliCa frames.
type PollingService struct{ Link iso7816.Transmitter }

func (FileSystem) Technology() card.Technology     { return card.FileSystemTechnology }
func (Purse) Technology() card.Technology          { return card.PurseTechnology }
func (SectorMemory) Technology() card.Technology   { return card.SectorMemoryTechnology }
func (PollingService) Technology() card.Technology { return card.PollingServiceTechnology }

func (FileSystem) target()     {}
func (Purse) target()          {}
func (SectorMemory) target()   {}
func (PollingService) target() {}

// Error is the single fatal outcome of an acquisition. Err is a transport failure
// (iso7816.IsTransport), a context error, or a protocol answer no unit placeholder
// can stand for: a FeliCa card that does not answer the wildcard poll
// (*felica.ResponseError) or a malformed reply to the CEPAS purse-file select.
type Error struct {
	Technology card.Technology
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Technology, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Acquirer reads cards. The zero value works: it has no key resolver, reads the
// system clock and logs to the logrus standard logger.
type Acquirer struct {
	Keys  keys.Resolver
	Clock Clock
	Log   logrus.FieldLogger
}

// Acquire reads the whole card behind target and returns it stamped with tagID and
// the current time.
func (a *Acquirer) Acquire(ctx context.Context, tagID card.TagID, target Target) (*card.RawCard, error) {
	if len(tagID) == 0 {
		return nil, errors.New("acquire: empty tag id")
	}
	if target == nil {
		return nil, errors.New("acquire: nil target")
	}

	log := a.logger().WithFields(logrus.Fields{
		"tag":        tagID.String(),
		"technology": target.Technology().String(),
	})
	log.Debug("acquisition started")

	var (
		payload card.Payload
		err     error
	)
	switch t := target.(type) {
	case FileSystem:
		payload, err = a.fileSystem(ctx, log, t)
	case Purse:
		payload, err = a.purse(ctx, log, t)
	case SectorMemory:
		payload, err = a.sectorMemory(ctx, log, tagID, t)
	case PollingService:
		payload, err = a.pollingService(ctx, log, t)
	default:
		return nil, fmt.Errorf("acquire: unsupported target %T", target)
	}
	if err != nil {
		log.WithError(err).Error("acquisition aborted")
		return nil, &Error{Technology: target.Technology(), Err: err}
	}

	raw, err := card.New(tagID, a.now(), payload)
	if err != nil {
		return nil, err
	}
	log.Info("acquisition complete")
	return raw, nil
}

func (a *Acquirer) fileSystem(ctx context.Context, log logrus.FieldLogger, t FileSystem) (card.Payload, error) {
	fs, err := desfire.Read(ctx, t.Link)
	if err != nil {
		return nil, err
	}
	for _, app := range fs.Applications {
		appLog := log.WithField("app", fmt.Sprintf("%06X", app.ID))
		appLog.WithField("files", len(app.Files)).Debug("application read")
		for _, f := range app.Files {
			fileLog := appLog.WithField("file", f.FileID())
			switch f := f.(type) {
			case card.UnauthorizedFile:
				fileLog.Info("file locked")
			case card.InvalidFile:
				fileLog.WithField("error", f.Err).Warn("file unreadable")
			default:
				fileLog.Debug("file read")
			}
		}
	}
	return fs, nil
}

func (a *Acquirer) purse(ctx context.Context, log logrus.FieldLogger, t Purse) (card.Payload, error) {
	pc, err := cepas.Read(ctx, t.Link)
	if err != nil {
		return nil, err
	}
	for slot := range card.PurseSlots {
		slotLog := log.WithField("slot", slot)
		p, h := pc.Purses[slot], pc.Histories[slot]
		switch {
		case p.Err != "":
			slotLog.WithField("error", p.Err).Warn("purse unreadable")
		case p.Present:
			slotLog.WithField("balance", p.Balance).Debug("purse read")
		}
		switch {
		case h.Err != "":
			slotLog.WithField("error", h.Err).Warn("history unreadable")
		case h.Present:
			slotLog.WithField("transactions", len(h.Transactions)).Debug("history read")
		}
	}
	return pc, nil
}

func (a *Acquirer) sectorMemory(ctx context.Context, log logrus.FieldLogger, tagID card.TagID, t SectorMemory) (card.Payload, error) {
	var bundle *keys.KeyBundle
	if a.Keys != nil {
		b, err := a.Keys.KeysFor(ctx, tagID)
		switch {
		case err == nil:
			bundle = b
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			log.WithError(err).Warn("key lookup failed, trying well-known keys only")
		}
	}

	mem, unlocks, err := classic.Read(ctx, t.Tag, bundle)
	if err != nil {
		return nil, err
	}
	for _, s := range mem.Sectors {
		sectorLog := log.WithField("sector", s.SectorIndex())
		switch s := s.(type) {
		case card.DataSector:
			sectorLog.Debug("sector read")
		case card.UnauthorizedSector:
			sectorLog.Info("sector locked")
		case card.InvalidSector:
			sectorLog.WithField("error", s.Err).Warn("sector unreadable")
		}
	}

	a.remember(ctx, log, tagID, t.Family, bundle, unlocks)
	return mem, nil
}

// remember stores every key that opened a sector and was not in the bundle yet.
// Storage failures are logged; the card itself was read.
func (a *Acquirer) remember(ctx context.Context, log logrus.FieldLogger, tagID card.TagID, family string, bundle *keys.KeyBundle, unlocks []classic.Unlock) {
	if a.Keys == nil || len(unlocks) == 0 {
		return
	}
	found := make([]keys.SectorKey, 0, len(unlocks))
	for _, u := range unlocks {
		found = append(found, u.Key)
	}
	merged, added := bundle.Merge(found)
	if !added {
		return
	}
	merged.TagID = tagID.Clone()
	if merged.Family == "" {
		merged.Family = family
	}

	if err := a.Keys.Remember(ctx, tagID, merged); err != nil {
		log.WithError(err).Warn("remembering keys failed")
		return
	}
	log.WithField("keys", len(merged.Keys)).Debug("keys remembered")
}

func (a *Acquirer) pollingService(ctx context.Context, log logrus.FieldLogger, t PollingService) (card.Payload, error) {
	ps, err := felica.Read(ctx, t.Link)
	if err != nil {
		return nil, err
	}
	for _, sys := range ps.Systems {
		sysLog := log.WithField("system", fmt.Sprintf("%04X", sys.Code))
		if len(sys.Services) == 0 {
			sysLog.Info("system has no readable services")
			continue
		}
		for _, svc := range sys.Services {
			sysLog.WithFields(logrus.Fields{
				"service": fmt.Sprintf("%04X", svc.Code),
				"blocks":  len(svc.Blocks),
			}).Debug("service read")
		}
	}
	return ps, nil
}

func (a *Acquirer) now() time.Time {
	if a.Clock == nil {
		return SystemClock.Now()
	}
	return a.Clock.Now()
}

func (a *Acquirer) logger() logrus.FieldLogger {
	if a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}
