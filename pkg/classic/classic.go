// Package classic reads MIFARE Classic sector memory with a cascading key search.
//
// Each sector is opened by trying, in order and stopping at the first success:
//
//  1. the all-zero key as Key A (sector 0 only),
//  2. the manufacturer default key as Key A,
//  3. the bundle key mapped 1:1 to the sector, as its recorded kind,
//  4. every other bundle key in bundle order, sector slots before extra keys, as its
//     recorded kind.
//
// Keys known to belong to other sectors are still tried in step 4: real cards reuse keys.
package classic

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
	"github.com/gregLibert/farecard/pkg/keys"
)

// Tag is a sector-memory card on a reader. Authenticate returns false, nil when the
// card rejects the key, and an error only when the exchange itself failed.
type Tag interface {
	SectorCount() int
	BlockCount(sector int) int
	Authenticate(sector int, key keys.SectorKey) (bool, error)
	ReadBlock(sector, block int) ([]byte, error)
}

// Unlock records the key that opened a sector.
type Unlock struct {
	Sector int
	Key    keys.SectorKey
}

// AuthenticateSector runs the key cascade for one sector and returns the key that worked.
func AuthenticateSector(tag Tag, sector int, bundle *keys.KeyBundle) (keys.SectorKey, bool, error) {
	try := func(k keys.SectorKey) (bool, error) {
		ok, err := tag.Authenticate(sector, k)
		if err != nil {
			return false, fmt.Errorf("authenticate sector %d with key %s: %w", sector, k.Kind, err)
		}
		return ok, nil
	}

	if sector == 0 {
		if ok, err := try(keys.ZeroKey); err != nil || ok {
			return keys.ZeroKey, ok, err
		}
	}
	if ok, err := try(keys.DefaultKey); err != nil || ok {
		return keys.DefaultKey, ok, err
	}
	if bundle == nil {
		return keys.SectorKey{}, false, nil
	}

	mapped, hasMapped := bundle.ForSector(sector)
	if hasMapped {
		if ok, err := try(mapped); err != nil || ok {
			return mapped, ok, err
		}
	}
	for i, k := range bundle.Keys {
		if hasMapped && i == sector {
			continue
		}
		if ok, err := try(k); err != nil || ok {
			return k, ok, err
		}
	}
	for _, k := range bundle.Extra {
		if ok, err := try(k); err != nil || ok {
			return k, ok, err
		}
	}
	return keys.SectorKey{}, false, nil
}

// Read walks every sector of tag. Sectors no key opens become UnauthorizedSector and
// sectors whose exchange fails become InvalidSector; both leave the remaining sectors
// to be tried. Tag loss and cancellation abort the read.
//
// The returned unlocks list the key that opened each DataSector, in sector order.
func Read(ctx context.Context, tag Tag, bundle *keys.KeyBundle) (*card.SectorMemory, []Unlock, error) {
	count := tag.SectorCount()
	sectors := make([]card.Sector, 0, count)
	var unlocks []Unlock

	for i := range count {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		key, ok, err := AuthenticateSector(tag, i, bundle)
		if err != nil {
			if fatal(err) {
				return nil, nil, fmt.Errorf("sector %d: %w", i, err)
			}
			sectors = append(sectors, card.InvalidSector{Index: i, Err: err.Error()})
			continue
		}
		if !ok {
			sectors = append(sectors, card.UnauthorizedSector{Index: i})
			continue
		}

		blocks, err := readBlocks(tag, i)
		if err != nil {
			if fatal(err) {
				return nil, nil, fmt.Errorf("sector %d: %w", i, err)
			}
			sectors = append(sectors, card.InvalidSector{Index: i, Err: err.Error()})
			continue
		}
		sectors = append(sectors, card.DataSector{Index: i, Blocks: blocks})
		unlocks = append(unlocks, Unlock{Sector: i, Key: key})
	}

	return &card.SectorMemory{Sectors: sectors}, unlocks, nil
}

func readBlocks(tag Tag, sector int) ([]card.Block, error) {
	n := tag.BlockCount(sector)
	blocks := make([]card.Block, 0, n)
	for b := range n {
		data, err := tag.ReadBlock(sector, b)
		if err != nil {
			return nil, fmt.Errorf("read block %d: %w", b, err)
		}
		blocks = append(blocks, card.Block{Index: b, Data: append([]byte(nil), data...)})
	}
	return blocks, nil
}

func fatal(err error) bool {
	return errors.Is(err, iso7816.ErrTagLost) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
