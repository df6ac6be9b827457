package felica

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/iso7816"
)

// maxBlocks bounds the block walk of a single service.
const maxBlocks = 0x10000

// Read polls the card, then walks every system and service and reads each service
// from address 0 until the card signals the end. Services without blocks are dropped.
//
// Link failures and cancellation abort. A system that cannot be selected or listed is
// kept without services; a service whose read fails keeps the blocks read so far.
func Read(ctx context.Context, link iso7816.Transmitter) (*card.PollingService, error) {
	p := NewProtocol(link)

	idm, pmm, err := p.Poll(WildcardSystem)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	out := &card.PollingService{IDm: idm, PMm: pmm}

	codes, err := p.SystemCodes()
	if err != nil {
		if fatal(err) {
			return nil, fmt.Errorf("request system codes: %w", err)
		}
		codes = nil
	}

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sys, err := readSystem(ctx, p, code)
		if err != nil {
			return nil, fmt.Errorf("system %04X: %w", code, err)
		}
		out.Systems = append(out.Systems, sys)
	}
	return out, nil
}

func readSystem(ctx context.Context, p *Protocol, code uint16) (card.System, error) {
	sys := card.System{Code: code}

	if _, _, err := p.Poll(code); err != nil {
		if fatal(err) {
			return sys, err
		}
		return sys, nil
	}

	services, err := p.ServiceCodes()
	if err != nil {
		if fatal(err) {
			return sys, err
		}
		return sys, nil
	}

	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			return sys, err
		}
		blocks, err := readService(p, svc)
		if err != nil {
			return sys, fmt.Errorf("service %04X: %w", svc, err)
		}
		if len(blocks) > 0 {
			sys.Services = append(sys.Services, card.Service{Code: svc, Blocks: blocks})
		}
	}
	return sys, nil
}

func readService(p *Protocol, svc uint16) ([]card.ServiceBlock, error) {
	var blocks []card.ServiceBlock
	for addr := 0; addr < maxBlocks; addr++ {
		data, ok, err := p.ReadBlock(svc, uint16(addr))
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			break
		}
		if !ok {
			break
		}
		blocks = append(blocks, card.ServiceBlock{Address: uint16(addr), Data: data})
	}
	return blocks, nil
}

func fatal(err error) bool {
	return iso7816.IsTransport(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
