package card

// ServiceBlock is one 16-byte FeliCa block and its address inside the service.
type ServiceBlock struct {
	Address uint16
	Data    [16]byte
}

// Service is a FeliCa service code with the blocks read from it in address order.
type Service struct {
	Code   uint16
	Blocks []ServiceBlock
}

// System is a FeliCa system code with its non-empty services.
type System struct {
	Code     uint16
	Services []Service
}

// Service looks up a service by code.
func (s System) Service(code uint16) (Service, bool) {
	for _, svc := range s.Services {
		if svc.Code == code {
			return svc, true
		}
	}
	return Service{}, false
}

// PollingService is the payload of a FeliCa card.
type PollingService struct {
	IDm     [8]byte
	PMm     [8]byte
	Systems []System
}

// System looks up a system by code.
func (p *PollingService) System(code uint16) (System, bool) {
	for _, s := range p.Systems {
		if s.Code == code {
			return s, true
		}
	}
	return System{}, false
}

func (*PollingService) Technology() Technology { return PollingServiceTechnology }
func (*PollingService) payload()               {}
