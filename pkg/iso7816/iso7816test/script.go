// Package iso7816test provides a scripted Transmitter for driver tests.
package iso7816test

import (
	"bytes"
	"fmt"
	"sync"
)

// Exchange is one expected request and the canned answer to it.
// A nil Request matches anything. A non-nil Err is returned instead of Response.
type Exchange struct {
	Request  []byte
	Response []byte
	Err      error
}

// Script replays Exchanges in order and records what it was sent.
// Unexpected or surplus requests fail with an error naming the mismatch,
// which the driver under test will surface.
type Script struct {
	mu        sync.Mutex
	exchanges []Exchange
	sent      [][]byte
}

// NewScript builds a Script from exchanges.
func NewScript(exchanges ...Exchange) *Script {
	return &Script{exchanges: exchanges}
}

// Transmit implements iso7816.Transmitter.
func (s *Script) Transmit(cmd []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, append([]byte(nil), cmd...))

	if len(s.exchanges) == 0 {
		return nil, fmt.Errorf("script exhausted, unexpected request %X", cmd)
	}
	next := s.exchanges[0]
	s.exchanges = s.exchanges[1:]

	if next.Request != nil && !bytes.Equal(next.Request, cmd) {
		return nil, fmt.Errorf("request mismatch: got %X, want %X", cmd, next.Request)
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Response, nil
}

// Sent returns a copy of every frame transmitted so far.
func (s *Script) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Remaining reports how many scripted exchanges were never consumed.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exchanges)
}
