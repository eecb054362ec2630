// Package connectivity answers one advisory question for the
// orchestrators: does the device look online right now? The answer gates
// refresh decisions only; actual remote calls carry their own timeouts and
// treat the oracle as a hint, never a guarantee.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Oracle reports reachability. Implementations must be cheap enough to
// call before every refresh decision.
type Oracle interface {
	Online(ctx context.Context) bool
}

// Prober is the production oracle: a bounded TCP dial against a
// well-known endpoint. No payload is sent; a completed handshake counts as
// online.
type Prober struct {
	addr    string
	timeout time.Duration
}

// NewProber builds a dial probe. addr is host:port, e.g. "1.1.1.1:443".
func NewProber(addr string, timeout time.Duration) *Prober {
	return &Prober{addr: addr, timeout: timeout}
}

// Online dials the probe endpoint within the configured timeout.
func (p *Prober) Online(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Static is a settable oracle for tests and forced-offline scenarios.
type Static struct {
	mu     sync.Mutex
	online bool
}

// NewStatic returns a Static oracle with the given initial state.
func NewStatic(online bool) *Static { return &Static{online: online} }

// Online reports the current state.
func (s *Static) Online(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set flips the state.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// Monitor polls an oracle and notifies subscribers on offline-to-online
// transitions. Notifications are delivered best-effort: a subscriber that
// has not drained its channel simply misses the edge, it still sees the
// next one.
type Monitor struct {
	oracle   Oracle
	interval time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	subs []chan struct{}
	last bool
}

// NewMonitor builds a monitor polling every interval.
func NewMonitor(oracle Oracle, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{oracle: oracle, interval: interval, log: log}
}

// Subscribe returns a channel that receives one token per
// offline-to-online edge observed after the call.
func (m *Monitor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run polls until ctx is done. It is typically started once from main.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.last = m.oracle.Online(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	now := m.oracle.Online(ctx)
	m.mu.Lock()
	was := m.last
	m.last = now
	var subs []chan struct{}
	if now && !was {
		subs = append(subs, m.subs...)
	}
	m.mu.Unlock()

	if now != was {
		m.log.Info().Bool("online", now).Msg("connectivity changed")
	}
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
