// Package demux implements the address-keyed multi-session demultiplexer
// contract named in spec.md §6: routing inbound datagrams to the right
// per-peer Channel, draining outbound frames, and sweeping idle channels
// (spec.md §9 supplemented feature). It owns the concurrency model spec.md
// §5 describes but leaves to the demultiplexer: a map-level RWMutex plus a
// per-entry Mutex around each Channel.
package demux

import (
	"sync"
	"time"

	"github.com/duskrelay/soegateway/internal/channel"
	"github.com/duskrelay/soegateway/internal/wire"
	"github.com/duskrelay/soegateway/pkg/logger"
	"github.com/pkg/errors"
)

// entry pairs one peer's Channel with the mutex that serializes access to
// it (spec.md §5: a Channel is not internally thread-safe).
type entry struct {
	mu      sync.Mutex
	channel *channel.Channel
}

// Manager is the address-keyed demultiplexer.
type Manager struct {
	mu           sync.RWMutex
	channels     map[string]*entry
	bufferSize   uint32
	recencyLimit uint16
	events       *EventManager
}

// NewManager creates a Manager. bufferSize and recencyLimit seed every new
// Channel (spec.md §3); bufferSize is subsequently renegotiated per-channel
// by SessionRequest handling.
func NewManager(bufferSize uint32, recencyLimit uint16) *Manager {
	return &Manager{
		channels:     make(map[string]*entry),
		bufferSize:   bufferSize,
		recencyLimit: recencyLimit,
		events:       NewEventManager(),
	}
}

// Events returns the Manager's lifecycle event bus, for registering
// handlers (metrics, logging, application-level session tracking).
func (m *Manager) Events() *EventManager {
	return m.events
}

func (m *Manager) getOrCreate(addr string) *entry {
	m.mu.RLock()
	e, ok := m.channels[addr]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.channels[addr]; ok {
		return e
	}
	e = &entry{channel: channel.New(m.bufferSize, m.recencyLimit)}
	m.channels[addr] = e
	return e
}

// HandleDatagram routes one inbound UDP datagram to its peer's Channel,
// runs it through process_next, and returns the application payloads ready
// for delivery. Per-packet decode errors are logged at debug level and not
// returned; a non-nil error here means the channel hit a fatal condition
// and has been torn down.
func (m *Manager) HandleDatagram(addr string, data []byte) ([][]byte, error) {
	e := m.getOrCreate(addr)

	e.mu.Lock()
	wasEstablished := e.channel.Session() != nil
	_, decodeErrs := e.channel.Receive(data)
	for _, de := range decodeErrs {
		logger.Debug("unable to process packet from %s: %v", addr, de)
	}
	delivered, err := e.channel.ProcessNext(64)
	disconnected := e.channel.Disconnected()
	nowEstablished := e.channel.Session() != nil
	e.mu.Unlock()

	if err != nil {
		m.closeChannel(addr, wire.ReasonCorruptPacket)
		return delivered, err
	}
	if !wasEstablished && nowEstablished {
		m.events.Trigger(Event{Type: EventChannelEstablished, Addr: addr, Timestamp: time.Now()})
	}
	if disconnected {
		m.closeChannel(addr, wire.ReasonOtherSideTerminated)
	}
	return delivered, nil
}

// SendData enqueues an application payload for delivery to addr's channel.
// It is a no-op if no channel exists yet for that address.
func (m *Manager) SendData(addr string, payload []byte) {
	m.mu.RLock()
	e, ok := m.channels[addr]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.channel.SendData(payload)
	e.mu.Unlock()
}

// Tick drains up to maxPerChannel queued packets from every channel's send
// queue, coalesced into ready-to-send datagram frames, keyed by address.
func (m *Manager) Tick(maxPerChannel int) map[string][][]byte {
	m.mu.RLock()
	addrs := make([]string, 0, len(m.channels))
	entries := make([]*entry, 0, len(m.channels))
	for addr, e := range m.channels {
		addrs = append(addrs, addr)
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make(map[string][][]byte, len(addrs))
	for i, addr := range addrs {
		e := entries[i]
		e.mu.Lock()
		frames := e.channel.SendNext(maxPerChannel)
		e.mu.Unlock()
		if len(frames) > 0 {
			out[addr] = frames
		}
	}
	return out
}

// Remap moves a channel from oldAddr to newAddr (spec.md §9(c):
// RemapConnection is a Channel-level passthrough whose actual effect is
// this demultiplexer-level address reassignment).
func (m *Manager) Remap(oldAddr, newAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.channels[oldAddr]
	if !ok {
		return errors.Errorf("demux: no channel for %s", oldAddr)
	}
	delete(m.channels, oldAddr)
	m.channels[newAddr] = e
	return nil
}

// SweepIdle tears down every channel whose last activity is older than
// maxIdle, emitting EventChannelTimedOut for each (SPEC_FULL.md supplemented
// feature: the Rust original's ChannelManager owns channel lifetime, but
// timeout policy belongs to the demultiplexer, not the Channel itself).
func (m *Manager) SweepIdle(maxIdle time.Duration) {
	m.mu.RLock()
	type snapshot struct {
		addr string
		e    *entry
	}
	snaps := make([]snapshot, 0, len(m.channels))
	for addr, e := range m.channels {
		snaps = append(snaps, snapshot{addr, e})
	}
	m.mu.RUnlock()

	now := time.Now()
	var stale []string
	for _, s := range snaps {
		s.e.mu.Lock()
		idle := now.Sub(s.e.channel.LastActivity())
		s.e.mu.Unlock()
		if idle > maxIdle {
			stale = append(stale, s.addr)
		}
	}
	if len(stale) == 0 {
		return
	}

	m.mu.Lock()
	for _, addr := range stale {
		delete(m.channels, addr)
	}
	m.mu.Unlock()

	for _, addr := range stale {
		m.events.Trigger(Event{Type: EventChannelTimedOut, Addr: addr, Timestamp: now})
	}
}

// closeChannel removes addr's channel and emits EventChannelClosed.
func (m *Manager) closeChannel(addr string, reason wire.DisconnectReason) {
	m.mu.Lock()
	_, existed := m.channels[addr]
	delete(m.channels, addr)
	m.mu.Unlock()
	if existed {
		m.events.Trigger(Event{Type: EventChannelClosed, Addr: addr, Reason: reason, Timestamp: time.Now()})
	}
}

// Count returns the number of live channels, for metrics/tests.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}
