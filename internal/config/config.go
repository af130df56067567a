// Package config holds the runtime settings for the relay. Settings live in
// memory only; everything is supplied by flags or changed over the control
// API, nothing is persisted between runs.
package config

import (
	"fmt"
	"sync"
)

// Default wire endpoints. Both ends must agree on these unless overridden on
// both sides.
const (
	DefaultDataPort      = 65432
	DefaultDiscoveryPort = 65433
	DefaultHotkey        = "ctrl+alt+z"
	DefaultAPIAddr       = "127.0.0.1:8765"
)

// Settings is the mutable runtime configuration shared between the CLI, the
// relay and the control API.
type Settings struct {
	mu sync.RWMutex

	dataPort      int
	discoveryPort int
	hotkey        string
	apiAddr       string
}

// New returns settings populated with the defaults.
func New() *Settings {
	return &Settings{
		dataPort:      DefaultDataPort,
		discoveryPort: DefaultDiscoveryPort,
		hotkey:        DefaultHotkey,
		apiAddr:       DefaultAPIAddr,
	}
}

func (s *Settings) DataPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataPort
}

func (s *Settings) DiscoveryPort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discoveryPort
}

func (s *Settings) Hotkey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hotkey
}

func (s *Settings) APIAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiAddr
}

// SetPorts validates and applies the wire endpoints. Ports are set once at
// startup, before anything listens.
func (s *Settings) SetPorts(data, discovery int) error {
	if err := validPort(data); err != nil {
		return fmt.Errorf("data port: %w", err)
	}
	if err := validPort(discovery); err != nil {
		return fmt.Errorf("discovery port: %w", err)
	}
	if data == discovery {
		return fmt.Errorf("data and discovery ports must differ, both are %d", data)
	}

	s.mu.Lock()
	s.dataPort = data
	s.discoveryPort = discovery
	s.mu.Unlock()
	return nil
}

// SetHotkey stores the hotkey string. Parsing happens in the control
// package; callers validate before storing.
func (s *Settings) SetHotkey(hotkey string) {
	s.mu.Lock()
	s.hotkey = hotkey
	s.mu.Unlock()
}

func (s *Settings) SetAPIAddr(addr string) {
	s.mu.Lock()
	s.apiAddr = addr
	s.mu.Unlock()
}

func validPort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("%d out of range", p)
	}
	return nil
}
