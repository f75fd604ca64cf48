package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/pion/logging"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Interfaces    []net.Interface
	ServerFactory MDNSServerFactory
	MDNSResolver  MDNSResolver
	LoggerFactory logging.LoggerFactory
}

// Manager coordinates announcing this device and browsing for peers
// during LAN pairing. A SessionController holds exactly one Manager for
// the lifetime of its process.
type Manager struct {
	advertiser *Advertiser
	resolver   *Resolver

	mu         sync.Mutex
	announcing bool
}

// NewManager constructs a Manager from config.
func NewManager(config ManagerConfig) (*Manager, error) {
	resolver, err := NewResolver(ResolverConfig{MDNSResolver: config.MDNSResolver})
	if err != nil {
		return nil, err
	}

	return &Manager{
		advertiser: NewAdvertiser(AdvertiserConfig{
			Interfaces:    config.Interfaces,
			ServerFactory: config.ServerFactory,
			LoggerFactory: config.LoggerFactory,
		}),
		resolver: resolver,
	}, nil
}

// Announce advertises this device as a session creator. A second call
// while already announcing returns ErrAlreadyStarted.
func (m *Manager) Announce(port int, deviceName, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.advertiser.Announce(port, deviceName, fingerprint); err != nil {
		return err
	}
	m.announcing = true
	return nil
}

// Unannounce withdraws the advertisement, if any.
func (m *Manager) Unannounce() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advertiser.Unannounce()
	m.announcing = false
}

// FindPeer browses for a session creator advertising fingerprint.
func (m *Manager) FindPeer(ctx context.Context, fingerprint string) (*DiscoveredPeer, error) {
	return m.resolver.FindByFingerprint(ctx, fingerprint)
}

// Close unannounces and releases resources.
func (m *Manager) Close() {
	m.Unannounce()
}
