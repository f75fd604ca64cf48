// Package discovery implements mDNS advertisement and browsing so a
// session creator can be found by a joiner on the same local network
// without exchanging an IP address out of band. This generalizes
// backkem/matter's pkg/discovery (which advertises Matter's
// commissionable/operational/commissioner DNS-SD services) down to the
// single aurus-sync service type, keeping the same
// MDNSServer/MDNSServerFactory dependency-injection seam so tests never
// touch a real network.
package discovery

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// ServiceType is the DNS-SD service advertised by a session creator.
const ServiceType = "_aurus-sync._tcp"

// DefaultDomain is the mDNS domain used for advertising and browsing.
const DefaultDomain = "local."

// MDNSServer is the interface for an active mDNS service registration.
type MDNSServer interface {
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances. Production code uses
// zeroconfServerFactory; tests inject a fake.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig configures Announce.
type AdvertiserConfig struct {
	// Interfaces restricts advertising to specific network interfaces.
	// If nil, all interfaces are used.
	Interfaces []net.Interface

	// ServerFactory is the factory used to register the mDNS service.
	// If nil, the zeroconf-backed production factory is used.
	ServerFactory MDNSServerFactory

	// LoggerFactory builds the advertiser's logger. If nil, events are not logged.
	LoggerFactory logging.LoggerFactory
}

// Advertiser announces this device as a sync session creator.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	server MDNSServer
}

// NewAdvertiser constructs an Advertiser from config.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	a := &Advertiser{config: config, factory: config.ServerFactory}
	if a.factory == nil {
		a.factory = zeroconfServerFactory{}
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery-advertiser")
	}
	return a
}

// Announce registers the mDNS service for a listening creator. deviceName
// is shown to joiners browsing the network; fingerprint lets a joiner
// confirm it found the right session before connecting.
func (a *Advertiser) Announce(port int, deviceName, fingerprint string) error {
	if a.server != nil {
		return ErrAlreadyStarted
	}
	if deviceName == "" {
		return ErrInvalidDeviceName
	}
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}

	instance := "aurus-" + uuid.NewString()[:8]
	txt := EncodeTXT(TXTRecord{
		Device:      deviceName,
		Fingerprint: fingerprint,
		Version:     "1",
	})

	server, err := a.factory.Register(instance, ServiceType, DefaultDomain, port, txt, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: mdns register failed: %w", err)
	}
	a.server = server

	if a.log != nil {
		a.log.Infof("announced %s on port %d as %s", ServiceType, port, instance)
	}
	return nil
}

// Unannounce withdraws the service registration. Safe to call even if
// Announce was never called or already undone.
func (a *Advertiser) Unannounce() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	if a.log != nil {
		a.log.Info("unannounced sync service")
	}
}
