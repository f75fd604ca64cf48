package discovery

import (
	"context"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout bounds how long Browse waits for entries when the
// caller's context carries no deadline.
const DefaultBrowseTimeout = 10 * time.Second

// DiscoveredPeer is a sync service found on the local network.
type DiscoveredPeer struct {
	Address     net.IP
	Port        int
	DeviceName  string
	Fingerprint string
}

// PreferredAddress returns the most usable address.
func (p DiscoveredPeer) PreferredAddress() net.IP { return p.Address }

// MDNSResolver is the interface for mDNS browsing. Production code uses
// zeroconfResolver; tests inject a fake.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying resolver implementation. If nil, the
	// zeroconf-backed production resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds Browse calls whose context has no deadline.
	BrowseTimeout time.Duration
}

// Resolver browses for aurus-sync services on the local network.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver constructs a Resolver from config.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	return &Resolver{config: config, resolver: resolver}, nil
}

// Browse returns a channel of discovered peers, closed when ctx is done
// or the browse timeout (applied if ctx carries no deadline) elapses.
func (r *Resolver) Browse(ctx context.Context) (<-chan DiscoveredPeer, error) {
	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	results := make(chan DiscoveredPeer)
	entries := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(results)
		defer cancel()
		go r.resolver.Browse(ctx, ServiceType, DefaultDomain, entries)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				peer, ok := entryToPeer(entry)
				if !ok {
					continue
				}
				select {
				case results <- peer:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// FindByFingerprint browses until a peer advertising fingerprint appears
// or ctx is done.
func (r *Resolver) FindByFingerprint(ctx context.Context, fingerprint string) (*DiscoveredPeer, error) {
	peers, err := r.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case peer, ok := <-peers:
			if !ok {
				if ctx.Err() == context.DeadlineExceeded {
					return nil, ErrTimeout
				}
				return nil, ErrServiceNotFound
			}
			if peer.Fingerprint == fingerprint {
				return &peer, nil
			}
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

func entryToPeer(entry *zeroconf.ServiceEntry) (DiscoveredPeer, bool) {
	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv4...)
	allIPs = append(allIPs, entry.AddrIPv6...)
	sorted := SortIPsByPreference(allIPs)
	if len(sorted) == 0 {
		return DiscoveredPeer{}, false
	}

	rec := DecodeTXT(ParseTXT(entry.Text))
	return DiscoveredPeer{
		Address:     sorted[0],
		Port:        entry.Port,
		DeviceName:  rec.Device,
		Fingerprint: rec.Fingerprint,
	}, true
}
