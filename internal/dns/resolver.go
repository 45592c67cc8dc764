package dns

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/clock"
	"github.com/kalamay/crux/internal/metrics"
	"github.com/miekg/dns"
)

// ResolverConfig configures the stateless query engine, matching the
// fields of the original C source's xresolv_config (timeout,
// attempts, rotate) plus an explicit SRV recursion depth bound the C
// source left implicit.
type ResolverConfig struct {
	Servers     []string
	Attempts    int
	Timeout     time.Duration
	Rotate      bool
	MaxSRVDepth int
}

// DefaultResolverConfig returns the spec's documented defaults: three
// attempts, a two-second per-attempt timeout, and a SRV/CNAME
// recursion bound of four.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Attempts:    3,
		Timeout:     2 * time.Second,
		MaxSRVDepth: 4,
	}
}

// Result is one flattened, resolved address: an A/AAAA answer, or an
// A/AAAA answer reached by following a CNAME or SRV chain, carrying
// along whatever SRV priority/weight/port applied at the point of
// recursion.
type Result struct {
	Name     string
	Addr     net.IP
	TTL      time.Duration
	Priority uint16
	Weight   uint16
	Port     uint16
}

// transport sends a query message to a server and returns the parsed
// reply. The real implementation dials a UDP socket per call; tests
// substitute a fake to exercise retry and recursion behavior without
// a network.
type transport interface {
	exchange(msg *dns.Msg, server string) (*dns.Msg, error)
}

// Resolver is a stateless UDP query engine over a pool of servers,
// grounded on the original C source's retry/rotate send loop and on
// a sibling repo's shuffle-for-round-robin server selection.
type Resolver struct {
	cfg     ResolverConfig
	cache   *Cache
	clock   clock.Clock
	metrics *metrics.Resolver
	tr      transport
	next    atomic.Uint64
}

// NewResolver constructs a Resolver querying cfg.Servers, caching
// answers in cache.
func NewResolver(cfg ResolverConfig, cache *Cache, clk clock.Clock) *Resolver {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.MaxSRVDepth < 1 {
		cfg.MaxSRVDepth = 4
	}
	return &Resolver{cfg: cfg, cache: cache, clock: clk, tr: udpTransport{timeout: cfg.Timeout}}
}

// SetMetrics attaches a counter sink.
func (r *Resolver) SetMetrics(m *metrics.Resolver) { r.metrics = m }

// Resolve queries name for any record type and flattens the answer
// into a list of addresses, recursing through CNAME and SRV chains up
// to ResolverConfig.MaxSRVDepth, then sorting the result by SRV
// priority (ties keep discovery order).
func (r *Resolver) Resolve(name string) ([]Result, error) {
	results, err := r.resolve(name, dns.TypeANY, 0)
	if err != nil {
		return nil, err
	}
	sortByPriority(results)
	return results, nil
}

func (r *Resolver) resolve(name string, qtype uint16, depth int) ([]Result, error) {
	if depth > r.cfg.MaxSRVDepth {
		if r.metrics != nil {
			r.metrics.SRVDepthHit.Add(1)
		}
		return nil, crux.NewAddrError("dns.resolve", "recursion depth exceeded MaxSRVDepth")
	}

	resp, err := r.query(name, qtype)
	if err != nil {
		return nil, err
	}
	r.cache.Insert(resp)

	var results []Result
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			results = append(results, Result{Name: rec.Hdr.Name, Addr: rec.A, TTL: ttlOf(rec.Hdr)})
		case *dns.AAAA:
			results = append(results, Result{Name: rec.Hdr.Name, Addr: rec.AAAA, TTL: ttlOf(rec.Hdr)})
		case *dns.CNAME:
			sub, err := r.resolve(rec.Target, qtype, depth+1)
			if err != nil {
				return nil, err
			}
			results = append(results, sub...)
		case *dns.SRV:
			sub, err := r.resolveAddr(rec.Target, depth+1)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				s.Priority = rec.Priority
				s.Weight = rec.Weight
				s.Port = rec.Port
				results = append(results, s)
			}
		}
	}
	return results, nil
}

// resolveAddr resolves name's A/AAAA addresses directly, consulting
// the cache first since SRV target resolution is the common
// recursive leaf and benefits most from avoiding a repeated wire
// round trip.
func (r *Resolver) resolveAddr(name string, depth int) ([]Result, error) {
	if depth > r.cfg.MaxSRVDepth {
		if r.metrics != nil {
			r.metrics.SRVDepthHit.Add(1)
		}
		return nil, crux.NewAddrError("dns.resolveAddr", "recursion depth exceeded MaxSRVDepth")
	}
	fqdn := dns.Fqdn(name)
	if rr, ok := r.cache.Get(fqdn, dns.TypeA); ok {
		if r.metrics != nil {
			r.metrics.CacheHits.Add(1)
		}
		if a, ok := rr.(*dns.A); ok {
			return []Result{{Name: fqdn, Addr: a.A, TTL: ttlOf(a.Hdr)}}, nil
		}
	}
	if r.metrics != nil {
		r.metrics.CacheMisses.Add(1)
	}
	return r.resolve(name, dns.TypeA, depth)
}

func (r *Resolver) query(name string, qtype uint16) (*dns.Msg, error) {
	if len(r.cfg.Servers) == 0 {
		return nil, crux.NewAddrError("dns.query", "no servers configured")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Id = dns.Id()

	var lastErr error
	for attempt := 0; attempt < r.cfg.Attempts; attempt++ {
		if attempt > 0 && r.metrics != nil {
			r.metrics.Retries.Add(1)
		}
		resp, err := r.tr.exchange(msg, r.pickServer(attempt))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !crux.IsCategory(err, crux.CategoryTimedOut) {
			return nil, err
		}
	}
	return nil, lastErr
}

// pickServer implements the rotate-or-fixed server selection: with
// Rotate set, each call advances a shared counter (the Go analogue of
// resolver.go's math/rand shuffle, made deterministic and alloc-free
// for the hot path); without it, every attempt after the first simply
// walks the configured list in order.
func (r *Resolver) pickServer(attempt int) string {
	n := len(r.cfg.Servers)
	if !r.cfg.Rotate {
		return r.cfg.Servers[attempt%n]
	}
	idx := int(r.next.Add(1)-1) % n
	return r.cfg.Servers[idx]
}

// udpTransport is the real transport: a fresh UDP socket per call,
// bounded by a deadline. A bare Resolver is usable outside of any hub
// (e.g. from cmd/cruxd's "resolve" subcommand) since this dials a
// plain net.Conn rather than going through a hub-registered
// non-blocking socket; a query made from inside a hub task therefore
// blocks the hub's thread until the exchange completes or times out.
type udpTransport struct {
	timeout time.Duration
}

func (t udpTransport) exchange(msg *dns.Msg, server string) (*dns.Msg, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}

	packed, err := msg.Pack()
	if err != nil {
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}
	if _, err := conn.Write(packed); err != nil {
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, crux.NewTimeoutError("dns.exchange")
		}
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		return nil, crux.NewAddrError("dns.exchange", err.Error())
	}
	return resp, nil
}

func ttlOf(hdr dns.RR_Header) time.Duration {
	return time.Duration(hdr.Ttl) * time.Second
}

// sortByPriority orders SRV-derived results by ascending priority,
// stable so equal-priority entries (including plain A/AAAA answers,
// which carry the zero priority) keep discovery order.
func sortByPriority(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Priority < results[j-1].Priority; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
