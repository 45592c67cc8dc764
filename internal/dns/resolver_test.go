package dns

import (
	"testing"

	"github.com/kalamay/crux"
	"github.com/kalamay/crux/clock"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers a fixed script of responses per query name,
// standing in for the real UDP transport so retry/recursion behavior
// can be exercised without a network, mirroring the hub's hub_test.go
// preference for substituting a deterministic backend over mocking
// frameworks.
type fakeTransport struct {
	byName  map[string]*dns.Msg
	timeout map[string]int // remaining timeouts to return before answering
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{byName: map[string]*dns.Msg{}, timeout: map[string]int{}}
}

func (f *fakeTransport) exchange(msg *dns.Msg, server string) (*dns.Msg, error) {
	q := msg.Question[0].Name
	if n := f.timeout[q]; n > 0 {
		f.timeout[q] = n - 1
		return nil, crux.NewTimeoutError("dns.exchange")
	}
	resp, ok := f.byName[q]
	if !ok {
		return nil, crux.NewAddrError("dns.exchange", "nxdomain: "+q)
	}
	out := resp.Copy()
	out.Id = msg.Id
	return out, nil
}

func newTestResolver(tr transport) (*Resolver, *Cache) {
	cache := NewCache(clock.Monotonic())
	r := NewResolver(ResolverConfig{
		Servers:     []string{"127.0.0.1:53"},
		Attempts:    3,
		MaxSRVDepth: 4,
	}, cache, clock.Monotonic())
	r.tr = tr
	return r, cache
}

func aResponse(name string, ip [4]byte, ttl uint32) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip[:],
	}}
	return m
}

func TestResolverSimpleA(t *testing.T) {
	tr := newFakeTransport()
	tr.byName[dns.Fqdn("example.com")] = aResponse("example.com", [4]byte{93, 184, 216, 34}, 300)

	r, _ := newTestResolver(tr)
	results, err := r.Resolve("example.com")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "93.184.216.34", results[0].Addr.String())
}

func TestResolverRetriesOnTimeout(t *testing.T) {
	tr := newFakeTransport()
	tr.byName[dns.Fqdn("retry.example.com")] = aResponse("retry.example.com", [4]byte{1, 2, 3, 4}, 60)
	tr.timeout[dns.Fqdn("retry.example.com")] = 2 // first two attempts time out

	r, _ := newTestResolver(tr)
	results, err := r.Resolve("retry.example.com")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1.2.3.4", results[0].Addr.String())
}

func TestResolverExhaustsRetries(t *testing.T) {
	tr := newFakeTransport()
	tr.byName[dns.Fqdn("always-timeout.example.com")] = aResponse("always-timeout.example.com", [4]byte{1, 1, 1, 1}, 60)
	tr.timeout[dns.Fqdn("always-timeout.example.com")] = 99

	r, _ := newTestResolver(tr)
	_, err := r.Resolve("always-timeout.example.com")
	require.Error(t, err)
	assert.True(t, crux.IsCategory(err, crux.CategoryTimedOut))
}

func TestResolverFollowsCNAME(t *testing.T) {
	tr := newFakeTransport()
	alias := new(dns.Msg)
	alias.SetQuestion(dns.Fqdn("alias.example.com"), dns.TypeANY)
	alias.Answer = []dns.RR{&dns.CNAME{
		Hdr:    dns.RR_Header{Name: dns.Fqdn("alias.example.com"), Rrtype: dns.TypeCNAME, Ttl: 30},
		Target: dns.Fqdn("canonical.example.com"),
	}}
	tr.byName[dns.Fqdn("alias.example.com")] = alias
	tr.byName[dns.Fqdn("canonical.example.com")] = aResponse("canonical.example.com", [4]byte{5, 6, 7, 8}, 60)

	r, _ := newTestResolver(tr)
	results, err := r.Resolve("alias.example.com")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "5.6.7.8", results[0].Addr.String())
}

func TestResolverSRVSortsByPriority(t *testing.T) {
	tr := newFakeTransport()
	srv := new(dns.Msg)
	srv.SetQuestion(dns.Fqdn("_svc._tcp.example.com"), dns.TypeANY)
	srv.Answer = []dns.RR{
		&dns.SRV{Hdr: dns.RR_Header{Name: dns.Fqdn("_svc._tcp.example.com"), Rrtype: dns.TypeSRV, Ttl: 30},
			Priority: 10, Weight: 1, Port: 8080, Target: dns.Fqdn("b.example.com")},
		&dns.SRV{Hdr: dns.RR_Header{Name: dns.Fqdn("_svc._tcp.example.com"), Rrtype: dns.TypeSRV, Ttl: 30},
			Priority: 1, Weight: 1, Port: 8081, Target: dns.Fqdn("a.example.com")},
	}
	tr.byName[dns.Fqdn("_svc._tcp.example.com")] = srv
	tr.byName[dns.Fqdn("a.example.com")] = aResponse("a.example.com", [4]byte{10, 0, 0, 1}, 60)
	tr.byName[dns.Fqdn("b.example.com")] = aResponse("b.example.com", [4]byte{10, 0, 0, 2}, 60)

	r, _ := newTestResolver(tr)
	results, err := r.Resolve("_svc._tcp.example.com")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint16(1), results[0].Priority)
	assert.Equal(t, "10.0.0.1", results[0].Addr.String())
	assert.Equal(t, uint16(10), results[1].Priority)
	assert.Equal(t, "10.0.0.2", results[1].Addr.String())
}

// TestResolverSRVRecursionBound checks that a resolver pinned to
// MaxSRVDepth=1 against a transport that always answers a query with
// another SRV redirect fails with an Addr category error rather than
// recursing indefinitely.
func TestResolverSRVRecursionBound(t *testing.T) {
	tr := newFakeTransport()
	redirect := func(name string) *dns.Msg {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(name), dns.TypeANY)
		m.Answer = []dns.RR{&dns.SRV{
			Hdr:      dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeSRV, Ttl: 30},
			Priority: 1, Weight: 1, Port: 9999,
			Target: dns.Fqdn("next." + name),
		}}
		return m
	}
	// every name in the infinite redirect chain resolves to another
	// SRV one level deeper; the fake only ever needs to serve the
	// first couple of names since MaxSRVDepth=1 should abort early.
	tr.byName[dns.Fqdn("loop.example.com")] = redirect("loop.example.com")
	tr.byName[dns.Fqdn("next.loop.example.com")] = redirect("next.loop.example.com")

	cache := NewCache(clock.Monotonic())
	r := NewResolver(ResolverConfig{
		Servers:     []string{"127.0.0.1:53"},
		Attempts:    1,
		MaxSRVDepth: 1,
	}, cache, clock.Monotonic())
	r.tr = tr

	_, err := r.Resolve("loop.example.com")
	require.Error(t, err)
	assert.True(t, crux.IsCategory(err, crux.CategoryAddr))
}

func TestResolverNoServersConfigured(t *testing.T) {
	cache := NewCache(clock.Monotonic())
	r := NewResolver(ResolverConfig{}, cache, clock.Monotonic())
	r.tr = newFakeTransport()
	_, err := r.Resolve("example.com")
	require.Error(t, err)
	assert.True(t, crux.IsCategory(err, crux.CategoryAddr))
}

func TestResolverInsertsIntoCache(t *testing.T) {
	tr := newFakeTransport()
	tr.byName[dns.Fqdn("cached.example.com")] = aResponse("cached.example.com", [4]byte{9, 9, 9, 9}, 120)

	r, cache := newTestResolver(tr)
	_, err := r.Resolve("cached.example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Count())
}
