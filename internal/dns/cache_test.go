package dns

import (
	"testing"
	"time"

	"github.com/kalamay/crux/clock"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aMsg(name string, ttl uint32) *dns.Msg {
	m := new(dns.Msg)
	m.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   []byte{127, 0, 0, 1},
	}}
	return m
}

func TestCacheInsertAndGet(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)

	c.Insert(aMsg("example.com.", 60))
	rr, ok := c.Get("example.com.", dns.TypeA)
	require.True(t, ok)
	assert.Equal(t, "example.com.", rr.Header().Name)
	assert.Equal(t, 1, c.Count())
}

func TestCacheMiss(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)
	_, ok := c.Get("nowhere.invalid.", dns.TypeA)
	assert.False(t, ok)
}

// TestCacheTTLExpiry checks that a 1s-TTL record is present
// immediately after insert and absent (with the live count
// decremented) once the fake clock advances past its TTL.
func TestCacheTTLExpiry(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)
	// the RR header's TTL is whole seconds per RFC-1035; a 1s TTL
	// stands in for the spec's 10ms-TTL/11ms-advance shape at this
	// package's coarser time resolution.
	c.Insert(aMsg("scenario7.example.com.", 1))

	_, ok := c.Get("scenario7.example.com.", dns.TypeA)
	require.True(t, ok)
	before := c.Count()

	clk.Advance(1100 * time.Millisecond)
	_, ok = c.Get("scenario7.example.com.", dns.TypeA)
	assert.False(t, ok)
	assert.Equal(t, before-1, c.Count())
}

func TestCacheExpiry(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)
	c.Insert(aMsg("ttl.example.com.", 5))

	clk.Advance(4 * time.Second)
	_, ok := c.Get("ttl.example.com.", dns.TypeA)
	assert.True(t, ok, "entry should still be live just under its TTL")

	clk.Advance(2 * time.Second)
	_, ok = c.Get("ttl.example.com.", dns.TypeA)
	assert.False(t, ok, "entry should be expired and opportunistically evicted")
	assert.Equal(t, 0, c.Count())
}

func TestCacheInsertReplacesOlderEntry(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)
	c.Insert(aMsg("dup.example.com.", 30))
	c.Insert(aMsg("dup.example.com.", 90))

	assert.Equal(t, 1, c.Count())
	rr, ok := c.Get("dup.example.com.", dns.TypeA)
	require.True(t, ok)
	assert.Equal(t, uint32(90), rr.Header().Ttl)
}

func TestCacheInsertAllSections(t *testing.T) {
	clk := clock.NewFake()
	c := NewCache(clk)

	m := new(dns.Msg)
	m.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "ans.example.com.", Rrtype: dns.TypeA, Ttl: 30}, A: []byte{1, 1, 1, 1}}}
	m.Ns = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "ns.example.com.", Rrtype: dns.TypeA, Ttl: 30}, A: []byte{2, 2, 2, 2}}}
	m.Extra = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "extra.example.com.", Rrtype: dns.TypeA, Ttl: 30}, A: []byte{3, 3, 3, 3}}}
	c.Insert(m)

	assert.Equal(t, 3, c.Count())
	for _, name := range []string{"ans.example.com.", "ns.example.com.", "extra.example.com."} {
		_, ok := c.Get(name, dns.TypeA)
		assert.True(t, ok, "expected %s cached", name)
	}
}
