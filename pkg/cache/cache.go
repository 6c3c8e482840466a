package cache

import (
	"sync"

	"github.com/tachtalk/tachtalk/pkg/clock"
	"github.com/tachtalk/tachtalk/pkg/elm327"
)

// Maintenance/scheduling constants, grounded on tachtalk-firmware/src/obd2.rs.
// Promotion/demotion thresholds aren't externally configurable in the
// original; kept as constants here too (flagged for future configuration).
const (
	MaintenanceIntervalMS = 2000
	DemotionThresholdMS   = 3000
	PromotionThresholdMS  = 1000
	RemovalThresholdMS    = 30000
	FastSlowRatio         = 6

	// RPMPid is always pinned in the fast queue and is the only PID polled
	// before any client has made a request.
	RPMPid = "010C"
)

// LookupStatus is the result kind of a cache Lookup.
type LookupStatus int

const (
	// StatusHit means cache held a response; it is returned verbatim.
	StatusHit LookupStatus = iota
	// StatusMiss means the PID isn't cached and isn't known unsupported;
	// the caller must forward the request to the dongle.
	StatusMiss
	// StatusUnsupported means the supported-PIDs cache proves the ECU
	// doesn't support this PID; the caller should synthesize "NO DATA"
	// without any dongle traffic.
	StatusUnsupported
)

// Cache holds the canonical-command response cache, the fast/slow polling
// queues, and the supported-PIDs probe results, all guarded by one mutex —
// promotion/demotion/removal and lookups are observationally atomic.
type Cache struct {
	mu sync.Mutex

	clock clock.Clock

	entries            map[string]CachedResponse
	expectedResponses  map[string]uint8
	fast               *orderedSet
	slow               *orderedSet
	lastAccessed       map[string]int64
	slowTickCounter    uint32
	supported          *SupportedPIDs
}

// NewCache returns an empty cache with 010C pre-seeded into the fast queue
// (it's always polled, client or no).
func NewCache(c clock.Clock) *Cache {
	cache := &Cache{
		clock:             c,
		entries:           make(map[string]CachedResponse),
		expectedResponses: make(map[string]uint8),
		fast:              newOrderedSet(),
		slow:              newOrderedSet(),
		lastAccessed:      make(map[string]int64),
		supported:         NewSupportedPIDs(),
	}
	cache.fast.Add(RPMPid)
	return cache
}

// Supported exposes the supported-PIDs cache for the dongle connection to
// populate during its post-connect probe, and for reset on disconnect.
func (c *Cache) Supported() *SupportedPIDs {
	return c.supported
}

// isMode01SingleByte reports whether cmd looks like a mode-01 request with
// a single PID byte ("01xx"), the only shape the supported-PIDs cache can
// adjudicate.
func isMode01SingleByte(cmd string) (pid byte, ok bool) {
	if len(cmd) != 4 || cmd[0] != '0' || cmd[1] != '1' {
		return 0, false
	}
	hi, ok1 := hexNibble(cmd[2])
	lo, ok2 := hexNibble(cmd[3])
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi<<4 | lo, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

// Lookup canonicalizes cmd and returns its cached response, if any. A
// mode-01 PID the supported-PIDs cache proves unsupported is reported as
// StatusUnsupported without touching the entry map.
func (c *Cache) Lookup(cmd string) (CachedResponse, LookupStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	canon := canonicalize(cmd)

	if pid, ok := isMode01SingleByte(canon); ok && c.supported.IsKnownUnsupported(pid) {
		return nil, StatusUnsupported
	}

	if resp, ok := c.entries[canon]; ok {
		return resp, StatusHit
	}
	return nil, StatusMiss
}

// Touch marks canon as freshly accessed by a client, enqueuing it into the
// fast queue if it isn't tracked yet (new PIDs always enter fast).
func (c *Cache) Touch(cmd string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	canon := canonicalize(cmd)
	now := c.clock.NowMS()
	c.lastAccessed[canon] = now

	if !c.fast.Has(canon) && !c.slow.Has(canon) {
		c.fast.Add(canon)
	}
}

// Update records a fresh dongle response for cmd: stores the parsed cached
// response and, on the PID's first ever response, its expected ECU count.
func (c *Cache) Update(cmd string, raw []byte) CachedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	canon := canonicalize(cmd)
	parsed := ParseResponseLines(raw)
	c.entries[canon] = parsed

	if _, seen := c.expectedResponses[canon]; !seen {
		n := CountResponseHeaders(raw)
		if n == 0 {
			n = len(parsed)
		}
		if n > 255 {
			n = 255
		}
		c.expectedResponses[canon] = uint8(n)
	}
	return parsed
}

// ExpectedResponses returns the inferred ECU-reply count for canon, and
// whether any response has been observed yet.
func (c *Cache) ExpectedResponses(cmd string) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.expectedResponses[canonicalize(cmd)]
	return n, ok
}

// PollPlan is one round's ordered list of canonical commands to poll,
// derived from the fast/slow queues per spec §4.5's poll loop.
func (c *Cache) PollPlan() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slowTickCounter++

	if c.fast.Len() == 0 {
		return []string{RPMPid}
	}

	plan := c.fast.Items()
	if c.slowTickCounter%FastSlowRatio == 0 {
		plan = append(plan, c.slow.Items()...)
	}
	return plan
}

// Maintain runs one promotion/demotion/removal pass. Called on a
// MaintenanceIntervalMS tick.
func (c *Cache) Maintain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.NowMS()

	for _, cmd := range c.fast.Items() {
		if cmd == RPMPid {
			continue
		}
		last, ok := c.lastAccessed[cmd]
		if ok && now-last > DemotionThresholdMS {
			c.fast.Remove(cmd)
			c.slow.Add(cmd)
		}
	}

	for _, cmd := range c.slow.Items() {
		last, ok := c.lastAccessed[cmd]
		if !ok {
			continue
		}
		switch {
		case now-last <= PromotionThresholdMS:
			c.slow.Remove(cmd)
			c.fast.Add(cmd)
		case now-last > RemovalThresholdMS:
			c.slow.Remove(cmd)
			delete(c.lastAccessed, cmd)
			delete(c.entries, cmd)
			delete(c.expectedResponses, cmd)
		}
	}
}

// QueueDepths returns the current fast/slow queue lengths, for the
// Prometheus gauges wired in pkg/metrics.
func (c *Cache) QueueDepths() (fast, slow int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fast.Len(), c.slow.Len()
}

// ResetSupported clears the supported-PIDs cache under the cache mutex.
// The dongle connection does not call it: it resets the cache returned by
// Supported directly on disconnect.
func (c *Cache) ResetSupported() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supported.Reset()
}

func canonicalize(cmd string) string {
	return elm327.Canonicalize(cmd)
}
