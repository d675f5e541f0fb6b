// Package session implements the server-side session table: a map from
// inner virtual IP to outer connection handle, expired under a hashed time
// wheel so that sweeps are amortized O(1) per live entry instead of
// scanning the whole table every tick.
package session

import (
	"errors"
	"net/netip"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a virtual IP with no live session.
var ErrNotFound = errors.New("session: not found")

// wheelSlots is the time wheel's bucket count (spec-fixed at 101, a prime
// chosen to spread expiries across slots regardless of TTL).
const wheelSlots = 101

const noHandle = -1

// entry is one session table row, stored in an arena and linked into
// exactly one time-wheel slot via prev/next handles (never raw pointers).
type entry struct {
	vip    netip.Addr
	conn   any
	expiry int64 // absolute unix seconds
	prev   int
	next   int
}

// Clock abstracts "now" so tests can drive expiry deterministically instead
// of sleeping for real TTLs.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Table is the process-wide session table: one coarse mutex serializes all
// operations (one writer per pipeline direction plus one sweeper is low
// enough contention that a single lock is the simplest correct design).
type Table struct {
	mu       sync.Mutex
	clock    Clock
	ttl      time.Duration
	byVIP    map[netip.Addr]int
	arena    []entry
	free     []int
	wheel    [wheelSlots]int // head handle per slot, or noHandle
	lastTick int64
	started  bool
}

// NewTable builds a session table with the given TTL.
func NewTable(ttl time.Duration) *Table {
	return NewTableWithClock(ttl, systemClock{})
}

// NewTableWithClock builds a session table using a caller-supplied clock,
// for deterministic tests.
func NewTableWithClock(ttl time.Duration, clock Clock) *Table {
	t := &Table{
		clock: clock,
		ttl:   ttl,
		byVIP: make(map[netip.Addr]int),
	}
	for i := range t.wheel {
		t.wheel[i] = noHandle
	}
	return t
}

func (t *Table) now() int64 { return t.clock.Now().Unix() }

func (t *Table) slot(expiry int64) int {
	s := expiry % wheelSlots
	if s < 0 {
		s += wheelSlots
	}
	return int(s)
}

func (t *Table) unlink(h int) {
	e := &t.arena[h]
	slot := t.slot(e.expiry)
	if e.prev == h {
		// sole entry in its slot
		t.wheel[slot] = noHandle
		return
	}
	t.arena[e.prev].next = e.next
	t.arena[e.next].prev = e.prev
	if t.wheel[slot] == h {
		t.wheel[slot] = e.next
	}
}

func (t *Table) linkInto(h int, expiry int64) {
	slot := t.slot(expiry)
	head := t.wheel[slot]
	e := &t.arena[h]
	e.expiry = expiry
	if head == noHandle {
		e.prev, e.next = h, h
		t.wheel[slot] = h
		return
	}
	tail := t.arena[head].prev
	e.prev = tail
	e.next = head
	t.arena[tail].next = h
	t.arena[head].prev = h
}

func (t *Table) alloc() int {
	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		return h
	}
	t.arena = append(t.arena, entry{})
	return len(t.arena) - 1
}

// Put inserts or refreshes the session for vip, binding it to conn with a
// fresh expiry of now+TTL.
func (t *Table) Put(vip netip.Addr, conn any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry := t.now() + int64(t.ttl/time.Second)

	if h, ok := t.byVIP[vip]; ok {
		t.unlink(h)
		t.arena[h].conn = conn
		t.linkInto(h, expiry)
		return
	}

	h := t.alloc()
	t.arena[h] = entry{vip: vip, conn: conn}
	t.linkInto(h, expiry)
	t.byVIP[vip] = h
}

// Get returns the live session's conn handle for vip, refreshing its
// expiry (touch-on-use), or ErrNotFound if absent.
func (t *Table) Get(vip netip.Addr) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byVIP[vip]
	if !ok {
		return nil, ErrNotFound
	}

	expiry := t.now() + int64(t.ttl/time.Second)
	t.unlink(h)
	t.linkInto(h, expiry)

	return t.arena[h].conn, nil
}

// Has reports whether vip has a live session, without refreshing it.
func (t *Table) Has(vip netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byVIP[vip]
	return ok
}

// Del removes vip's session immediately, if present.
func (t *Table) Del(vip netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byVIP[vip]
	if !ok {
		return
	}
	t.unlink(h)
	delete(t.byVIP, vip)
	t.arena[h] = entry{}
	t.free = append(t.free, h)
}

// Sweep advances the time wheel up to the current time in 1-second steps,
// evicting every entry whose expiry matches the tick being swept. Intended
// to be called roughly once per second by a dedicated goroutine.
func (t *Table) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.started {
		t.lastTick = now
		t.started = true
		return
	}

	for ; t.lastTick <= now; t.lastTick++ {
		slot := t.slot(t.lastTick)
		head := t.wheel[slot]
		if head == noHandle {
			continue
		}

		// Snapshot every handle in this slot before mutating anything:
		// unlinking nodes mid-walk would otherwise make it easy to skip or
		// revisit a node once the list shrinks.
		members := []int{head}
		for h := t.arena[head].next; h != head; h = t.arena[h].next {
			members = append(members, h)
		}

		for _, h := range members {
			if t.arena[h].expiry != t.lastTick {
				continue
			}
			vip := t.arena[h].vip
			t.unlink(h)
			delete(t.byVIP, vip)
			t.arena[h] = entry{}
			t.free = append(t.free, h)
		}
	}
}

// Len returns the number of live sessions, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byVIP)
}
