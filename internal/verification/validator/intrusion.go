package validator

import (
	"sync"
	"time"
)

// timestampCap bounds memory per issuer; the running count is unbounded.
const timestampCap = 100

// IntrusionEntry records repeated presentation attempts by one untrusted
// issuer.
type IntrusionEntry struct {
	Count      int         `json:"count"`
	Timestamps []time.Time `json:"timestamps"`
}

// IntrusionLog tracks presentations from issuers outside the trust list.
// Operational visibility only: an issuer added to the trust list later is
// never blocked by its history here.
type IntrusionLog struct {
	mu      sync.Mutex
	entries map[string]*IntrusionEntry
	now     func() time.Time
}

func NewIntrusionLog() *IntrusionLog {
	return &IntrusionLog{
		entries: make(map[string]*IntrusionEntry),
		now:     time.Now,
	}
}

// Record notes one blocked attempt and returns the running count for the
// issuer.
func (l *IntrusionLog) Record(issuerDID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[issuerDID]
	if !ok {
		entry = &IntrusionEntry{}
		l.entries[issuerDID] = entry
	}
	entry.Count++
	if len(entry.Timestamps) < timestampCap {
		entry.Timestamps = append(entry.Timestamps, l.now())
	}
	return entry.Count
}

// Snapshot returns a copy of the log keyed by issuer DID.
func (l *IntrusionLog) Snapshot() map[string]IntrusionEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]IntrusionEntry, len(l.entries))
	for issuer, entry := range l.entries {
		out[issuer] = IntrusionEntry{
			Count:      entry.Count,
			Timestamps: append([]time.Time(nil), entry.Timestamps...),
		}
	}
	return out
}
