// Package profile captures call-site statistics from a bridge so binding
// behaviour can be compared across runs.
package profile

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/hostbridge/bridge"
)

// SiteStat is the state of one call site at snapshot time.
type SiteStat struct {
	Source  string `cbor:"1,keyasint"`
	Kind    string `cbor:"2,keyasint"`
	State   string `cbor:"3,keyasint"`
	Callee  string `cbor:"4,keyasint,omitempty"` // bound candidate, if any
	Hits    uint64 `cbor:"5,keyasint"`
	Misses  uint64 `cbor:"6,keyasint"`
	Rebinds uint64 `cbor:"7,keyasint"`
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s SiteStat) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// Snapshot is a point-in-time view of a bridge.
type Snapshot struct {
	Label         string     `cbor:"1,keyasint,omitempty"`
	Taken         int64      `cbor:"2,keyasint"` // unix nanoseconds
	Sites         []SiteStat `cbor:"3,keyasint"`
	Proxies       int        `cbor:"4,keyasint"`
	Synthesized   int        `cbor:"5,keyasint"`
	Objects       int        `cbor:"6,keyasint"`
	Subscriptions int        `cbor:"7,keyasint"`
}

// Time returns when the snapshot was taken.
func (s *Snapshot) Time() time.Time { return time.Unix(0, s.Taken) }

// Totals sums the per-site counters.
func (s *Snapshot) Totals() (hits, misses, rebinds uint64) {
	for _, st := range s.Sites {
		hits += st.Hits
		misses += st.Misses
		rebinds += st.Rebinds
	}
	return hits, misses, rebinds
}

// Take captures the current statistics of b. Sites come out in the
// table's deterministic order.
func Take(b *bridge.Bridge, label string) *Snapshot {
	snap := &Snapshot{
		Label:         label,
		Taken:         time.Now().UnixNano(),
		Proxies:       b.Proxies().Count(),
		Synthesized:   b.Proxies().Synthesized(),
		Objects:       b.Objects().Count(),
		Subscriptions: b.Subscriptions(),
	}
	for _, cs := range b.Sites().Sites() {
		st := SiteStat{
			Source:  cs.Source(),
			Kind:    cs.Kind(),
			State:   cs.State.String(),
			Hits:    cs.Hits,
			Misses:  cs.Misses,
			Rebinds: cs.Rebinds,
		}
		if bd := cs.Binding(); bd != nil {
			st.Callee = bd.Callee.String()
		}
		snap.Sites = append(snap.Sites, st)
	}
	return snap
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("profile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Snapshot to canonical CBOR.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("profile: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// WriteFile writes the CBOR form of s to path.
func WriteFile(path string, s *Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile reads a snapshot written by WriteFile.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
