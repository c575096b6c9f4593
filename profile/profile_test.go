package profile

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/hostbridge/bridge"
)

type counter struct{ N int }

func (c *counter) Inc(n int) int {
	c.N += n
	return c.N
}

func newCounter() *counter { return &counter{} }

func exercisedBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	b := bridge.New(L)
	if err := b.RegisterType("Counter", (*counter)(nil), newCounter); err != nil {
		t.Fatalf("RegisterType failed: %v", err)
	}
	if err := L.DoString(`
		c = Counter()
		for i = 1, 4 do c:Inc(i) end
	`); err != nil {
		t.Fatal(err)
	}
	return b
}

func findSite(s *Snapshot, source string) *SiteStat {
	for i := range s.Sites {
		if s.Sites[i].Source == source && s.Sites[i].Kind == "method" {
			return &s.Sites[i]
		}
	}
	return nil
}

func TestTake(t *testing.T) {
	b := exercisedBridge(t)
	snap := Take(b, "run")

	if snap.Label != "run" {
		t.Errorf("Expected label run, got %q", snap.Label)
	}
	inc := findSite(snap, "Counter.Inc")
	if inc == nil {
		t.Fatalf("Expected a Counter.Inc site in %+v", snap.Sites)
	}
	if inc.Hits != 3 || inc.Misses != 1 {
		t.Errorf("Expected 3 hits and 1 miss, got %d/%d", inc.Hits, inc.Misses)
	}
	if inc.State != "bound" || inc.Callee == "" {
		t.Errorf("Expected bound site with callee, got %+v", inc)
	}
	if inc.HitRate() != 75 {
		t.Errorf("Expected hit rate 75, got %f", inc.HitRate())
	}
	if snap.Objects != 1 {
		t.Errorf("Expected 1 live object, got %d", snap.Objects)
	}

	hits, misses, _ := snap.Totals()
	st := b.Stats()
	if hits != st.TotalHits || misses != st.TotalMisses {
		t.Errorf("Expected totals %d/%d, got %d/%d", st.TotalHits, st.TotalMisses, hits, misses)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	snap := Take(exercisedBridge(t), "rt")

	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Label != snap.Label || got.Taken != snap.Taken || len(got.Sites) != len(snap.Sites) {
		t.Fatalf("Expected %+v, got %+v", snap, got)
	}
	for i := range snap.Sites {
		if got.Sites[i] != snap.Sites[i] {
			t.Errorf("Site %d: expected %+v, got %+v", i, snap.Sites[i], got.Sites[i])
		}
	}

	again, err := Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("Expected canonical encoding to be stable")
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected error for invalid CBOR")
	}
}

func TestWriteReadFile(t *testing.T) {
	snap := Take(exercisedBridge(t), "file")
	path := filepath.Join(t.TempDir(), "profile.cbor")

	if err := WriteFile(path, snap); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got.Label != "file" || len(got.Sites) != len(snap.Sites) {
		t.Errorf("Expected snapshot back, got %+v", got)
	}
}

func TestStore(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "profile.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	b := exercisedBridge(t)
	first, err := store.Record(Take(b, "first"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := store.Record(Take(b, "second")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	ids, labels, err := store.Labels()
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	if len(ids) != 2 || labels[0] != "first" || labels[1] != "second" {
		t.Errorf("Expected [first second], got %v", labels)
	}

	loaded, err := store.Load(first)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Label != "first" {
		t.Errorf("Expected first snapshot, got %q", loaded.Label)
	}
	if _, err := store.Load(9999); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Expected ErrSnapshotNotFound, got %v", err)
	}

	totals, err := store.Totals()
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	var inc *SiteTotal
	for i := range totals {
		if totals[i].Source == "Counter.Inc" {
			inc = &totals[i]
		}
	}
	if inc == nil {
		t.Fatalf("Expected Counter.Inc in totals %+v", totals)
	}
	if inc.Snapshots != 2 || inc.Hits != 6 || inc.Misses != 2 {
		t.Errorf("Expected 2 snapshots, 6 hits, 2 misses, got %+v", inc)
	}
}
