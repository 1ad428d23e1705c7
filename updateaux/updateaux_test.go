package updateaux_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"

	"github.com/erigontech/mpt/config"
	"github.com/erigontech/mpt/nibble"
	"github.com/erigontech/mpt/statemachine"
	"github.com/erigontech/mpt/trie"
	"github.com/erigontech/mpt/updateaux"
)

func testConfig(t *testing.T, historyLength uint64, chunkCount uint32) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		PoolPaths:                 []string{filepath.Join(dir, "pool.dat")},
		ChunkCapacity:             config.MinChunkCapacity,
		ChunkCount:                chunkCount,
		HistoryLength:             historyLength,
		CacheCapacity:             16 * datasize.MB,
		CompactionThresholdChunks: 1,
	}
}

func keyOf(s string) nibble.Path {
	return nibble.FromKey([]byte(s))
}

func mustGet(t *testing.T, aux *updateaux.UpdateAux, v uint64, key nibble.Path) ([]byte, bool) {
	t.Helper()
	root, err := aux.LoadRootForVersion(v)
	if err != nil {
		t.Fatalf("LoadRootForVersion(%d): %v", v, err)
	}
	n, ok, err := trie.Find(context.Background(), aux.Loader(), root, key)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		return nil, false
	}
	return n.Value, true
}

func TestDoUpdateSingleKeyRoundTrips(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	_, err = aux.DoUpdate(ctx, sm, []updateaux.Update{
		{Key: keyOf("alpha"), Value: []byte("one")},
	}, 1, false)
	if err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	got, ok := mustGet(t, aux, 1, keyOf("alpha"))
	if !ok || string(got) != "one" {
		t.Fatalf("got %q, %v", got, ok)
	}

	v, has := aux.GetLatestVersion()
	if !has || v != 1 {
		t.Fatalf("GetLatestVersion: %d, %v", v, has)
	}
}

func TestDoUpdateRejectsOutOfOrderVersion(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("a"), Value: []byte("1")}}, 5, false); err != nil {
		t.Fatalf("DoUpdate v5: %v", err)
	}
	_, err = aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("b"), Value: []byte("2")}}, 5, false)
	if !errors.Is(err, updateaux.ErrVersionOutOfOrder) {
		t.Fatalf("expected ErrVersionOutOfOrder, got %v", err)
	}
	_, err = aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("b"), Value: []byte("2")}}, 3, false)
	if !errors.Is(err, updateaux.ErrVersionOutOfOrder) {
		t.Fatalf("expected ErrVersionOutOfOrder, got %v", err)
	}
}

func TestDoUpdateMultipleVersionsPreserveHistory(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	for i, val := range []string{"v1", "v2", "v3"} {
		v := uint64(i + 1)
		if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte(val)}}, v, false); err != nil {
			t.Fatalf("DoUpdate v%d: %v", v, err)
		}
	}

	for i, want := range []string{"v1", "v2", "v3"} {
		v := uint64(i + 1)
		got, ok := mustGet(t, aux, v, keyOf("k"))
		if !ok || string(got) != want {
			t.Fatalf("version %d: got %q (%v), want %q", v, got, ok, want)
		}
	}
}

func TestDoUpdateEraseRemovesKey(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("gone"), Value: []byte("x")}}, 1, false); err != nil {
		t.Fatalf("DoUpdate insert: %v", err)
	}
	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("gone"), Erase: true}}, 2, false); err != nil {
		t.Fatalf("DoUpdate erase: %v", err)
	}

	_, ok := mustGet(t, aux, 2, keyOf("gone"))
	if ok {
		t.Fatalf("expected key to be absent after erase")
	}
	got, ok := mustGet(t, aux, 1, keyOf("gone"))
	if !ok || string(got) != "x" {
		t.Fatalf("old version should still see the value, got %q, %v", got, ok)
	}
}

func TestHistoryEvictionExpiresOldVersions(t *testing.T) {
	cfg := testConfig(t, 2, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	for v := uint64(1); v <= 4; v++ {
		if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte{byte(v)}}}, v, false); err != nil {
			t.Fatalf("DoUpdate v%d: %v", v, err)
		}
	}

	if earliest := aux.GetEarliestVersion(); earliest != 3 {
		t.Fatalf("GetEarliestVersion = %d, want 3", earliest)
	}
	if _, err := aux.LoadRootForVersion(1); !errors.Is(err, trie.ErrVersionNoLongerExists) {
		t.Fatalf("expected ErrVersionNoLongerExists for evicted version, got %v", err)
	}
	if _, err := aux.LoadRootForVersion(3); err != nil {
		t.Fatalf("version 3 should still be valid: %v", err)
	}
}

func TestRewindToVersionDiscardsLaterVersions(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()

	for i, val := range []string{"a", "b", "c"} {
		v := uint64(i + 1)
		if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte(val)}}, v, false); err != nil {
			t.Fatalf("DoUpdate v%d: %v", v, err)
		}
	}

	if err := aux.RewindToVersion(2); err != nil {
		t.Fatalf("RewindToVersion: %v", err)
	}

	v, has := aux.GetLatestVersion()
	if !has || v != 2 {
		t.Fatalf("GetLatestVersion after rewind = %d, %v, want 2", v, has)
	}
	if _, err := aux.LoadRootForVersion(3); !errors.Is(err, trie.ErrVersionNoLongerExists) {
		t.Fatalf("version 3 should no longer exist after rewind, got %v", err)
	}
	got, ok := mustGet(t, aux, 2, keyOf("k"))
	if !ok || string(got) != "b" {
		t.Fatalf("got %q, %v, want b", got, ok)
	}

	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte("d")}}, 3, false); err != nil {
		t.Fatalf("DoUpdate after rewind: %v", err)
	}
	got, ok = mustGet(t, aux, 3, keyOf("k"))
	if !ok || string(got) != "d" {
		t.Fatalf("got %q, %v, want d", got, ok)
	}
}

func TestRewindOutOfWindowFails(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte("a")}}, 1, false); err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	if err := aux.RewindToVersion(5); !errors.Is(err, updateaux.ErrRewindOutOfWindow) {
		t.Fatalf("expected ErrRewindOutOfWindow, got %v", err)
	}
}

func TestSetHistoryLengthShrinkEvictsOldVersions(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	for v := uint64(1); v <= 5; v++ {
		if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte{byte(v)}}}, v, false); err != nil {
			t.Fatalf("DoUpdate v%d: %v", v, err)
		}
	}

	if err := aux.SetHistoryLength(2); err != nil {
		t.Fatalf("SetHistoryLength: %v", err)
	}
	if got := aux.GetHistoryLength(); got != 2 {
		t.Fatalf("GetHistoryLength = %d, want 2", got)
	}
	if earliest := aux.GetEarliestVersion(); earliest != 4 {
		t.Fatalf("GetEarliestVersion = %d, want 4", earliest)
	}
	if _, err := aux.LoadRootForVersion(3); !errors.Is(err, trie.ErrVersionNoLongerExists) {
		t.Fatalf("expected version 3 evicted, got %v", err)
	}
}

func TestSetHistoryLengthBeyondCapacityFails(t *testing.T) {
	cfg := testConfig(t, 4, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	if err := aux.SetHistoryLength(100); err == nil {
		t.Fatalf("expected an error for history_length beyond ring capacity")
	}
}

func TestMoveTrieVersionForward(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte("v")}}, 1, false); err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	if err := aux.MoveTrieVersionForward(1, 10); err != nil {
		t.Fatalf("MoveTrieVersionForward: %v", err)
	}
	v, has := aux.GetLatestVersion()
	if !has || v != 10 {
		t.Fatalf("GetLatestVersion = %d, %v, want 10", v, has)
	}
	got, ok := mustGet(t, aux, 10, keyOf("k"))
	if !ok || string(got) != "v" {
		t.Fatalf("got %q, %v, want v", got, ok)
	}
	if _, err := aux.LoadRootForVersion(1); !errors.Is(err, trie.ErrVersionNoLongerExists) {
		t.Fatalf("version 1 should be invalidated by the move, got %v", err)
	}
}

func TestMoveTrieVersionForwardRequiresForwardMovement(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer aux.Close()

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("k"), Value: []byte("v")}}, 5, false); err != nil {
		t.Fatalf("DoUpdate: %v", err)
	}

	if err := aux.MoveTrieVersionForward(5, 3); !errors.Is(err, updateaux.ErrMoveNotForward) {
		t.Fatalf("expected ErrMoveNotForward, got %v", err)
	}
	if err := aux.MoveTrieVersionForward(2, 10); !errors.Is(err, updateaux.ErrSourceVersionInvalid) {
		t.Fatalf("expected ErrSourceVersionInvalid, got %v", err)
	}
}

func TestReopenRestoresLatestVersionAndData(t *testing.T) {
	cfg := testConfig(t, 8, 8)
	aux, err := updateaux.Create(cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sm := statemachine.AlwaysEmpty{}
	ctx := context.Background()
	for i, val := range []string{"one", "two"} {
		v := uint64(i + 1)
		if _, err := aux.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("persisted"), Value: []byte(val)}}, v, false); err != nil {
			t.Fatalf("DoUpdate v%d: %v", v, err)
		}
	}
	if err := aux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := updateaux.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	v, has := reopened.GetLatestVersion()
	if !has || v != 2 {
		t.Fatalf("GetLatestVersion after reopen = %d, %v, want 2", v, has)
	}
	got, ok := mustGet(t, reopened, 2, keyOf("persisted"))
	if !ok || string(got) != "two" {
		t.Fatalf("got %q, %v, want two", got, ok)
	}

	if _, err := reopened.DoUpdate(ctx, sm, []updateaux.Update{{Key: keyOf("persisted"), Value: []byte("three")}}, 3, false); err != nil {
		t.Fatalf("DoUpdate after reopen: %v", err)
	}
	got, ok = mustGet(t, reopened, 3, keyOf("persisted"))
	if !ok || string(got) != "three" {
		t.Fatalf("got %q, %v, want three", got, ok)
	}
}

