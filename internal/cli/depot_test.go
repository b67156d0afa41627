package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairManifestsAndKeysZipsPositionally(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.manifest")
	pathB := filepath.Join(dir, "b.manifest")
	writeManifestJSON(t, pathA, 1)
	writeManifestJSON(t, pathB, 2)

	jobs, err := pairManifestsAndKeys(
		[]string{pathA, pathB},
		[]string{"000102030405060708090a0b0c0d0e0f", "0f0e0d0c0b0a09080706050403020100"},
	)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, uint32(1), jobs[0].Manifest.Depot.ID)
	require.Equal(t, byte(0x00), jobs[0].Manifest.Depot.Key[0])
	require.Equal(t, uint32(2), jobs[1].Manifest.Depot.ID)
	require.Equal(t, byte(0x0f), jobs[1].Manifest.Depot.Key[0])
}

func TestPairManifestsAndKeysRejectsMismatchedLengths(t *testing.T) {
	_, err := pairManifestsAndKeys([]string{"a.manifest"}, nil)
	require.Error(t, err)
}

func TestPairManifestsAndKeysRejectsBadKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.manifest")
	writeManifestJSON(t, path, 1)

	_, err := pairManifestsAndKeys([]string{path}, []string{"not-hex"})
	require.Error(t, err)
}

func TestPairManifestsAndKeysOverridesEmbeddedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.manifest")

	raw, err := json.Marshal(map[string]any{
		"depot_id":   1,
		"depot_key":  "ffffffffffffffffffffffffffffffff",
		"total_size": 4,
		"mappings":   []any{},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	jobs, err := pairManifestsAndKeys([]string{path}, []string{"000102030405060708090a0b0c0d0e0f"})
	require.NoError(t, err)
	require.Equal(t, byte(0x00), jobs[0].Manifest.Depot.Key[0])
}
