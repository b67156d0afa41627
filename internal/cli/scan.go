package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"depotdl/internal/depotkey"
	depoterrors "depotdl/internal/errors"
	"depotdl/internal/manifest"
	"depotdl/internal/vdf"
)

// manifestJob pairs one decoded manifest, its depot key already filled in,
// with the path it was read from, ready to hand to the engine.
type manifestJob struct {
	ManifestPath string
	Manifest     *manifest.Manifest
}

// scanAppDir walks appPath for *.manifest files and a sibling config.vdf,
// pairing each manifest with the decryption key for its own depot id. The
// depot id used for pairing always comes from decoding the manifest itself,
// not from its filename: a manifest named after one depot can in principle
// carry another's id, and config.vdf is keyed by id, not by path.
func scanAppDir(appPath string) ([]manifestJob, error) {
	keysByDepot, err := loadConfigVDFKeys(filepath.Join(appPath, "config.vdf"))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(appPath)
	if err != nil {
		return nil, fmt.Errorf("read app path %s: %w", appPath, err)
	}

	var jobs []manifestJob
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".manifest") {
			continue
		}

		path := filepath.Join(appPath, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", path, err)
		}

		m, err := manifest.JSONDecoder{}.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode manifest %s: %w", path, err)
		}

		key, ok := keysByDepot[m.Depot.ID]
		if !ok {
			continue // no decryption key on file for this manifest's depot; skip it
		}
		m.Depot.Key = key

		jobs = append(jobs, manifestJob{ManifestPath: path, Manifest: m})
	}

	if len(jobs) == 0 {
		return nil, depoterrors.ErrNoManifests
	}
	return jobs, nil
}

// loadConfigVDFKeys parses a config.vdf's "depots" block into a
// depot id -> decryption key map.
func loadConfigVDFKeys(path string) (map[uint32][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	root, err := vdf.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	depotsNode, ok := root.Children["depots"]
	if !ok || depotsNode.Children == nil {
		return map[uint32][]byte{}, nil
	}

	keys := make(map[uint32][]byte, len(depotsNode.Children))
	for idStr, depotNode := range depotsNode.Children {
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil || depotNode.Children == nil {
			continue
		}
		hexKey, ok := depotNode.Children["decryptionkey"]
		if !ok || hexKey.Value == "" {
			continue
		}
		key, err := depotkey.Parse(hexKey.Value)
		if err != nil {
			continue
		}
		keys[uint32(id)] = key
	}
	return keys, nil
}
