package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// jsonManifest mirrors Manifest in a wire-friendly shape for the JSON
// stand-in decoder: SHA and key are hex strings rather than raw bytes.
type jsonManifest struct {
	DepotID   uint32          `json:"depot_id"`
	DepotKey  string          `json:"depot_key"`
	TotalSize int64           `json:"total_size"`
	Mappings  []jsonMapping   `json:"mappings"`
}

type jsonMapping struct {
	Path   string      `json:"path"`
	Size   int64       `json:"size"`
	Flags  uint32      `json:"flags"`
	Chunks []jsonChunk `json:"chunks"`
}

type jsonChunk struct {
	SHA        string `json:"sha"`
	Offset     int64  `json:"offset"`
	CBOriginal int64  `json:"cb_original"`
}

// JSONDecoder decodes the stand-in JSON manifest format used by depotdl's
// own tests and by both the "app" and "depot" CLI subcommands, which decode
// every manifest file with it whatever its extension — a substitute for the
// real Steam manifest decoder, which lives outside this module.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(raw []byte) (*Manifest, error) {
	var jm jsonManifest
	if err := json.Unmarshal(raw, &jm); err != nil {
		return nil, fmt.Errorf("decode manifest json: %w", err)
	}

	m := &Manifest{
		Depot: DepotDescriptor{
			ID:        jm.DepotID,
			TotalSize: jm.TotalSize,
		},
	}

	if jm.DepotKey != "" {
		key, err := hex.DecodeString(jm.DepotKey)
		if err != nil {
			return nil, fmt.Errorf("decode depot key: %w", err)
		}
		m.Depot.Key = key
	}

	for _, jmap := range jm.Mappings {
		mapping := FileMapping{
			Path:  NormalizePath(jmap.Path),
			Size:  jmap.Size,
			Flags: jmap.Flags,
		}
		for _, jc := range jmap.Chunks {
			shaBytes, err := hex.DecodeString(jc.SHA)
			if err != nil {
				return nil, fmt.Errorf("decode chunk sha %q: %w", jc.SHA, err)
			}
			if len(shaBytes) != 20 {
				return nil, fmt.Errorf("chunk sha %q must decode to 20 bytes, got %d", jc.SHA, len(shaBytes))
			}
			var sha [20]byte
			copy(sha[:], shaBytes)
			mapping.Chunks = append(mapping.Chunks, ChunkRecord{
				SHA:        sha,
				Offset:     jc.Offset,
				CBOriginal: jc.CBOriginal,
			})
		}
		mapping.SortChunks()
		m.Mappings = append(m.Mappings, mapping)
	}

	return m, nil
}
