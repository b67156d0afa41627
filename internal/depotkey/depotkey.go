// Package depotkey parses the hex-encoded symmetric depot key supplied by
// the CLI front-end or a config.vdf DecryptionKey entry.
package depotkey

import (
	"encoding/hex"

	depoterrors "depotdl/internal/errors"
)

// Size is the required decoded key length in bytes.
const Size = 16

// Parse decodes a hex-encoded depot key, validating it decodes to exactly
// Size bytes.
func Parse(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, depoterrors.Wrap(err, "parse depot key")
	}
	if len(key) != Size {
		return nil, depoterrors.ErrInvalidDepotKey
	}
	return key, nil
}
