package cli

import (
	"context"

	"depotdl/internal/cdn"
	depoterrors "depotdl/internal/errors"
)

// noDirectory satisfies cdn.Directory for a run with no --server flags and
// no content-server directory service configured. Steam's
// IContentServerDirectoryService lookup lives outside this build; runs
// that don't supply --server explicitly get ErrNoServers instead of a
// network call this build doesn't implement.
type noDirectory struct{}

func (noDirectory) Servers(ctx context.Context) ([]cdn.Endpoint, error) {
	return nil, depoterrors.ErrNoServers
}
