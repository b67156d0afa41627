package cli

import (
	"context"

	"depotdl/internal/cdn"
	depoterrors "depotdl/internal/errors"
)

// unimplementedLogin satisfies cdn.Login for --login-anonymous. Steam's
// actual anonymous-login handshake is the same out-of-scope collaborator as
// the manifest decoder: this build has no network client for it, so
// requesting an authenticated token always fails with ErrLoginFailure,
// which the engine treats as fatal at startup.
type unimplementedLogin struct{}

func (unimplementedLogin) Token(ctx context.Context, depotID uint32, addr string) (cdn.Token, error) {
	return cdn.Token{}, depoterrors.ErrLoginFailure
}

func (unimplementedLogin) Reconnect(ctx context.Context) error {
	return depoterrors.ErrLoginFailure
}
