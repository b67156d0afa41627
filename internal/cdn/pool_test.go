package cdn

import (
	"context"
	"testing"
	"time"

	depoterrors "depotdl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	endpoints []Endpoint
	err       error
}

func (d *stubDirectory) Servers(ctx context.Context) ([]Endpoint, error) {
	return d.endpoints, d.err
}

type stubLogin struct {
	tokens     map[string]Token
	calls      map[string]int
	failFirst  int // fail this many Token calls before succeeding
	reconnects int
}

func newStubLogin() *stubLogin {
	return &stubLogin{tokens: map[string]Token{}, calls: map[string]int{}}
}

func (l *stubLogin) Token(ctx context.Context, depotID uint32, addr string) (Token, error) {
	l.calls[addr]++
	if l.failFirst > 0 {
		l.failFirst--
		return Token{}, context.DeadlineExceeded
	}
	if tok, ok := l.tokens[addr]; ok {
		return tok, nil
	}
	return Token{Value: "?auth=" + addr}, nil
}

func (l *stubLogin) Reconnect(ctx context.Context) error {
	l.reconnects++
	return nil
}

func TestAcquireNotLoggedInNeedsNoToken(t *testing.T) {
	p := NewPool(nil, nil, 1, false)
	require.NoError(t, p.Add(context.Background(), []string{"http://a", "http://b"}))

	addr, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "http://a", addr)
	assert.Empty(t, token)
}

func TestAcquireRotatesRing(t *testing.T) {
	p := NewPool(nil, nil, 1, false)
	require.NoError(t, p.Add(context.Background(), []string{"http://a", "http://b", "http://c"}))

	addr1, _, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "http://a", addr1)

	addr2, _, err := p.Acquire(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "http://b", addr2)

	addr3, _, err := p.Acquire(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "http://c", addr3)
}

func TestAcquireNoServersIsFatal(t *testing.T) {
	p := NewPool(&stubDirectory{}, nil, 1, false)
	_, _, err := p.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, depoterrors.ErrNoServers)
}

func TestPopulateFiltersOpenCacheAndPrefersCDN(t *testing.T) {
	dir := &stubDirectory{endpoints: []Endpoint{
		{Host: "oc1", Port: 80, Type: "OpenCache"},
		{Host: "cdn1", Port: 80, Type: "CDN"},
		{Host: "other1", Port: 80, Type: "Other"},
		{Host: "cdn2", Port: 80, Type: "CDN"},
	}}
	login := newStubLogin()
	p := NewPool(dir, login, 1, false)

	addr, _, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "cdn1", Port: 80, Type: "CDN"}.Addr(), addr)

	p.mu.Lock()
	ring := append([]string(nil), p.ring...)
	p.mu.Unlock()
	require.Len(t, ring, 3)
	assert.Equal(t, "http://cdn1:80", ring[0])
	assert.Equal(t, "http://cdn2:80", ring[1])
	assert.Equal(t, "http://other1:80", ring[2])
}

func TestAcquireFetchesTokenWhenLoggedIn(t *testing.T) {
	login := newStubLogin()
	p := NewPool(nil, login, 42, true)
	require.NoError(t, p.Add(context.Background(), []string{"http://a"}))

	addr, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "http://a", addr)
	assert.Equal(t, "?auth=http://a", token)
	assert.Equal(t, 1, login.calls["http://a"])
}

func TestAcquireSteamcontentSentinelNeedsNoToken(t *testing.T) {
	login := newStubLogin()
	p := NewPool(nil, login, 42, true)
	require.NoError(t, p.Add(context.Background(), []string{"https://foo.steamcontent.com"}))

	addr, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "https://foo.steamcontent.com", addr)
	assert.Empty(t, token)
	assert.Equal(t, 0, login.calls["https://foo.steamcontent.com"])
}

func TestAcquireRefreshesNearExpiryToken(t *testing.T) {
	login := newStubLogin()
	p := NewPool(nil, login, 42, true)

	p.mu.Lock()
	p.ring = []string{"http://a"}
	p.tokens["http://a"] = Token{Value: "?old", ExpiresAt: time.Now().Add(30 * time.Second)}
	p.mu.Unlock()
	login.tokens["http://a"] = Token{Value: "?fresh", ExpiresAt: time.Now().Add(time.Hour)}

	_, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "?fresh", token)
	assert.Equal(t, 1, login.calls["http://a"])
}

func TestRefreshReconnectsBetweenFailedAttempts(t *testing.T) {
	login := newStubLogin()
	login.failFirst = 2
	login.tokens["http://a"] = Token{Value: "?eventually", ExpiresAt: time.Now().Add(time.Hour)}
	p := NewPool(nil, login, 42, true)
	require.NoError(t, p.Add(context.Background(), []string{"http://a"}))

	_, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "?eventually", token)
	assert.Equal(t, 3, login.calls["http://a"])
	assert.Equal(t, 2, login.reconnects)
}

func TestAcquireSubstitutesEndpointWhenRefreshFails(t *testing.T) {
	login := newStubLogin()
	login.failFirst = 100
	p := NewPool(nil, login, 42, true)

	p.mu.Lock()
	p.ring = []string{"http://a", "http://b"}
	p.tokens["http://a"] = Token{Value: "?dying", ExpiresAt: time.Now().Add(30 * time.Second)}
	p.tokens["http://b"] = Token{Value: "?healthy", ExpiresAt: time.Now().Add(time.Hour)}
	p.mu.Unlock()

	addr, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "http://b", addr)
	assert.Equal(t, "?healthy", token)
}

func TestAcquireNoValidTokenWhenRefreshFailsWithoutFallback(t *testing.T) {
	login := newStubLogin()
	login.failFirst = 100
	p := NewPool(nil, login, 42, true)

	p.mu.Lock()
	p.ring = []string{"http://a"}
	p.tokens["http://a"] = Token{Value: "?dying", ExpiresAt: time.Now().Add(30 * time.Second)}
	p.mu.Unlock()

	_, _, err := p.Acquire(context.Background(), false)
	assert.ErrorIs(t, err, depoterrors.ErrNoValidToken)
}

func TestAcquireBackgroundRefreshReturnsCurrentToken(t *testing.T) {
	login := newStubLogin()
	p := NewPool(nil, login, 42, true)

	p.mu.Lock()
	p.ring = []string{"http://a"}
	p.tokens["http://a"] = Token{Value: "?current", ExpiresAt: time.Now().Add(120 * time.Second)}
	p.mu.Unlock()

	_, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "?current", token)
}

func TestAcquireFarFromExpiryNoRefresh(t *testing.T) {
	login := newStubLogin()
	p := NewPool(nil, login, 42, true)

	p.mu.Lock()
	p.ring = []string{"http://a"}
	p.tokens["http://a"] = Token{Value: "?stable", ExpiresAt: time.Now().Add(time.Hour)}
	p.mu.Unlock()

	_, token, err := p.Acquire(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "?stable", token)
	assert.Equal(t, 0, login.calls["http://a"])
}
