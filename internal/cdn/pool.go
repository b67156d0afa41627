// Package cdn manages the rotating pool of Steam content servers a download
// run fetches chunks from, including each server's auth-token freshness.
package cdn

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	depoterrors "depotdl/internal/errors"
)

// tokenRefreshThreshold and tokenBackgroundThreshold are the two freshness
// tiers: below the first, Acquire blocks to refresh before returning;
// between the two, a background refresh is kicked off and the
// still-current token is returned as-is.
const (
	tokenRefreshThreshold    = 60 * time.Second
	tokenBackgroundThreshold = 300 * time.Second
)

// tokenFetchAttempts bounds how many times a token fetch is tried before
// the refresh is reported failed; the login session is reconnected between
// attempts.
const tokenFetchAttempts = 3

// Endpoint describes one content server candidate returned by a Directory.
type Endpoint struct {
	Host  string
	Port  int
	HTTPS bool
	Type  string // "CDN", "OpenCache", ...
}

// Addr formats the endpoint as the base URL chunk requests are built against.
func (e Endpoint) Addr() string {
	scheme := "http"
	if e.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

// Token is a CDN auth token scoped to one depot/endpoint pair. Value is
// appended verbatim to chunk request URLs, so it carries its own leading
// separator (e.g. "?token=...") when non-empty, matching Steam's convention.
type Token struct {
	Value     string
	ExpiresAt time.Time // zero means the token never expires
}

// Directory resolves the content server list when the pool starts with no
// explicit servers.
type Directory interface {
	Servers(ctx context.Context) ([]Endpoint, error)
}

// Login obtains a CDN auth token for a depot/endpoint pair. Reconnect
// tears down and re-establishes the session (including anonymous login)
// after a failed token fetch.
type Login interface {
	Token(ctx context.Context, depotID uint32, addr string) (Token, error)
	Reconnect(ctx context.Context) error
}

// Pool rotates through a ring of CDN endpoint addresses and keeps each
// one's auth token fresh.
type Pool struct {
	mu         sync.Mutex
	ring       []string
	tokens     map[string]Token
	directory  Directory
	login      Login
	depotID    uint32
	loggedIn   bool
	refreshing bool
}

// NewPool builds an empty pool. If loggedIn is false, Acquire never consults
// tokens and always succeeds once an endpoint is available.
func NewPool(directory Directory, login Login, depotID uint32, loggedIn bool) *Pool {
	return &Pool{
		tokens:    make(map[string]Token),
		directory: directory,
		login:     login,
		depotID:   depotID,
		loggedIn:  loggedIn,
	}
}

// Add appends explicit endpoint addresses to the ring and, if the pool is
// logged in, fetches an initial token for each new address.
func (p *Pool) Add(ctx context.Context, addrs []string) error {
	p.mu.Lock()
	p.ring = append(p.ring, addrs...)
	loggedIn := p.loggedIn
	missing := make([]string, 0, len(addrs))
	if loggedIn {
		for _, addr := range addrs {
			if _, ok := p.tokens[addr]; !ok {
				missing = append(missing, addr)
			}
		}
	}
	p.mu.Unlock()

	for _, addr := range missing {
		if _, err := p.refreshToken(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// populate lazily fills the ring from the Directory the first time it's
// empty, dropping OpenCache servers and moving CDN servers to the front
// (a stable partition, so relative order otherwise survives).
func (p *Pool) populate(ctx context.Context) error {
	p.mu.Lock()
	empty := len(p.ring) == 0
	p.mu.Unlock()
	if !empty {
		return nil
	}

	endpoints, err := p.directory.Servers(ctx)
	if err != nil {
		return depoterrors.Wrap(err, "fetch content server directory")
	}

	filtered := make([]Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if e.Type != "OpenCache" {
			filtered = append(filtered, e)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Type == "CDN" && filtered[j].Type != "CDN"
	})

	addrs := make([]string, len(filtered))
	for i, e := range filtered {
		addrs[i] = e.Addr()
	}

	p.mu.Lock()
	if len(p.ring) == 0 {
		p.ring = append(p.ring, addrs...)
	}
	loggedIn := p.loggedIn
	p.mu.Unlock()

	if loggedIn {
		for _, addr := range addrs {
			// Best-effort: a server whose token can't be fetched just never
			// becomes usable; Acquire reports NoValidToken if nothing is.
			_, _ = p.refreshToken(ctx, addr)
		}
	}
	return nil
}

// refreshToken fetches and stores a fresh token for addr. Hosts under
// steamcontent.com need no auth token at all.
func (p *Pool) refreshToken(ctx context.Context, addr string) (Token, error) {
	if isNoAuthHost(addr) {
		tok := Token{}
		p.mu.Lock()
		p.tokens[addr] = tok
		p.mu.Unlock()
		return tok, nil
	}

	var lastErr error
	for attempt := 0; attempt < tokenFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := p.login.Reconnect(ctx); err != nil {
				lastErr = err
				continue
			}
		}
		tok, err := p.login.Token(ctx, p.depotID, addr)
		if err != nil {
			lastErr = err
			continue
		}
		p.mu.Lock()
		p.tokens[addr] = tok
		p.mu.Unlock()
		return tok, nil
	}
	return Token{}, depoterrors.NewTokenError(addr, lastErr)
}

func isNoAuthHost(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), ".steamcontent.com")
}

// Acquire returns the endpoint address and token suffix to use for the next
// chunk fetch. rotate moves the ring forward by one first, so a chunk retry
// after a transport failure lands on a different server.
func (p *Pool) Acquire(ctx context.Context, rotate bool) (addr, token string, err error) {
	if err := p.populate(ctx); err != nil {
		return "", "", err
	}

	p.mu.Lock()
	if len(p.ring) == 0 {
		p.mu.Unlock()
		return "", "", depoterrors.ErrNoServers
	}
	if rotate {
		p.ring = append(p.ring[1:], p.ring[0])
	}
	addr = p.ring[0]
	loggedIn := p.loggedIn
	p.mu.Unlock()

	if !loggedIn {
		return addr, "", nil
	}
	return p.acquireToken(ctx, addr)
}

func (p *Pool) acquireToken(ctx context.Context, addr string) (string, string, error) {
	p.mu.Lock()
	tok, ok := p.tokens[addr]
	p.mu.Unlock()
	if !ok {
		return "", "", depoterrors.NewTokenError(addr, depoterrors.ErrNoValidToken)
	}

	now := time.Now()
	if tok.ExpiresAt.IsZero() {
		return addr, tok.Value, nil
	}

	timeLeft := tok.ExpiresAt.Sub(now)
	switch {
	case timeLeft < tokenRefreshThreshold:
		refreshed, rerr := p.refreshToken(ctx, addr)
		if rerr != nil {
			if fallback, ok := p.anyValidToken(now); ok {
				return fallback.addr, fallback.token.Value, nil
			}
			return "", "", depoterrors.NewTokenError(addr, depoterrors.ErrNoValidToken)
		}
		return addr, refreshed.Value, nil

	case timeLeft < tokenBackgroundThreshold:
		p.triggerBackgroundRefresh(addr)
		return addr, tok.Value, nil

	default:
		return addr, tok.Value, nil
	}
}

type tokenAt struct {
	addr  string
	token Token
}

// anyValidToken returns some endpoint whose stored token is good for at
// least the synchronous-refresh threshold, used as the fallback when
// refreshing the current endpoint's token fails. A zero expiration (the
// no-auth sentinel) always qualifies.
func (p *Pool) anyValidToken(now time.Time) (tokenAt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, tok := range p.tokens {
		if tok.ExpiresAt.IsZero() || tok.ExpiresAt.After(now.Add(tokenRefreshThreshold)) {
			return tokenAt{addr: addr, token: tok}, true
		}
	}
	return tokenAt{}, false
}

func (p *Pool) triggerBackgroundRefresh(addr string) {
	p.mu.Lock()
	if p.refreshing {
		p.mu.Unlock()
		return
	}
	p.refreshing = true
	p.mu.Unlock()

	go func() {
		_, _ = p.refreshToken(context.Background(), addr)
		p.mu.Lock()
		p.refreshing = false
		p.mu.Unlock()
	}()
}
