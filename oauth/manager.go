package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/tunecast/telemetry"
)

const defaultGrantTimeout = 30 * time.Second

// FatalError reports that a credential could neither be refreshed nor
// re-authorized. The process cannot make progress without it.
type FatalError struct {
	Key       Key
	Refresh   error // nil when no refresh was attempted
	Authorize error
}

func (e *FatalError) Error() string {
	if e.Refresh != nil {
		return fmt.Sprintf("credential %s: refresh failed: %v; authorize failed: %v", e.Key, e.Refresh, e.Authorize)
	}
	return fmt.Sprintf("credential %s: authorize failed: %v", e.Key, e.Authorize)
}

func (e *FatalError) Unwrap() []error {
	if e.Refresh != nil {
		return []error{e.Refresh, e.Authorize}
	}
	return []error{e.Authorize}
}

// Manager owns the current credential for one Key.
type Manager struct {
	spec         Spec
	store        TokenStore
	clock        clockwork.Clock
	log          *slog.Logger
	grantTimeout time.Duration

	mu   sync.RWMutex
	cred Credential

	flight singleflight.Group

	fatalOnce sync.Once
	fatal     chan error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithGrantTimeout bounds a single token endpoint round trip.
func WithGrantTimeout(d time.Duration) Option { return func(m *Manager) { m.grantTimeout = d } }

// NewManager bootstraps the credential for spec.Key. A cached credential is
// used if it loads and validates; an expired one is renewed immediately. A
// missing or unreadable cache triggers a full authorization grant. The
// returned error is a *FatalError when no usable credential could be
// obtained.
func NewManager(ctx context.Context, spec Spec, store TokenStore, opts ...Option) (*Manager, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("oauth: nil token store")
	}
	m := &Manager{
		spec:         spec,
		store:        store,
		clock:        clockwork.NewRealClock(),
		log:          slog.Default(),
		grantTimeout: defaultGrantTimeout,
		fatal:        make(chan error, 1),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(slog.String("component", "oauth"), slog.String("credential", spec.Key.String()))

	cached, err := store.Load(ctx, spec.Key)
	switch {
	case err == nil:
		m.cred = cached
		if !cached.IsExpired(m.clock.Now()) {
			m.log.Info("loaded cached credential", slog.Any("cred", cached))
			return m, nil
		}
		m.log.Info("cached credential expired, renewing", slog.Time("expired_at", cached.ExpiresAt()))
		if _, err := m.renew(ctx, cached); err != nil {
			return nil, err
		}
		return m, nil
	case errors.Is(err, ErrNotFound):
		m.log.Info("no cached credential, authorizing")
	default:
		m.log.Warn("cached credential unusable, authorizing", slog.Any("err", err))
	}

	if _, err := m.authorize(ctx, Credential{}, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Token returns a non-expired credential, renewing it first if needed.
// Concurrent callers that observe an expired credential share a single
// renewal. The renewal itself is not bound to ctx, so one caller giving up
// does not abort it for the others.
func (m *Manager) Token(ctx context.Context) (Credential, error) {
	if cur := m.Current(); !cur.IsExpired(m.clock.Now()) {
		telemetry.RecordTokenGrant(m.spec.Key.String(), "cache")
		return cur, nil
	}

	ch := m.flight.DoChan("renew", func() (any, error) {
		cur := m.Current()
		if !cur.IsExpired(m.clock.Now()) {
			return cur, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.grantTimeout)
		defer cancel()
		return m.renew(fctx, cur)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// AccessToken is Token reduced to the bearer string.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	cred, err := m.Token(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Current returns the in-memory credential without checking expiry.
func (m *Manager) Current() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

// Key returns the credential slot this manager owns.
func (m *Manager) Key() Key { return m.spec.Key }

// Fatal delivers the first *FatalError observed after bootstrap. It never
// closes.
func (m *Manager) Fatal() <-chan error { return m.fatal }

// renew refreshes cur, falling back to a full authorization grant.
func (m *Manager) renew(ctx context.Context, cur Credential) (Credential, error) {
	if m.spec.Refresh == nil || cur.RefreshToken == "" {
		return m.authorize(ctx, cur, nil)
	}

	var tok *oauth2.Token
	var err error
	telemetry.TimeFunc(telemetry.GrantObserver(m.spec.Key.String()), func() {
		tok, err = m.spec.Refresh(ctx, cur.RefreshToken)
	})
	if err != nil {
		m.log.Warn("refresh failed, falling back to authorization", slog.Any("err", err))
		return m.authorize(ctx, cur, err)
	}
	next := fromToken(tok, m.clock.Now(), m.spec.Scopes)
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	telemetry.RecordTokenGrant(m.spec.Key.String(), "refresh")
	m.install(ctx, next)
	return next, nil
}

func (m *Manager) authorize(ctx context.Context, cur Credential, refreshErr error) (Credential, error) {
	var tok *oauth2.Token
	var err error
	telemetry.TimeFunc(telemetry.GrantObserver(m.spec.Key.String()), func() {
		tok, err = m.spec.Authorize(ctx)
	})
	if err == nil && tok.AccessToken == "" {
		err = errors.New("token response has no access token")
	}
	if err != nil {
		fe := &FatalError{Key: m.spec.Key, Refresh: refreshErr, Authorize: err}
		telemetry.RecordTokenGrant(m.spec.Key.String(), "error")
		m.log.Error("credential lost", slog.Any("err", fe))
		m.fail(fe)
		return Credential{}, fe
	}
	next := fromToken(tok, m.clock.Now(), m.spec.Scopes)
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	telemetry.RecordTokenGrant(m.spec.Key.String(), "authorize")
	m.install(ctx, next)
	return next, nil
}

// install persists next and makes it current. A persistence failure is
// logged; the new credential is still installed because the provider may
// already have invalidated the previous refresh token.
func (m *Manager) install(ctx context.Context, next Credential) {
	if err := m.store.Save(ctx, m.spec.Key, next); err != nil {
		m.log.Error("persist credential failed", slog.Any("err", err))
	}
	m.mu.Lock()
	m.cred = next
	m.mu.Unlock()
	m.log.Info("credential updated", slog.Any("cred", next))
}

func (m *Manager) fail(err error) {
	m.fatalOnce.Do(func() { m.fatal <- err })
}
