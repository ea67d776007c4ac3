// Package session owns the signed-in session: the credential pair, the
// short-lived credential's expiry and the current user. It hands out
// credentials that are valid at the instant of use, renewing them through the
// long-lived credential with at most one renewal in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/timeline-go/internal/api"
)

// safetyMargin is subtracted from the server-provided lifetime so a
// credential is never sent when it could expire in flight.
const safetyMargin = 5 * time.Second

// ownWrites bounds how many of its own recent writes the manager remembers.
const ownWrites = 4

// renewKey is the single-flight key for credential renewal.
const renewKey = "renew"

// errSuperseded is returned when the session was terminated or replaced
// while an establish or renewal was in flight.
var errSuperseded = errors.New("session: superseded while in flight")

// Authenticator is the subset of the API client the manager needs. Defined
// here at the consumer; *api.Client satisfies it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*api.AuthResponse, error)
	Me(ctx context.Context, accessToken string) (*api.UserSummary, error)
}

// Manager is the process-wide session. Create one at startup, hydrate it
// with Restore, and pass it by reference to everything that needs a
// credential. Safe for concurrent use.
type Manager struct {
	auth    Authenticator
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	// nowFunc returns the current time. Tests override it.
	nowFunc func() time.Time

	group singleflight.Group

	mu    sync.Mutex
	state State
	// gen changes whenever the session is replaced or torn down, so work
	// started against an older session can tell it must not write.
	gen uint64

	// own holds what this process wrote to the store during generation
	// ownGen, so a reload can tell its own writes from other processes'.
	own    []State
	ownGen uint64
}

// NewManager creates an empty session manager. timeout bounds the shared
// renewal call, which runs detached from any single caller's cancellation.
// Zero means no bound beyond the API client's own per-call timeout.
func NewManager(auth Authenticator, store Store, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		auth:    auth,
		store:   store,
		logger:  logger,
		timeout: timeout,
		nowFunc: time.Now,
	}
}

// State returns a copy of the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.clone()
}

// CurrentUser returns the signed-in user, or nil.
func (m *Manager) CurrentUser() *api.UserSummary {
	return m.State().User
}

// Authenticated reports whether a long-lived credential is held.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.RefreshToken != ""
}

// SavedAt reports when the persisted session was last written. ok is false
// when nothing is stored or the store does not track it.
func (m *Manager) SavedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	s, can := m.store.(savedAtStore)
	if !can {
		return time.Time{}, false, nil
	}

	return s.SavedAt(ctx)
}

// Login authenticates with a username and password and establishes the
// resulting session. Any failure leaves no session behind.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	ar, err := m.auth.Login(ctx, NormalizeUsername(username), password)
	if err != nil {
		m.teardown(ctx, m.bump(), "login failed")
		return err
	}

	return m.Establish(ctx, ar)
}

// Register creates an account and establishes its first session.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) error {
	req.Username = NormalizeUsername(req.Username)

	ar, err := m.auth.Register(ctx, req)
	if err != nil {
		m.teardown(ctx, m.bump(), "registration failed")
		return err
	}

	return m.Establish(ctx, ar)
}

// Establish installs a fresh credential pair from a successful
// authentication response, persists it, and fetches the current user. If the
// profile fetch fails the session is torn down and the error matches
// api.ErrAuth.
func (m *Manager) Establish(ctx context.Context, ar *api.AuthResponse) error {
	_, err := m.establish(ctx, ar, m.bump())
	return err
}

// EnsureValid returns a short-lived credential that is valid now. It returns
// "" with a nil error when no session exists. An expired credential is
// renewed; concurrent callers share one renewal call and its outcome. A
// failed renewal tears the session down and the error matches api.ErrAuth.
func (m *Manager) EnsureValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()

	if st.RefreshToken == "" {
		return "", nil
	}

	if st.validAt(m.nowFunc()) {
		return st.AccessToken, nil
	}

	ch := m.group.DoChan(renewKey, func() (any, error) {
		// The shared renewal outlives callers that give up, so the others
		// still get its outcome.
		rctx := context.WithoutCancel(ctx)
		if m.timeout > 0 {
			var cancel context.CancelFunc

			rctx, cancel = context.WithTimeout(rctx, m.timeout)
			defer cancel()
		}

		return m.renew(rctx)
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for session renewal: %w", api.ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		tok, _ := res.Val.(string)

		return tok, nil
	}
}

// renew performs the renewal call. It runs inside the single-flight group.
func (m *Manager) renew(ctx context.Context) (string, error) {
	m.mu.Lock()
	st := m.state
	gen := m.gen
	m.mu.Unlock()

	// A renewal that finished just before this one started already did
	// the work.
	if st.validAt(m.nowFunc()) {
		return st.AccessToken, nil
	}

	if st.RefreshToken == "" {
		return "", nil
	}

	m.logger.Info("renewing session", slog.Time("expired_at", st.Expiry))

	ar, err := m.auth.Refresh(ctx, st.RefreshToken)
	if err != nil {
		m.teardown(ctx, gen, "renewal failed")
		return "", fmt.Errorf("%w: renewing session: %w", api.ErrAuth, err)
	}

	return m.establish(ctx, ar, gen)
}

// establish installs ar as generation gen. It refuses to write when the
// session moved on in the meantime.
func (m *Manager) establish(ctx context.Context, ar *api.AuthResponse, gen uint64) (string, error) {
	if ar == nil || ar.AccessToken == "" {
		m.teardown(ctx, gen, "empty authentication response")
		return "", fmt.Errorf("%w: authentication response has no access token", api.ErrAuth)
	}

	now := m.nowFunc()

	m.mu.Lock()

	if m.gen != gen {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %w", api.ErrAuth, errSuperseded)
	}

	next := State{
		AccessToken:  ar.AccessToken,
		RefreshToken: ar.RefreshToken,
		Expiry:       now.Add(time.Duration(ar.ExpiresIn)*time.Second - safetyMargin),
		User:         m.state.User,
	}

	// Servers that do not rotate the long-lived credential omit it.
	if next.RefreshToken == "" {
		next.RefreshToken = m.state.RefreshToken
	}

	m.state = next
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.logger.Debug("credentials installed", slog.Time("expiry", next.Expiry))

	user, err := m.auth.Me(ctx, next.AccessToken)
	if err != nil {
		m.teardown(ctx, gen, "profile fetch failed")
		return "", fmt.Errorf("%w: fetching current user: %w", api.ErrAuth, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return "", fmt.Errorf("%w: %w", api.ErrAuth, errSuperseded)
	}

	m.state.User = user
	m.persistLocked(ctx)

	m.logger.Info("session established",
		slog.Int64("user_id", user.UserID),
		slog.String("username", user.Username),
	)

	return next.AccessToken, nil
}

// SetCurrentUser replaces the cached profile, e.g. after a rename.
func (m *Manager) SetCurrentUser(ctx context.Context, user *api.UserSummary) {
	if user == nil {
		return
	}

	u := *user

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Absent() {
		return
	}

	m.state.User = &u
	m.persistLocked(ctx)
}

// Terminate clears the session and erases persisted storage. Calling it
// with no session is a no-op.
func (m *Manager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.state = State{}

	if err := m.store.Erase(ctx); err != nil {
		return fmt.Errorf("session: erasing stored session: %w", err)
	}

	m.recordWriteLocked(State{})

	m.logger.Info("session terminated")

	return nil
}

// Restore loads the persisted session once at startup and checks it
// against the server. An expired credential is renewed first. Any failure
// leaves the manager with no session and is only logged, as if the user had
// never signed in.
func (m *Manager) Restore(ctx context.Context) error {
	st, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Info("discarding unreadable stored session", slog.String("error", err.Error()))
		m.teardown(ctx, m.bump(), "unreadable stored session")

		return nil
	}

	if st == nil || st.Absent() {
		return nil
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = st.clone()
	m.mu.Unlock()

	tok, err := m.EnsureValid(ctx)
	if err != nil {
		m.logger.Info("stored session could not be renewed", slog.String("error", err.Error()))
		return nil
	}

	if tok == "" {
		m.teardown(ctx, gen, "stored session has no long-lived credential")
		return nil
	}

	if tok != st.AccessToken {
		// Renewal went through establish, which fetched the profile.
		return nil
	}

	user, err := m.auth.Me(ctx, tok)
	if err != nil {
		m.logger.Info("stored session rejected", slog.String("error", err.Error()))
		m.teardown(ctx, gen, "profile fetch failed")

		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen == gen {
		m.state.User = user
		m.persistLocked(ctx)
	}

	m.logger.Debug("session restored", slog.String("username", user.Username))

	return nil
}

// Reload replaces the in-memory session with whatever is persisted, without
// contacting the server. Used when another process changed the store. A
// stored session equal to the in-memory one, or to one this process wrote
// itself, is left alone so an establish or renewal in progress is not
// superseded by its own write.
func (m *Manager) Reload(ctx context.Context) error {
	_, err := m.reload(ctx)
	return err
}

func (m *Manager) reload(ctx context.Context) (changed bool, err error) {
	st, err := m.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("session: reloading: %w", err)
	}

	var loaded State
	if st != nil {
		loaded = st.clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if loaded.equal(m.state) || m.ownWriteLocked(loaded) {
		return false, nil
	}

	m.gen++
	m.state = loaded

	m.logger.Debug("session reloaded", slog.Bool("authenticated", m.state.RefreshToken != ""))

	return true, nil
}

// recordWriteLocked remembers st as written by this process. Writes from
// earlier generations are forgotten. Caller holds m.mu.
func (m *Manager) recordWriteLocked(st State) {
	if m.ownGen != m.gen {
		m.own = m.own[:0]
		m.ownGen = m.gen
	}

	m.own = append(m.own, st.clone())
	if len(m.own) > ownWrites {
		m.own = m.own[len(m.own)-ownWrites:]
	}
}

// ownWriteLocked reports whether st is one of this generation's own writes.
// Caller holds m.mu.
func (m *Manager) ownWriteLocked(st State) bool {
	if m.ownGen != m.gen {
		return false
	}

	for _, w := range m.own {
		if st.equal(w) {
			return true
		}
	}

	return false
}

// bump starts a new generation and returns it.
func (m *Manager) bump() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++

	return m.gen
}

// teardown clears the session if it is still generation gen. Erase errors
// are logged; the in-memory session is gone either way.
func (m *Manager) teardown(ctx context.Context, gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen {
		return
	}

	m.gen++
	m.state = State{}

	if err := m.store.Erase(ctx); err != nil {
		m.logger.Warn("failed to erase stored session", slog.String("error", err.Error()))
	} else {
		m.recordWriteLocked(State{})
	}

	m.logger.Info("session torn down", slog.String("reason", reason))
}

// persistLocked writes the current state. Caller holds m.mu. Failures are
// logged and do not invalidate the in-memory session.
func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.Save(ctx, m.state); err != nil {
		m.logger.Warn("failed to persist session", slog.String("error", err.Error()))
		return
	}

	m.recordWriteLocked(m.state)
}
