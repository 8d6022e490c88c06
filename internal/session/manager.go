package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tuscoin/internal/broadcast"
	"tuscoin/internal/ledger"
	"tuscoin/internal/remote"
)

// Keys holding the persisted session.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrRemoteDisabled is returned by auth operations when no account service
// is configured.
var ErrRemoteDisabled = errors.New("session: remote account service not configured")

// KV is the local store the session reads and writes.
type KV interface {
	ledger.KV
	Delete(ctx context.Context, keys ...string) error
}

// State describes who the ledger currently belongs to.
type State struct {
	Authenticated bool         `json:"authenticated"`
	User          *remote.User `json:"user,omitempty"`
}

// Options configures a Manager.
type Options struct {
	KV          KV
	Remote      *remote.Client
	Notifier    broadcast.Notifier
	SyncTimeout time.Duration
	Logger      zerolog.Logger
}

// Manager selects the active ledger variant from the authentication state and
// routes every Store call to it.
type Manager struct {
	kv          KV
	remote      *remote.Client
	notifier    broadcast.Notifier
	syncTimeout time.Duration
	logger      zerolog.Logger

	// switchMu is held for reading by pinned operations and for writing
	// while the active variant changes.
	switchMu sync.RWMutex

	mu      sync.RWMutex
	active  ledger.Store
	user    *remote.User
	syncers []*remote.Syncer
}

// NewManager constructs a Manager. Call Restore before use.
func NewManager(opts Options) *Manager {
	return &Manager{
		kv:          opts.KV,
		remote:      opts.Remote,
		notifier:    opts.Notifier,
		syncTimeout: opts.SyncTimeout,
		logger:      opts.Logger.With().Str("component", "session").Logger(),
	}
}

// Restore resumes a persisted session or falls back to the anonymous ledger.
func (m *Manager) Restore(ctx context.Context) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	token, ok, err := m.kv.Get(ctx, KeyToken)
	if err != nil {
		return fmt.Errorf("read session token: %w", err)
	}
	if ok && token != "" && m.remote != nil {
		profile, err := m.remote.GetAccount(ctx, token)
		switch {
		case err != nil:
			m.logger.Warn().Err(err).Msg("saved session could not be restored, continuing anonymously")
			if errors.Is(err, remote.ErrUnauthorized) {
				if derr := m.kv.Delete(ctx, KeyToken, KeyUser); derr != nil {
					m.logger.Warn().Err(derr).Msg("failed to drop stale token")
				}
			}
		default:
			err = m.activate(ctx, profile.User, token, profile.Transactions)
			if err == nil {
				m.logger.Info().Str("user_id", profile.ID).Msg("session restored")
				return nil
			}
			m.logger.Error().Err(err).Msg("failed to load authenticated ledger")
		}
	}
	return m.activateAnonymous(ctx)
}

// Login authenticates and switches to the user's ledger. On failure the
// current variant stays active.
func (m *Manager) Login(ctx context.Context, email, password string) (State, error) {
	if m.remote == nil {
		return m.State(), ErrRemoteDisabled
	}
	sess, err := m.remote.Login(ctx, email, password)
	if err != nil {
		m.logger.Warn().Err(err).Str("email", email).Msg("login failed")
		return m.State(), err
	}

	history, err := m.remote.ListTransactions(ctx, sess.Token)
	if err != nil {
		m.logger.Warn().Err(err).Msg("remote history unavailable, using local log only")
		history = nil
	}

	userRaw, err := json.Marshal(sess.User)
	if err != nil {
		return m.State(), fmt.Errorf("encode session user: %w", err)
	}
	if err := m.switchTo(func() error {
		if err := m.kv.SetMany(ctx, map[string]string{KeyToken: sess.Token, KeyUser: string(userRaw)}); err != nil {
			return &ledger.PersistenceError{Op: "save session", Err: err}
		}
		return m.activate(ctx, sess.User, sess.Token, history)
	}); err != nil {
		return m.State(), err
	}

	m.logger.Info().Str("user_id", sess.User.ID).Str("username", sess.User.Username).Msg("logged in")
	m.announce(ctx)
	return m.State(), nil
}

// Logout forgets the token and reloads the anonymous ledger.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.switchTo(func() error {
		if err := m.kv.Delete(ctx, KeyToken, KeyUser); err != nil {
			return &ledger.PersistenceError{Op: "clear session", Err: err}
		}
		return m.activateAnonymous(ctx)
	}); err != nil {
		return err
	}
	m.logger.Info().Msg("logged out")
	m.announce(ctx)
	return nil
}

// Register creates a remote account. It does not log in.
func (m *Manager) Register(ctx context.Context, username, email, password string) error {
	if m.remote == nil {
		return ErrRemoteDisabled
	}
	return m.remote.Register(ctx, username, email, password)
}

// State reports the current authentication state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return State{}
	}
	u := *m.user
	return State{Authenticated: true, User: &u}
}

// Wait drains pending remote sync calls.
func (m *Manager) Wait() {
	m.mu.RLock()
	syncers := slices.Clone(m.syncers)
	m.mu.RUnlock()
	for _, s := range syncers {
		s.Wait()
	}
}

// Read implements ledger.Store.
func (m *Manager) Read(ctx context.Context) (ledger.Account, error) {
	store, err := m.current()
	if err != nil {
		return ledger.Account{}, err
	}
	return store.Read(ctx)
}

// ApplyDelta implements ledger.Store.
func (m *Manager) ApplyDelta(ctx context.Context, delta ledger.Delta) (ledger.Account, error) {
	store, err := m.current()
	if err != nil {
		return ledger.Account{}, err
	}
	return store.ApplyDelta(ctx, delta)
}

// AppendTransaction implements ledger.Store.
func (m *Manager) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	store, err := m.current()
	if err != nil {
		return err
	}
	return store.AppendTransaction(ctx, tx)
}

// Pin implements ledger.Pinner. Login and Logout wait until release is called.
func (m *Manager) Pin() (ledger.Store, func(), error) {
	m.switchMu.RLock()
	store, err := m.current()
	if err != nil {
		m.switchMu.RUnlock()
		return nil, nil, err
	}
	return store, m.switchMu.RUnlock, nil
}

// switchTo runs fn once no operation holds the active variant.
func (m *Manager) switchTo(fn func() error) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()
	return fn()
}

func (m *Manager) current() (ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return nil, errors.New("session: not restored")
	}
	return m.active, nil
}

func (m *Manager) activateAnonymous(ctx context.Context) error {
	local, err := ledger.OpenLocal(ctx, m.kv, "")
	if err != nil {
		return fmt.Errorf("load anonymous ledger: %w", err)
	}
	m.mu.Lock()
	m.active = local
	m.user = nil
	m.mu.Unlock()
	return nil
}

// activate loads the user's namespace. An existing namespace is
// authoritative and a diverging remote coin balance is corrected from it. A
// namespace seen for the first time is seeded from the remote coins and
// history.
func (m *Manager) activate(ctx context.Context, user remote.User, token string, history []remote.Transaction) error {
	if user.ID == "" {
		return errors.New("session: account without id")
	}
	local, err := ledger.OpenLocal(ctx, m.kv, ledger.UserPrefix(user.ID))
	if err != nil {
		return fmt.Errorf("load ledger for user %s: %w", user.ID, err)
	}
	syncer := remote.NewSyncer(m.remote, token, m.syncTimeout, m.logger)

	acc, err := local.Read(ctx)
	if err != nil {
		return err
	}
	switch {
	case !local.Existed():
		acc = ledger.Account{Coin: user.Coins}
		seeded := make([]ledger.Transaction, 0, len(history))
		for i := len(history) - 1; i >= 0; i-- {
			seeded = append(seeded, remote.ToLedger(history[i]))
		}
		acc.Transactions = seeded
		if err := local.Replace(ctx, acc); err != nil {
			return err
		}
	case !acc.Coin.Equal(user.Coins):
		m.logger.Warn().
			Str("user_id", user.ID).
			Str("local_coins", acc.Coin.String()).
			Str("remote_coins", user.Coins.String()).
			Msg("remote coin balance diverged, pushing local balance")
		syncer.SyncCoins(acc.Coin.Sub(user.Coins))
	}

	store := ledger.NewAuthenticated(local, user.ID, syncer)

	m.mu.Lock()
	m.active = store
	u := user
	u.Coins = acc.Coin
	m.user = &u
	m.syncers = append(m.syncers, syncer)
	m.mu.Unlock()
	return nil
}

func (m *Manager) announce(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(broadcast.AuthChanged, m.State())
	acc, err := m.Read(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to read ledger after session change")
		return
	}
	m.notifier.Publish(broadcast.BalancesChanged, acc)
}

var _ ledger.Store = (*Manager)(nil)
