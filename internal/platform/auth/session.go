package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/patientctl/internal/platform/kv"
)

// Storage keys. They match what the mobile app writes so a copied state
// directory keeps working.
const (
	KeyUser         = "user"
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// AnonymousPatientID is sent as Patient-Id when no user is signed in.
const AnonymousPatientID = "-1"

// DefaultRefreshPath is the backend route that exchanges a refresh token.
const DefaultRefreshPath = "/auth/refresh"

var ErrIncompleteSession = errors.New("auth: user, access token and refresh token are all required")

// User is the signed-in patient as stored under the "user" key.
type User struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	ImageURL string `json:"imageURL,omitempty"`
	PhoneNo  string `json:"phoneNo,omitempty"`
}

// SignOutFunc notifies an upstream identity provider on logout.
type SignOutFunc func(ctx context.Context, accessToken string) error

// Manager holds the current session in memory and mirrors it to a kv.Store.
// Storage failures are logged and never returned to callers. It is safe for
// concurrent use.
type Manager struct {
	store       kv.Store
	backendURL  string
	refreshPath string
	httpClient  *http.Client
	logger      zerolog.Logger
	signOut     SignOutFunc

	mu           sync.RWMutex
	user         *User
	accessToken  string
	refreshToken string

	readyOnce sync.Once
	ready     chan struct{}

	refreshGroup singleflight.Group
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithRefreshPath(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.refreshPath = path
		}
	}
}

// WithSignOut registers a hook that runs before local state is cleared.
func WithSignOut(fn SignOutFunc) Option {
	return func(m *Manager) { m.signOut = fn }
}

func NewManager(store kv.Store, backendURL string, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		backendURL:  strings.TrimRight(backendURL, "/"),
		refreshPath: DefaultRefreshPath,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      zerolog.Nop(),
		ready:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads a persisted session. Memory is populated only when all three
// keys are present; otherwise the manager stays logged out.
func (m *Manager) Restore(ctx context.Context) {
	defer m.readyOnce.Do(func() { close(m.ready) })

	vals, err := m.store.MultiGet(ctx, KeyUser, KeyAccessToken, KeyRefreshToken)
	if err != nil {
		m.logger.Error().Err(err).Msg("restore session")
		return
	}

	rawUser, access, refresh := vals[KeyUser], vals[KeyAccessToken], vals[KeyRefreshToken]
	if rawUser == "" || access == "" || refresh == "" {
		return
	}

	var u User
	if err := json.Unmarshal([]byte(rawUser), &u); err != nil {
		m.logger.Warn().Err(err).Msg("stored user is not valid JSON, ignoring session")
		return
	}

	m.mu.Lock()
	m.user = &u
	m.accessToken = access
	m.refreshToken = refresh
	m.mu.Unlock()

	m.logger.Debug().Str("user_id", u.ID).Msg("session restored")
}

// Loading reports whether Restore has not yet finished.
func (m *Manager) Loading() bool {
	select {
	case <-m.ready:
		return false
	default:
		return true
	}
}

// Ready is closed once Restore returns.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// SetAuthData persists a new session and then publishes it in memory. If
// the write fails the error is logged and memory is left unchanged.
func (m *Manager) SetAuthData(ctx context.Context, user *User, accessToken, refreshToken string) error {
	if user == nil || accessToken == "" || refreshToken == "" {
		return ErrIncompleteSession
	}

	rawUser, err := json.Marshal(user)
	if err != nil {
		m.logger.Error().Err(err).Msg("encode user")
		return nil
	}

	err = m.store.MultiSet(ctx, map[string]string{
		KeyUser:         string(rawUser),
		KeyAccessToken:  accessToken,
		KeyRefreshToken: refreshToken,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("persist session")
		return nil
	}

	u := *user
	m.mu.Lock()
	m.user = &u
	m.accessToken = accessToken
	m.refreshToken = refreshToken
	m.mu.Unlock()

	m.logger.Info().Str("user_id", u.ID).Msg("session stored")
	return nil
}

// Logout clears memory and storage. It always succeeds from the caller's
// point of view.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.RLock()
	access := m.accessToken
	m.mu.RUnlock()

	if m.signOut != nil && access != "" {
		if err := m.signOut(ctx, access); err != nil {
			m.logger.Warn().Err(err).Msg("upstream sign-out failed")
		}
	}

	if err := m.store.MultiRemove(ctx, KeyUser, KeyAccessToken, KeyRefreshToken); err != nil {
		m.logger.Error().Err(err).Msg("clear stored session")
	}

	m.mu.Lock()
	m.user = nil
	m.accessToken = ""
	m.refreshToken = ""
	m.mu.Unlock()

	m.logger.Info().Msg("logged out")
}

// IsLoggedIn reports whether both an access token and a user are held.
func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken != "" && m.user != nil
}

func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken
}

// User returns a copy of the signed-in user, or nil.
func (m *Manager) User() *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// PatientID returns the user id, or AnonymousPatientID when logged out.
func (m *Manager) PatientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil || m.user.ID == "" {
		return AnonymousPatientID
	}
	return m.user.ID
}
