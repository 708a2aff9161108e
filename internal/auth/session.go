package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soboure69/My-Portefolio-data-science/internal/apiclient"
	"github.com/soboure69/My-Portefolio-data-science/internal/apperrors"
	"github.com/soboure69/My-Portefolio-data-science/internal/events"
	"github.com/soboure69/My-Portefolio-data-science/internal/logger"
	"github.com/soboure69/My-Portefolio-data-science/internal/models"
	"github.com/soboure69/My-Portefolio-data-science/internal/validate"
)

const refreshFlightKey = "refresh"

// TokenStore persists session between runs.
// Get must return apperrors.ErrKeyNotFound for missing keys
type TokenStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

type Option func(*Session)

func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithClock replaces time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session attaches bearer token to requests, refreshes it when it is about to expire
// and replays a request once after 401.
// Session is a Doer itself, so it wraps the request client transparently
type Session struct {
	doer  apiclient.Doer
	store TokenStore
	cfg   Config
	log   logger.Logger
	now   func() time.Time
	bus   *events.Bus[Event]

	// Only one refresh call in flight, others join it
	refreshes singleflight.Group

	mu           sync.RWMutex
	token        string
	refreshToken string
	user         *models.User
	state        State
}

func New(doer apiclient.Doer, store TokenStore, cfg Config, opts ...Option) (*Session, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	s := &Session{
		doer:  doer,
		store: store,
		cfg:   cfg,
		log:   logger.NewNoOpLogger(),
		now:   time.Now,
		bus:   events.NewBus[Event](),
		state: StateAnonymous,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Load restores session from the store.
// Corrupted user data drops the whole session
func (s *Session) Load(ctx context.Context) error {
	token, err := s.get(ctx, s.cfg.TokenKey)
	if err != nil {
		return err
	}
	refreshToken, err := s.get(ctx, s.cfg.RefreshTokenKey)
	if err != nil {
		return err
	}
	userData, err := s.get(ctx, s.cfg.UserKey)
	if err != nil {
		return err
	}

	var user *models.User
	if userData != "" {
		user = &models.User{}
		if err := json.Unmarshal([]byte(userData), user); err != nil {
			s.log.Warn("stored user data is corrupted, dropping session", "error", err)
			_, clearErr := s.endSession(ctx, StateAnonymous, false)
			return clearErr
		}
	}

	s.mu.Lock()
	s.token = token
	s.refreshToken = refreshToken
	s.user = user
	if token != "" {
		s.setState(StateAuthenticated)
	} else {
		s.setState(StateAnonymous)
	}
	s.mu.Unlock()

	return nil
}

func (s *Session) get(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, apperrors.ErrKeyNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return value, nil
}

// Subscribe registers observer for login, refresh and logout events
func (s *Session) Subscribe(o Observer) (unsubscribe func()) {
	return s.bus.Subscribe(o)
}

// Do sends request through the wrapped doer with session token attached
func (s *Session) Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error) {
	payload := func() any { return req.Payload }
	if s.replayable(req) {
		var err error
		if payload, err = rewindable(req.Payload); err != nil {
			return nil, err
		}
		req.Payload = payload()
	}

	authorized, token, err := s.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.doer.Do(ctx, authorized)
	if err == nil || !apiclient.IsUnauthorized(err) || !s.replayable(req) {
		return resp, err
	}

	req.Payload = payload()
	return s.replay(ctx, req, token, err)
}

// rewindable reads stream payloads into memory, so the body can be sent again.
// Returned func gives a fresh payload for every attempt
func rewindable(payload any) (func() any, error) {
	switch p := payload.(type) {
	case io.Reader:
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		return func() any { return bytes.NewReader(data) }, nil

	case *apiclient.MultipartPayload:
		if p == nil {
			break
		}
		contents := make([][]byte, len(p.Files))
		for i, f := range p.Files {
			data, err := io.ReadAll(f.Content)
			if err != nil {
				return nil, fmt.Errorf("read multipart file %q: %w", f.Field, err)
			}
			contents[i] = data
		}
		return func() any {
			files := make([]apiclient.MultipartFile, len(p.Files))
			for i, f := range p.Files {
				f.Content = bytes.NewReader(contents[i])
				files[i] = f
			}
			return &apiclient.MultipartPayload{Fields: maps.Clone(p.Fields), Files: files}
		}, nil
	}

	return func() any { return payload }, nil
}

// authorize returns request with token header and the token attached.
// Token expiring soon is refreshed first
func (s *Session) authorize(ctx context.Context, req apiclient.Request) (apiclient.Request, string, error) {
	if req.Endpoint == s.cfg.RefreshEndpoint {
		return req, "", nil
	}

	token := s.Token()
	if token == "" {
		return req, "", nil
	}

	if s.cfg.AutoRefresh && expiresWithin(token, s.cfg.RefreshThreshold, s.now()) {
		s.log.Debug("token expires soon, refreshing", "endpoint", req.Endpoint)
		if err := s.sharedRefresh(ctx, token, false); err != nil {
			return req, "", err
		}
		token = s.Token()
		if token == "" {
			return req, "", fmt.Errorf("session expired: %w", apperrors.ErrNotAuthenticated)
		}
	}

	return s.withToken(req, token), token, nil
}

func (s *Session) withToken(req apiclient.Request, token string) apiclient.Request {
	headers := maps.Clone(req.Options.Headers)
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers[s.cfg.TokenHeader] = s.cfg.TokenPrefix + token
	req.Options.Headers = headers
	return req
}

// replayable: refresh and login calls are never recovered, their 401 is final
func (s *Session) replayable(req apiclient.Request) bool {
	return req.Endpoint != s.cfg.LoginEndpoint && req.Endpoint != s.cfg.RefreshEndpoint
}

// replay refreshes session and sends request once more.
// Any failure ends the session
func (s *Session) replay(ctx context.Context, req apiclient.Request, usedToken string, original error) (*apiclient.Response, error) {
	s.log.Info("request unauthorized, trying to refresh session", "method", req.Method, "endpoint", req.Endpoint)

	if err := s.sharedRefresh(ctx, usedToken, false); err != nil {
		s.forceLogout(ctx)
		return nil, errors.Join(original, err)
	}

	token := s.Token()
	if token == "" {
		s.forceLogout(ctx)
		return nil, errors.Join(original, apperrors.ErrNotAuthenticated)
	}

	resp, err := s.doer.Do(ctx, s.withToken(req, token))
	if err != nil {
		s.log.Warn("replayed request failed", "method", req.Method, "endpoint", req.Endpoint, "error", err)
		s.forceLogout(ctx)
		return nil, errors.Join(err, original)
	}

	return resp, nil
}

func (s *Session) forceLogout(ctx context.Context) {
	s.expire(ctx, StateAnonymous, true)
}

// expire ends session without caller asking for it
func (s *Session) expire(ctx context.Context, next State, notifyServer bool) {
	hadSession, err := s.endSession(ctx, next, notifyServer)
	if err != nil {
		s.log.Error("failed to clear session", "error", err)
	}
	if hadSession {
		s.publish(EventLogout)
	}
}

// Refresh exchanges refresh token for a new token pair.
// Concurrent callers share one refresh call; failure expires the session
func (s *Session) Refresh(ctx context.Context) error {
	return s.sharedRefresh(ctx, "", true)
}

// sharedRefresh joins refresh in flight or starts a new one.
// Unless forced, nothing is sent if token is not the seen one anymore: it was already rotated
func (s *Session) sharedRefresh(ctx context.Context, seen string, force bool) error {
	ch := s.refreshes.DoChan(refreshFlightKey, func() (any, error) {
		if !force && s.Token() != seen {
			return nil, nil
		}
		return nil, s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.refreshToken
	if refreshToken != "" {
		s.setState(StateRefreshing)
	}
	s.mu.Unlock()

	if refreshToken == "" {
		s.expire(ctx, StateExpired, false)
		return apperrors.ErrNoRefreshToken
	}

	resp, err := s.doer.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Endpoint: s.cfg.RefreshEndpoint,
		Payload:  models.RefreshRequest{RefreshToken: refreshToken},
	})

	var pair models.TokenPair
	if err == nil {
		pair, err = decodePair(resp)
	}
	if err != nil {
		s.log.Warn("token refresh failed", "error", err)
		s.expire(ctx, StateExpired, false)
		return fmt.Errorf("refresh token: %w", err)
	}

	if err := s.SetToken(ctx, pair.Token, pair.RefreshToken); err != nil {
		return err
	}

	s.publish(EventRefresh)
	return nil
}

// Login authenticates with credentials and loads user profile.
// Any failure leaves session anonymous
func (s *Session) Login(ctx context.Context, creds models.Credentials) (*models.User, error) {
	if err := validate.Struct(creds); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	}

	resp, err := s.doer.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Endpoint: s.cfg.LoginEndpoint,
		Payload:  creds,
	})

	var pair models.TokenPair
	if err == nil {
		pair, err = decodePair(resp)
	}
	if err != nil {
		s.log.Info("login failed", "email", creds.Email, "error", err)
		s.forceLogout(ctx)
		return nil, err
	}

	if err := s.SetToken(ctx, pair.Token, pair.RefreshToken); err != nil {
		s.forceLogout(ctx)
		return nil, err
	}

	user, err := s.FetchUser(ctx)
	if err != nil {
		s.forceLogout(ctx)
		return nil, err
	}

	s.log.Info("logged in", "user", user.ID)
	s.publish(EventLogin)
	return user, nil
}

// Logout notifies server and clears session. Server errors are only logged,
// local data is cleared anyway
func (s *Session) Logout(ctx context.Context) error {
	hadSession, err := s.endSession(ctx, StateAnonymous, true)
	if hadSession {
		s.publish(EventLogout)
	}
	return err
}

// endSession clears session in memory and in store, then moves to next state.
// Reports whether there was a session to clear
func (s *Session) endSession(ctx context.Context, next State, notifyServer bool) (bool, error) {
	s.mu.Lock()
	token := s.token
	hadSession := s.token != "" || s.refreshToken != "" || s.user != nil
	s.token = ""
	s.refreshToken = ""
	s.user = nil
	s.setState(next)
	s.mu.Unlock()

	if notifyServer && token != "" {
		s.notifyLogout(ctx, token)
	}

	var errs []error
	for _, key := range []string{s.cfg.TokenKey, s.cfg.RefreshTokenKey, s.cfg.UserKey} {
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}

	return hadSession, errors.Join(errs...)
}

func (s *Session) notifyLogout(ctx context.Context, token string) {
	req := s.withToken(apiclient.Request{
		Method:   http.MethodPost,
		Endpoint: s.cfg.LogoutEndpoint,
	}, token)

	if _, err := s.doer.Do(ctx, req); err != nil {
		s.log.Warn("server logout failed", "error", err)
	}
}

// FetchUser loads profile of the current user. 401 ends the session
func (s *Session) FetchUser(ctx context.Context) (*models.User, error) {
	if !s.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	resp, err := s.Do(ctx, apiclient.Request{Method: http.MethodGet, Endpoint: s.cfg.UserEndpoint})
	if err != nil {
		if apiclient.IsUnauthorized(err) && s.IsAuthenticated() {
			s.forceLogout(ctx)
		}
		return nil, err
	}

	user := &models.User{}
	if err := resp.Decode(user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}

	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	if err := s.store.Set(ctx, s.cfg.UserKey, string(data)); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}

	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	return cloneUser(user), nil
}

// SetToken replaces the token. Empty refresh token keeps the current one
func (s *Session) SetToken(ctx context.Context, token string, refreshToken string) error {
	s.mu.Lock()
	s.token = token
	if refreshToken != "" {
		s.refreshToken = refreshToken
	}
	refreshToken = s.refreshToken
	if token != "" {
		s.setState(StateAuthenticated)
	} else {
		s.setState(StateAnonymous)
	}
	s.mu.Unlock()

	if err := s.put(ctx, s.cfg.TokenKey, token); err != nil {
		return err
	}
	return s.put(ctx, s.cfg.RefreshTokenKey, refreshToken)
}

// put stores value, empty value removes the key
func (s *Session) put(ctx context.Context, key string, value string) error {
	var err error
	if value == "" {
		err = s.store.Delete(ctx, key)
	} else {
		err = s.store.Set(ctx, key, value)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns copy of cached profile or nil
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.user)
}

func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// HasRole reports whether user has any of roles
func (s *Session) HasRole(roles ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.HasAnyRole(roles...)
}

// HasPermission reports whether user has all of perms
func (s *Session) HasPermission(perms ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.HasAllPermissions(perms...)
}

// setState must be called with mu held
func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.log.Debug("session state changed", "from", s.state, "to", next)
	s.state = next
}

func (s *Session) publish(kind EventKind) {
	s.bus.Publish(Event{Kind: kind, State: s.State(), User: s.User()})
}

func decodePair(resp *apiclient.Response) (models.TokenPair, error) {
	var pair models.TokenPair
	if err := resp.Decode(&pair); err != nil {
		return pair, fmt.Errorf("%w: %w", apperrors.ErrInvalidTokenPair, err)
	}
	if pair.Token == "" {
		return pair, apperrors.ErrInvalidTokenPair
	}
	return pair, nil
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append(models.StringList(nil), u.Roles...)
	c.Permissions = append(models.StringList(nil), u.Permissions...)
	return &c
}
