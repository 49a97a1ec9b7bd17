package esi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// CredentialStore persists the SSO credentials between restarts.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) (model.Credentials, bool, error)
	SaveCredentials(ctx context.Context, creds model.Credentials) error
}

// Session owns everything the fetchers share: the SSO credentials, the
// refreshing token source and the earliest time the structure endpoint
// will serve fresh data.
//
// Ready is closed the first time credentials are set and stays closed.
type Session struct {
	log   logx.Logger
	store CredentialStore
	http  *http.Client
	oauth *oauth2.Config

	mu            sync.RWMutex
	creds         model.Credentials
	src           oauth2.TokenSource
	nextAvailable time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

func NewSession(cfg Config, store CredentialStore, httpClient *http.Client, log logx.Logger) *Session {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Session{
		log:   log,
		store: store,
		http:  httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		ready: make(chan struct{}),
	}
}

// Ready is closed once the session holds usable credentials.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Restore loads persisted credentials, if any. A missing file is not an error.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	creds, ok, err := s.store.LoadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !ok || !creds.Valid() {
		s.log.Info("no stored credentials; waiting for SSO login")
		return nil
	}
	s.install(creds)
	s.log.Info("credentials restored", logx.Int64("character_id", creds.CharacterID))
	return nil
}

// SetCredentials replaces the active credentials and persists them.
func (s *Session) SetCredentials(ctx context.Context, creds model.Credentials) error {
	if !creds.Valid() {
		return ErrNoCredentials
	}
	s.install(creds)
	if s.store != nil {
		if err := s.store.SaveCredentials(ctx, creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
	}
	s.log.Info("credentials set", logx.Int64("character_id", creds.CharacterID))
	return nil
}

func (s *Session) install(creds model.Credentials) {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}
	// oauth2 treats a zero expiry as "never expires"; force a refresh instead.
	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now()
	}
	base := s.oauth.TokenSource(s.clientContext(), tok)

	s.mu.Lock()
	s.creds = creds
	s.src = &persistingSource{s: s, base: base}
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
}

// clientContext carries the HTTP client used for token refreshes.
func (s *Session) clientContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, s.http)
}

// AuthCodeURL is the SSO login URL for the given anti-forgery state.
func (s *Session) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange trades an SSO authorization code for tokens and installs them.
func (s *Session) Exchange(ctx context.Context, code string) (model.Credentials, error) {
	tok, err := s.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.http), code)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("exchange code: %w", err)
	}
	charID, err := CharacterID(tok.AccessToken)
	if err != nil {
		return model.Credentials{}, err
	}
	creds := model.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		CharacterID:  charID,
	}
	if err := s.SetCredentials(ctx, creds); err != nil {
		return model.Credentials{}, err
	}
	return creds, nil
}

// Token returns a valid access token, refreshing it when needed.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	src := s.src
	s.mu.RUnlock()
	if src == nil {
		return nil, ErrNoCredentials
	}
	return src.Token()
}

func (s *Session) CharacterID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.CharacterID
}

func (s *Session) Credentials() model.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// NextAvailable is when the structure endpoint cache expires.
func (s *Session) NextAvailable() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextAvailable
}

func (s *Session) SetNextAvailable(t time.Time) {
	s.mu.Lock()
	s.nextAvailable = t
	s.mu.Unlock()
}

// WaitReady blocks until credentials are available. It logs every interval
// and gives up with ErrCredentialsTimeout after attempts intervals
// (attempts <= 0 waits until ctx ends).
func (s *Session) WaitReady(ctx context.Context, interval time.Duration, attempts int) error {
	select {
	case <-s.ready:
		return nil
	default:
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 1; attempts <= 0 || i <= attempts; i++ {
		select {
		case <-s.ready:
			s.log.Info("esi credentials available")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.log.Info("waiting for esi credentials", logx.Int("attempt", i))
		}
	}
	select {
	case <-s.ready:
		return nil
	default:
		return ErrCredentialsTimeout
	}
}

// observe persists tokens that the refresh flow rotated.
func (s *Session) observe(tok *oauth2.Token) {
	s.mu.Lock()
	if tok.AccessToken == s.creds.AccessToken {
		s.mu.Unlock()
		return
	}
	s.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.creds.RefreshToken = tok.RefreshToken
	}
	s.creds.Expiry = tok.Expiry
	creds := s.creds
	s.mu.Unlock()

	s.log.Debug("esi token refreshed", logx.Time("expiry", tok.Expiry))
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		s.log.Warn("persist refreshed token failed", logx.Err(err))
	}
}

type persistingSource struct {
	s    *Session
	base oauth2.TokenSource
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.s.observe(tok)
	return tok, nil
}

// CharacterID extracts the character from an SSO access token whose subject
// is "CHARACTER:EVE:<id>". The signature is not verified.
func CharacterID(accessToken string) (int64, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	parts := strings.Split(claims.Subject, ":")
	if len(parts) != 3 || parts[0] != "CHARACTER" {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}
