package esi

import (
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://esi.evetech.net/latest/"
	DefaultAuthURL  = "https://login.eveonline.com/v2/oauth/authorize"
	DefaultTokenURL = "https://login.eveonline.com/v2/oauth/token"
)

// DefaultScopes are the SSO scopes the structure and notification endpoints need.
var DefaultScopes = []string{
	"esi-corporations.read_structures.v1",
	"esi-characters.read_notifications.v1",
}

// Config holds the ESI application and corporation settings.
type Config struct {
	BaseURL       string
	AuthURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	CallbackURL   string
	Scopes        []string
	CorporationID int64
	UserAgent     string
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.UserAgent == "" {
		c.UserAgent = "structwatch"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
