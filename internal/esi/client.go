// Package esi talks to the EVE Swagger Interface: SSO tokens, corporation
// structures and character notifications.
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"structwatch/internal/model"
	logx "structwatch/pkg/logx"
)

// maxPages bounds X-Pages so a bad header cannot loop forever.
const maxPages = 50

// Client fetches structures and notifications for the session's character.
type Client struct {
	cfg  Config
	http *http.Client
	sess *Session
	log  logx.Logger
}

func NewClient(cfg Config, sess *Session, httpClient *http.Client, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, sess: sess, log: log}
}

// Structures returns every structure of the configured corporation. The
// response's Expires header is recorded on the session as the next time a
// poll can see new data.
func (c *Client) Structures(ctx context.Context) ([]model.Structure, error) {
	path := fmt.Sprintf("corporations/%d/structures/", c.cfg.CorporationID)

	var (
		out     []model.Structure
		expires time.Time
	)
	for page, pages := 1, 1; page <= pages; page++ {
		var batch []model.Structure
		hdr, err := c.get(ctx, path, page, &batch)
		if err != nil {
			return nil, err
		}
		if page == 1 {
			pages = pageCount(hdr)
			if t, err := http.ParseTime(hdr.Get("Expires")); err == nil {
				expires = t
			}
		}
		out = append(out, batch...)
	}

	if !expires.IsZero() {
		c.sess.SetNextAvailable(expires)
	}
	c.log.Debug("structures fetched", logx.Int("count", len(out)), logx.Time("expires", expires))
	return out, nil
}

// Notifications returns the character's structure related notifications.
func (c *Client) Notifications(ctx context.Context) ([]model.Notification, error) {
	charID := c.sess.CharacterID()
	if charID == 0 {
		return nil, ErrNoCredentials
	}
	var all []model.Notification
	if _, err := c.get(ctx, fmt.Sprintf("characters/%d/notifications/", charID), 0, &all); err != nil {
		return nil, err
	}

	out := all[:0]
	for _, n := range all {
		if IsStructureNotification(n.Type) {
			out = append(out, n)
		}
	}
	c.log.Debug("notifications fetched", logx.Int("total", len(all)), logx.Int("structure", len(out)))
	return out, nil
}

// IsStructureNotification reports whether a notification type concerns structures.
func IsStructureNotification(typ string) bool {
	return strings.Contains(typ, "Structure") || typ == "AllAnchoringMsg"
}

func (c *Client) get(ctx context.Context, path string, page int, v any) (http.Header, error) {
	tok, err := c.sess.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", ErrFetch, err)
	}

	u := c.cfg.BaseURL + path
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrFetch, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", ErrFetch, path, err)
	}
	return resp.Header, nil
}

func pageCount(h http.Header) int {
	n, err := strconv.Atoi(h.Get("X-Pages"))
	if err != nil || n < 1 {
		return 1
	}
	if n > maxPages {
		return maxPages
	}
	return n
}
