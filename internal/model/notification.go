package model

import (
	"regexp"
	"strconv"
	"time"
)

// Notification is one raw entry from the character notification feed.
type Notification struct {
	ID         int64     `json:"notification_id"`
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsRead     bool      `json:"is_read"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderType string    `json:"sender_type"`
}

// Key is the dedup key of the notification.
func (n Notification) Key() string { return strconv.FormatInt(n.ID, 10) }

// ESI embeds the structure as a YAML anchor, e.g. "structureID: &id001 1035466617946".
var reStructureID = regexp.MustCompile(`structureID: &\w+\s+(\d+)`)

// StructureID extracts the structure referenced by the notification payload.
func (n Notification) StructureID() (int64, bool) {
	m := reStructureID.FindStringSubmatch(n.Text)
	if len(m) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SeenSet holds every notification key that was already dispatched.
type SeenSet map[string]struct{}

func (s SeenSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Clone returns an independent copy; a nil receiver yields an empty set.
func (s SeenSet) Clone() SeenSet {
	out := make(SeenSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
