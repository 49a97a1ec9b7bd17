package model

import "time"

// Credentials is the SSO token pair for the character whose notifications
// and corporation structures are read.
type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry,omitempty"`
	CharacterID  int64     `json:"characterID"`
}

func (c Credentials) Valid() bool {
	return c.RefreshToken != "" && c.CharacterID != 0
}

// TrackedMessage is a message currently making up a rolling chat view.
type TrackedMessage struct {
	ChatID    int64 `json:"chat_id"`
	ThreadID  int   `json:"thread_id,omitempty"`
	MessageID int   `json:"message_id"`
}
