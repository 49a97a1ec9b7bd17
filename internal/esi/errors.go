package esi

import "errors"

var (
	ErrFetch              = errors.New("esi fetch failed")
	ErrNoCredentials      = errors.New("esi credentials not set")
	ErrCredentialsTimeout = errors.New("timed out waiting for esi credentials")
	ErrInvalidToken       = errors.New("esi token has no character subject")
)
