package source

import (
	"context"
	"errors"
)

// ErrNoToken is returned when no credential was configured.
var ErrNoToken = errors.New("no token configured")

// StaticToken hands out a fixed credential.
type StaticToken string

// Token returns the configured text.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
