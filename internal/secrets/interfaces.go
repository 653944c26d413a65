package secrets

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned when no enabled provider yields credentials.
var ErrNoCredentials = errors.New("no credentials available")

// Credentials holds the retrieved username and password.
type Credentials struct {
	Username string
	Password string
}

// Provider is one source of database credentials.
type Provider interface {
	// GetCredentials retrieves credentials. pathOrID locates the secret;
	// usernameKey and passwordKey name the fields within it. Providers that
	// are not keyed by path ignore the arguments.
	GetCredentials(ctx context.Context, pathOrID, usernameKey, passwordKey string) (*Credentials, error)

	// IsEnabled reports whether this provider is configured and usable.
	IsEnabled() bool

	Name() string
}
