package secrets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Request locates a secret for Resolve.
type Request struct {
	Path         string
	UsernameKey  string
	PasswordKey  string
	FallbackUser string // used when the secret carries no username
	Timeout      time.Duration
}

// Resolve asks each enabled provider in turn and returns the first
// credentials with a password. When every provider fails the errors are
// combined; when none is enabled ErrNoCredentials is returned.
func Resolve(ctx context.Context, req Request, logger *zap.Logger, providers ...Provider) (*Credentials, error) {
	log := logger.With(zap.String("secret_path", req.Path))
	if req.Timeout <= 0 {
		req.Timeout = 15 * time.Second
	}

	var errs error
	for _, p := range providers {
		if p == nil || !p.IsEnabled() {
			continue
		}
		getCtx, cancel := context.WithTimeout(ctx, req.Timeout)
		creds, err := p.GetCredentials(getCtx, req.Path, req.UsernameKey, req.PasswordKey)
		cancel()
		if err != nil {
			log.Warn("Credential provider failed, trying next", zap.String("provider", p.Name()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		if creds.Password == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: password field is empty", p.Name()))
			continue
		}
		if creds.Username == "" {
			log.Warn("Username empty in retrieved secret, falling back to configured user", zap.String("provider", p.Name()))
			creds.Username = req.FallbackUser
		}
		log.Info("Credentials resolved", zap.String("provider", p.Name()))
		return creds, nil
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoCredentials, errs)
	}
	return nil, ErrNoCredentials
}
