package secrets

import (
	"context"
	"fmt"
)

// EnvProvider serves the user and password given directly in configuration.
type EnvProvider struct {
	Username string
	Password string
}

func (p EnvProvider) Name() string { return "env" }

func (p EnvProvider) IsEnabled() bool { return p.Password != "" }

func (p EnvProvider) GetCredentials(context.Context, string, string, string) (*Credentials, error) {
	if p.Username == "" {
		return nil, fmt.Errorf("password provided via environment but DB_USER is missing")
	}
	return &Credentials{Username: p.Username, Password: p.Password}, nil
}
