package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/fortunegame/internal/client"
)

var errCredentialsRequired = errors.New("--user and --password are required")

// commandContext bounds a command by the configured timeout
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), cfg.Timeout)
}

// connect dials the server and, when credentials are set, logs in. The
// returned welcome message is empty for anonymous connections.
func connect(ctx context.Context, requireLogin bool) (*client.Client, string, error) {
	if requireLogin && !cfg.HasCredentials() {
		return nil, "", errCredentialsRequired
	}

	c, err := client.Dial(ctx, cfg.Server)
	if err != nil {
		return nil, "", err
	}
	if !cfg.HasCredentials() {
		return c, "", nil
	}

	welcome, err := c.Login(ctx, cfg.User, cfg.Password)
	if err != nil {
		_ = c.Close()
		return nil, "", fmt.Errorf("login failed: %w", err)
	}
	return c, welcome, nil
}
