package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/fortunegame/internal/client"
	"github.com/mcoot/fortunegame/internal/protocol"
)

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long:  `Create an account with --user and --password. Registering does not log in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.HasCredentials() {
				return errCredentialsRequired
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, err := client.Dial(ctx, cfg.Server)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			msg, err := c.Register(ctx, cfg.User, cfg.Password)
			if err != nil {
				return err
			}

			NewOutput(cmd.OutOrStdout(), cfg.Output).PrintMessage(msg)
			return nil
		},
	}
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check credentials and show the welcome message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, welcome, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			NewOutput(cmd.OutOrStdout(), cfg.Output).PrintMessage(welcome)
			return nil
		},
	}
}

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users currently logged in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			// Every login is followed by a presence update
			p, err := c.Await(ctx, protocol.TypeUserList)
			if err != nil {
				return err
			}
			names, err := protocol.ExtractPayload[[]string](p)
			if err != nil {
				return err
			}

			NewOutput(cmd.OutOrStdout(), cfg.Output).Print(UserList{Users: names})
			return nil
		},
	}
}
