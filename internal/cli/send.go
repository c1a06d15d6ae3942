package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user> <message>",
		Short: "Send a direct message to a logged-in user",
		Long: `Send a direct message to another user. The server drops messages to users
who are not logged in without telling the sender.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := args[0]
			text := strings.Join(args[1:], " ")

			ctx, cancel := commandContext(cmd)
			defer cancel()

			c, _, err := connect(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.DirectMessage(to, text); err != nil {
				return err
			}
			// Replies are ordered, so this returns once the message was routed
			if _, err := c.History(ctx); err != nil {
				return err
			}

			NewOutput(cmd.OutOrStdout(), cfg.Output).PrintMessage(fmt.Sprintf("Sent to %s", to))
			return nil
		},
	}
}
