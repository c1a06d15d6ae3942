package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/fortunegame/internal/broadcast"
	"github.com/mcoot/fortunegame/internal/protocol"
)

func newListenCmd() *cobra.Command {
	var group, iface string
	var count int

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print the fortunes the server broadcasts",
		Long: `Join the server's multicast group and print each broadcast fortune as it
arrives. No login is needed.

Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listen(cmd, group, iface, count)
		},
	}

	cmd.Flags().StringVar(&group, "group", getEnvOrDefault("FORTUNE_BROADCAST_GROUP", broadcast.DefaultConfig().Group), "Multicast group address (env: FORTUNE_BROADCAST_GROUP)")
	cmd.Flags().StringVar(&iface, "iface", "", "Network interface to join the group on")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many fortunes (0 means run until interrupted)")

	return cmd
}

func listen(cmd *cobra.Command, group, iface string, count int) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	sub, err := broadcast.Listen(group, iface, logger)
	if err != nil {
		return err
	}

	// Set up cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	out := NewOutput(cmd.OutOrStdout(), cfg.Output)
	if cfg.Output == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", sub.Addr())
	}

	received := 0
	err = sub.Receive(ctx, func(p protocol.Packet) {
		if p.Type != protocol.TypeBroadcast {
			return
		}
		f, err := protocol.ExtractPayload[protocol.Fortune](p)
		if err != nil {
			logger.Warn("unreadable broadcast", slog.String("error", err.Error()))
			return
		}
		out.Print(BroadcastEvent{Time: time.Now(), Fortune: NewFortuneView(f)})

		received++
		if count > 0 && received >= count {
			cancel()
		}
	})
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}
