package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skiff/internal/config"
	"skiff/internal/nip46"
	"skiff/internal/queue"
)

func newConnectCommand(ctx *commandContext) *cobra.Command {
	var relayFlag string
	var timeoutFlag time.Duration

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Pair with a remote signer over Nostr Connect",
		Long: "Starts a signer handshake and prints a nostrconnect:// descriptor.\n" +
			"Paste the descriptor into your signer app; skiff waits until the\n" +
			"signer acknowledges, then stores the session for later runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				relayURL := strings.TrimSpace(relayFlag)
				if relayURL == "" {
					relayURL = cfg.Relays.ConnectHint
				}
				if relayURL == "" {
					return fmt.Errorf("no handshake relay configured; set relays.connect_hint or pass --relay")
				}

				logger, err := ctx.newLogger()
				if err != nil {
					return err
				}

				handshake, err := nip46.NewHandshake(relayURL, logger)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Scan or paste this descriptor into your signer app:")
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  %s\n", handshake.Descriptor())
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Waiting up to %s for the signer to connect...\n", timeoutFlag)

				runCtx, cancel := signalContext()
				defer cancel()
				runCtx, cancelTimeout := context.WithTimeout(runCtx, timeoutFlag)
				defer cancelTimeout()

				session, err := handshake.Await(runCtx)
				if err != nil {
					return fmt.Errorf("signer handshake: %w", err)
				}
				defer session.Close()

				// Only one signer binding is active at a time.
				if _, err := store.ClearSignerSessions(cmd.Context()); err != nil {
					return fmt.Errorf("clear previous signer sessions: %w", err)
				}
				if _, err := store.SaveSignerSession(cmd.Context(), queue.SignerSession{
					RemotePubkey: session.RemotePubkey(),
					ClientSecret: session.ClientSecretHex(),
					Relay:        relayURL,
				}); err != nil {
					return fmt.Errorf("store signer session: %w", err)
				}

				fmt.Fprintf(out, "Connected. Publishing as %s\n", session.UserPubkey())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&relayFlag, "relay", "", "Relay URL for the handshake (defaults to relays.connect_hint)")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "How long to wait for the signer")
	return cmd
}
