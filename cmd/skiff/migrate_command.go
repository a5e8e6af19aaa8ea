package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skiff/internal/builder"
	"skiff/internal/config"
	"skiff/internal/identity"
	"skiff/internal/media"
	"skiff/internal/migrate"
	"skiff/internal/nip46"
	"skiff/internal/queue"
	"skiff/internal/relay"
	"skiff/internal/signer"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var keyFlag string
	var newRun bool
	var profileName string
	var profileAbout string
	var profilePicture string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Publish every pending queue item to the configured relays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				logger, err := ctx.newLogger()
				if err != nil {
					return err
				}

				runCtx, cancel := signalContext()
				defer cancel()

				sign, closeSigner, err := resolveSigner(runCtx, cfg, store, keyFlag, logger)
				if err != nil {
					return err
				}
				defer closeSigner()

				uploader, err := media.NewUploader(cfg, logger)
				if err != nil {
					return err
				}
				publisher := relay.NewPublisher(
					cfg.Relays.Publish,
					time.Duration(cfg.Workflow.PublishTimeout)*time.Second,
					logger,
				)
				importer := relay.NewCacheImporter(cfg.Relays.CacheImportURL, logger)

				runner := migrate.NewRunner(cfg, store, sign, uploader, publisher, importer, logger)
				if newRun {
					runner.ForceNewRun()
				}
				out := cmd.OutOrStdout()
				runner.AddObserver(func(tr migrate.Transition) {
					fmt.Fprintf(out, "%-32s %s\n", truncate(tr.SourceID, 32), statusLabel(tr.To))
				})

				if profileName != "" || profileAbout != "" || profilePicture != "" {
					runner.SetProfile(builder.Profile{
						Name:    profileName,
						About:   profileAbout,
						Picture: profilePicture,
					})
				}

				report, runErr := runner.Run(runCtx)
				if report != nil {
					fmt.Fprintln(out)
					fmt.Fprintf(out, "Run %s: %d published, %d failed\n",
						report.RunID, report.Completed, report.Errored)
					if report.Errored > 0 {
						fmt.Fprintln(out, "Inspect failures with `skiff queue list --status failed`, then `skiff queue retry`.")
					}
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&keyFlag, "key", "", "Path to a local signing key file (overrides identity.key_file)")
	cmd.Flags().BoolVar(&newRun, "new-run", false, "Start a fresh run instead of resuming an interrupted one")
	cmd.Flags().StringVar(&profileName, "profile-name", "", "Publish a profile event with this display name before items")
	cmd.Flags().StringVar(&profileAbout, "profile-about", "", "Profile about text")
	cmd.Flags().StringVar(&profilePicture, "profile-picture", "", "Profile picture URL")
	return cmd
}

// resolveSigner picks the signing identity for a run: a local key file when
// one is configured, otherwise the stored remote signer session.
func resolveSigner(runCtx context.Context, cfg *config.Config, store *queue.Store, keyFlag string, logger *slog.Logger) (signer.Signer, func(), error) {
	keyPath := strings.TrimSpace(keyFlag)
	if keyPath == "" {
		keyPath = cfg.Identity.KeyFile
	}
	if keyPath != "" {
		expanded, err := config.ExpandPath(keyPath)
		if err != nil {
			return nil, nil, err
		}
		key, err := identity.LoadKeyFile(expanded)
		if err != nil {
			return nil, nil, fmt.Errorf("load signing key: %w", err)
		}
		return signer.NewLocal(key), func() {}, nil
	}

	saved, err := store.LatestSignerSession(runCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("look up signer session: %w", err)
	}
	if saved == nil {
		return nil, nil, fmt.Errorf("no signing identity: run `skiff connect` or set identity.key_file")
	}
	session, err := nip46.Resume(runCtx, saved.Relay, saved.ClientSecret, saved.RemotePubkey, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("resume signer session: %w", err)
	}
	return signer.NewRemote(session, cfg.Signing, logger), session.Close, nil
}
