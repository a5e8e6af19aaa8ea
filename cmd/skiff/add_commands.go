package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skiff/internal/config"
	"skiff/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue content for migration",
	}

	addCmd.AddCommand(newAddPostCommand(ctx))
	addCmd.AddCommand(newAddArticleCommand(ctx))

	return addCmd
}

func newAddPostCommand(ctx *commandContext) *cobra.Command {
	var sourceID string
	var caption string
	var images []string
	var videos []string
	var originalAt string

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Enqueue a post with optional media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				original, err := parseTimestamp(originalAt)
				if err != nil {
					return err
				}

				refs := make([]queue.MediaRef, 0, len(images)+len(videos))
				for _, url := range images {
					refs = append(refs, queue.MediaRef{URL: strings.TrimSpace(url), Kind: "image"})
				}
				for _, url := range videos {
					refs = append(refs, queue.MediaRef{URL: strings.TrimSpace(url), Kind: "video"})
				}

				item, err := store.NewPost(cmd.Context(), queue.PostInput{
					SourceID:   strings.TrimSpace(sourceID),
					Caption:    caption,
					Media:      refs,
					OriginalAt: original,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued post %s as item %d\n", item.SourceID, item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sourceID, "source-id", "", "Stable identifier from the source platform")
	cmd.Flags().StringVar(&caption, "caption", "", "Post caption")
	cmd.Flags().StringSliceVar(&images, "image", nil, "Image URL (repeatable, order preserved)")
	cmd.Flags().StringSliceVar(&videos, "video", nil, "Video URL (repeatable, order preserved)")
	cmd.Flags().StringVar(&originalAt, "original-at", "", "Original publish time (RFC 3339)")
	_ = cmd.MarkFlagRequired("source-id")
	return cmd
}

func newAddArticleCommand(ctx *commandContext) *cobra.Command {
	var sourceID string
	var title string
	var summary string
	var bodyFile string
	var headerImage string
	var topics []string
	var publishedAt string

	cmd := &cobra.Command{
		Use:   "article",
		Short: "Enqueue a long-form article",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				published, err := parseTimestamp(publishedAt)
				if err != nil {
					return err
				}

				path, err := config.ExpandPath(bodyFile)
				if err != nil {
					return err
				}
				body, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read article body: %w", err)
				}

				item, err := store.NewArticle(cmd.Context(), queue.ArticleInput{
					SourceID:    strings.TrimSpace(sourceID),
					Title:       strings.TrimSpace(title),
					Summary:     summary,
					Body:        string(body),
					HeaderImage: strings.TrimSpace(headerImage),
					Topics:      topics,
					PublishedAt: published,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued article %s as item %d\n", item.SourceID, item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sourceID, "source-id", "", "Stable identifier from the source platform")
	cmd.Flags().StringVar(&title, "title", "", "Article title")
	cmd.Flags().StringVar(&summary, "summary", "", "Short summary")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Path to the Markdown body")
	cmd.Flags().StringVar(&headerImage, "header-image", "", "Header image URL")
	cmd.Flags().StringSliceVar(&topics, "topic", nil, "Topic tag (repeatable)")
	cmd.Flags().StringVar(&publishedAt, "published-at", "", "Original publish time (RFC 3339)")
	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("body-file")
	return cmd
}

func parseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q (expected RFC 3339)", value)
	}
	return parsed, nil
}
