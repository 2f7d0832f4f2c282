package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cspwatch/cspwatch/internal/bootstrap"
	"github.com/cspwatch/cspwatch/internal/violations/domain"
	"github.com/cspwatch/cspwatch/internal/violations/repository"
)

const tailBacklog = 10

var tailCmd = &cobra.Command{
	Use:   "tail <project>",
	Short: "Stream a project's violation feed",
	Long: `tail prints the project's most recent violations and then follows
the live feed until interrupted. It reads from Redis only, so it works
while the database is down.`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func runTail(cmd *cobra.Command, args []string) error {
	project := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := bootstrap.OpenRedis(ctx, bootstrap.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()

	feed := repository.NewFeedRepository(rdb)

	// Subscribe before draining the backlog so entries pushed in between
	// are not lost; duplicates across the seam are acceptable.
	sub := feed.Subscribe(ctx, project)
	defer sub.Close()

	recent, err := feed.Recent(ctx, project, tailBacklog)
	if err != nil {
		return err
	}
	for i := len(recent) - 1; i >= 0; i-- {
		cmd.Println(formatFeedEntry(recent[i]))
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var entry domain.FeedEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				logger.Warn("skipping malformed feed payload")
				continue
			}
			cmd.Println(formatFeedEntry(entry))
		}
	}
}

func formatFeedEntry(entry domain.FeedEntry) string {
	return fmt.Sprintf("%s  %-24s  %s",
		entry.ReceivedAt.Local().Format("15:04:05"),
		entry.Directive,
		entry.BlockedURI,
	)
}
