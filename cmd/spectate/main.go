// Package main provides a terminal spectator that follows one match stream,
// printing each combat log entry as it arrives.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gladiator/internal/config"
	"github.com/cory-johannsen/gladiator/internal/match"
	"github.com/cory-johannsen/gladiator/internal/observability"
	"github.com/cory-johannsen/gladiator/internal/spectator"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "arena server base URL")
	matchID := flag.String("match", "", "match id to follow (required)")
	userID := flag.String("user", "", "caller id sent as X-User-ID")
	locale := flag.String("locale", "en", "narration locale")
	participant := flag.Bool("participant", false, "start the match if it is still pending")
	countdown := flag.Duration("countdown", spectator.DefaultCountdown, "countdown before connecting, 0 to skip; press Enter to cut it short")
	maxActions := flag.Int("max-actions", 0, "arena action ceiling; arms a status poll once reached")
	level := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	if *matchID == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *level, Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := spectator.New(
		spectator.NewHTTPTransport(*serverURL, *userID, nil),
		*matchID,
		spectator.Options{
			Locale:      *locale,
			Participant: *participant,
			Countdown:   *countdown,
			MaxActions:  *maxActions,
			OnEntry:     printEntry,
			OnPhase: func(p spectator.Phase) {
				if p == spectator.PhaseRecovering {
					fmt.Fprintln(os.Stderr, "... connection lost, recovering")
				}
			},
		},
		logger,
	)
	if *countdown > 0 {
		fmt.Fprintf(os.Stdout, "match begins in %s (Enter to skip)\n", *countdown)
		go func() {
			if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
				c.SkipCountdown()
			}
		}()
	}

	start := time.Now()
	res, err := c.Run(ctx)
	if err != nil {
		logger.Error("spectating failed", zap.String("match_id", *matchID), zap.Error(err))
		os.Exit(1)
	}

	if res.Outcome.Draw() {
		fmt.Fprintf(os.Stdout, "\ndraw after %d actions [%s]\n", res.Outcome.TotalActions, time.Since(start).Round(time.Millisecond))
		return
	}
	fmt.Fprintf(os.Stdout, "\nwinner %s by %s after %d actions [%s]\n",
		res.Outcome.WinnerID, res.Outcome.WinnerMethod, res.Outcome.TotalActions, time.Since(start).Round(time.Millisecond))
}

func printEntry(e match.LogEntry) {
	fmt.Fprintf(os.Stdout, "[%2d] %-12s %3d | %3d  %s\n", e.ActionNumber, e.Type, e.HealthA, e.HealthB, e.Message)
}
