package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lectorlabs/lector-core/internal/client"
	"github.com/lectorlabs/lector-core/internal/playback"
	"github.com/lectorlabs/lector-core/internal/playback/media"
)

// positionSaveInterval is how often the listening position is written back to
// the server during playback.
const positionSaveInterval = 5 * time.Second

func runPlay(ctx context.Context, api *client.Client, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	id := fs.String("id", "", "Document id")
	from := fs.Float64("from", -1, "Start position in seconds (default: saved position)")
	verbose := fs.Bool("v", false, "Verbose playback logging")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	status, err := api.Status(ctx, *id)
	if err != nil {
		return err
	}
	if status.Status == "error" && status.SegmentsCompleted == 0 {
		return fmt.Errorf("document failed to generate: %s", status.ErrorMessage)
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	engine := media.NewEngine()
	source := media.NewSource(api, engine, *id)
	player := playback.NewPlayer(ctx, source, logger)
	defer player.Close()

	start := status.PositionSeconds
	if *from >= 0 {
		start = *from
	}

	if err := player.Play(ctx); err != nil {
		return err
	}
	if start > 0 {
		if err := player.SeekAbsolute(ctx, start); err != nil {
			return err
		}
	}

	fmt.Printf("playing %s\n", status.Title)
	fmt.Println("commands: p pause/resume, n next, b back, s <sec> seek, f/r +/-15s, q quit")

	saveTicker := time.NewTicker(positionSaveInterval)
	defer saveTicker.Stop()
	go func() {
		for range saveTicker.C {
			_ = api.UpdatePosition(ctx, *id, player.Position())
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	statusTicker := time.NewTicker(time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return saveAndStop(api, *id, player)
		case <-statusTicker.C:
			if player.State() == playback.StateDone {
				fmt.Println("\nfinished")
				return saveAndStop(api, *id, player)
			}
			total, complete := player.Duration()
			mark := ""
			if !complete {
				mark = "+"
			}
			fmt.Printf("\r[%s] %s / %s%s (segment %d)   ",
				player.State(), formatClock(player.Position()),
				formatClock(total), mark, player.CurrentSegment())
		case line, ok := <-lines:
			if !ok {
				return saveAndStop(api, *id, player)
			}
			if done, err := handleCommand(ctx, player, line); err != nil {
				fmt.Printf("\n%v\n", err)
			} else if done {
				return saveAndStop(api, *id, player)
			}
		}
	}
}

func handleCommand(ctx context.Context, player *playback.Player, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "p", "pause", " ":
		return false, player.Toggle(ctx)
	case "n", "next":
		return false, player.Next(ctx)
	case "b", "back":
		return false, player.Previous(ctx)
	case "f":
		return false, player.SeekBy(ctx, 15)
	case "r":
		return false, player.SeekBy(ctx, -15)
	case "s", "seek":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: s <seconds>")
		}
		target, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return false, fmt.Errorf("bad position %q", fields[1])
		}
		return false, player.SeekAbsolute(ctx, target)
	case "q", "quit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

func saveAndStop(api *client.Client, id string, player *playback.Player) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := api.UpdatePosition(ctx, id, player.Position()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save position: %v\n", err)
	}
	fmt.Println()
	return nil
}
