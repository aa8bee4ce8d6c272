// Command lector is the terminal client for a lectord server: submit
// articles, inspect generation progress, and listen to the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/lectorlabs/lector-core/internal/client"
)

var version = "0.1.0-dev"

func main() {
	serverURL := envOr("LECTOR_SERVER", "http://localhost:8080")
	token := os.Getenv("LECTOR_AUTH_TOKEN")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	api := client.New(serverURL, token)
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(ctx, api, os.Args[2:])
	case "list":
		err = runList(ctx, api)
	case "status":
		err = runStatus(ctx, api, os.Args[2:])
	case "play":
		err = runPlay(ctx, api, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lector <command> [flags]

commands:
  submit   submit a URL or text file for narration
  list     list submitted documents
  status   show generation progress for one document
  play     play a document
  version  print version

environment:
  LECTOR_SERVER       server base URL (default http://localhost:8080)
  LECTOR_AUTH_TOKEN   bearer token, if the server requires one`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runSubmit(ctx context.Context, api *client.Client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	rawURL := fs.String("url", "", "Article URL to extract and narrate")
	textFile := fs.String("text", "", "Path to a plain-text file, or - for stdin")
	title := fs.String("title", "", "Document title")
	voice := fs.String("voice", "", "Voice override")
	model := fs.String("model", "", "Model override")
	fs.Parse(args)

	req := client.SubmitRequest{URL: *rawURL, Title: *title, Voice: *voice, Model: *model}
	if *textFile != "" {
		var data []byte
		var err error
		if *textFile == "-" {
			data, err = os.ReadFile("/dev/stdin")
		} else {
			data, err = os.ReadFile(*textFile)
		}
		if err != nil {
			return fmt.Errorf("read text: %w", err)
		}
		req.Text = string(data)
	}
	if req.URL == "" && req.Text == "" {
		return fmt.Errorf("either -url or -text is required")
	}

	result, err := api.Submit(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s\n  id: %s\n", result.Title, result.ID)
	return nil
}

func runList(ctx context.Context, api *client.Client) error {
	docs, err := api.Documents(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no documents")
		return nil
	}
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.SourceURL
		}
		fmt.Printf("%s  %-10s  %d/%d  %s\n",
			d.ID, d.Status, d.SegmentsCompleted, d.SegmentsTotal, title)
	}
	return nil
}

func runStatus(ctx context.Context, api *client.Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "Document id")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	status, err := api.Status(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  status:   %s\n  voice:    %s / %s\n  progress: %d/%d segments\n  position: %.1fs\n",
		status.Title, status.Status, status.Voice, status.Model,
		status.SegmentsCompleted, status.SegmentsTotal, status.PositionSeconds)
	if status.ErrorMessage != "" {
		fmt.Printf("  error:    %s\n", status.ErrorMessage)
	}
	for _, seg := range status.Segments {
		marker := " "
		if seg.Ready {
			marker = "*"
		}
		fmt.Printf("  [%s] segment %d: %d chars, %d bytes\n", marker, seg.Index, seg.Chars, seg.Bytes)
	}
	return nil
}

func formatClock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
