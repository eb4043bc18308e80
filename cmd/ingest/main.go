package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aihub/whatsbot-go/app/bootstrap"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  ingest <file_path>          # Ingest a single file")
	fmt.Println("  ingest --dir <directory>    # Ingest all files in directory")
	fmt.Println("  ingest --text <text>        # Ingest raw text")
	fmt.Println("  ingest --clear              # Clear knowledge base")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	app, err := bootstrap.InitKnowledge()
	if err != nil {
		log.Fatalf("failed to bootstrap: %v", err)
	}

	ctx := context.Background()
	ingestor := app.Ingestor

	switch command := os.Args[1]; {
	case command == "--clear":
		if err := ingestor.ClearAll(ctx); err != nil {
			log.Fatalf("failed to clear knowledge base: %v", err)
		}
		fmt.Println("Knowledge base cleared")

	case command == "--dir" && len(os.Args) > 2:
		report, err := ingestor.IngestDirectory(ctx, os.Args[2])
		if err != nil {
			log.Fatalf("failed to ingest directory: %v", err)
		}
		fmt.Printf("Added %d chunks from %d files", report.Chunks, report.Files)
		if len(report.Skipped) > 0 {
			fmt.Printf(" (%d skipped)", len(report.Skipped))
		}
		fmt.Println()
		printCount(ctx, app)

	case command == "--text" && len(os.Args) > 2:
		text := strings.Join(os.Args[2:], " ")
		chunks, err := ingestor.IngestText(ctx, text, "manual")
		if err != nil {
			log.Fatalf("failed to ingest text: %v", err)
		}
		fmt.Printf("Added %d chunks\n", chunks)
		printCount(ctx, app)

	case strings.HasPrefix(command, "--"):
		usage()

	default:
		chunks, err := ingestor.IngestFile(ctx, command)
		if err != nil {
			log.Fatalf("failed to ingest %s: %v", command, err)
		}
		fmt.Printf("Added %d chunks from %s\n", chunks, command)
		printCount(ctx, app)
	}
}

func printCount(ctx context.Context, app *bootstrap.App) {
	count, err := app.Ingestor.Count(ctx)
	if err != nil {
		return
	}
	fmt.Printf("Knowledge base now has %d chunks\n", count)
}
