package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/passbi/localtransport/internal/calendar"
	"github.com/passbi/localtransport/internal/db"
)

func main() {
	// Command-line flags
	feedPath := flag.String("feed", "-", "Path to the calendar feed JSON, - for stdin")
	replace := flag.Bool("replace", false, "Delete upcoming events before importing")
	flag.Parse()

	_ = godotenv.Load()

	var in io.Reader = os.Stdin
	if *feedPath != "-" {
		f, err := os.Open(*feedPath)
		if err != nil {
			log.Fatalf("Failed to open feed: %v", err)
		}
		defer f.Close()
		in = f
	}

	events, err := calendar.ParseFeed(in)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	n, err := calendar.Import(ctx, tx, events, *replace, time.Now())
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit transaction: %v", err)
	}

	fmt.Printf("Imported %d calendar events\n", n)
}
