// Command migrate applies the message store schema migrations and exits.
// The chat server also runs migrations on startup; this tool exists for
// pipelines that migrate before rolling out.
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/buildersync/chat-core/internal/store"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if err := store.Migrate(databaseURL); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("migrations applied")
}
