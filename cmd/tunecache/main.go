// Command tunecache serves the music catalog API with a Redis response cache
// that is purged on every write.
package main

import (
	"log"

	"github.com/gaborage/tunecache/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}
