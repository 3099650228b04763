package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tables := []string{os.Getenv("TASKS_TABLE"), os.Getenv("SETTINGS_TABLE")}
	queues := []string{os.Getenv("EVENTS_QUEUE")}
	if err := storage.Provision(ctx, connStr, tables, queues); err != nil {
		log.Fatalf("provision storage: %v", err)
	}

	log.Info("storage init complete")
}
