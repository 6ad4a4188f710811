package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/domain"
	"github.com/e2jk/trello-team-sync/storage"
)

func main() {
	log.Info("Sync worker starting")
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	runsQueue := os.Getenv("RUNS_QUEUE")
	mappingsTable := os.Getenv("MAPPINGS_TABLE")
	tasksTable := os.Getenv("TASKS_TABLE")
	if connStr == "" || runsQueue == "" || mappingsTable == "" || tasksTable == "" {
		log.Fatal("missing storage config")
	}

	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, runsQueue, nil)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	store, err := storage.New(connStr, mappingsTable, tasksTable, runsQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			log.Fatalf("invalid REDIS_CONNECTION_STRING: %v", err)
		}
		rc = redis.NewClient(redisOpts)
	}

	dryRun, _ := strconv.ParseBool(os.Getenv("DRY_RUN"))
	runner := NewRunner(store, rc, os.Getenv("TRELLO_API_BASE_URL"), dryRun)

	ctx := context.Background()
	for {
		resp, err := queue.DequeueMessage(ctx, nil)
		if err != nil {
			log.WithError(err).Error("receive failed")
			time.Sleep(time.Second)
			continue
		}
		if len(resp.Messages) == 0 {
			time.Sleep(time.Second)
			continue
		}
		msg := resp.Messages[0]
		var req domain.RunRequest
		if err := json.Unmarshal([]byte(*msg.MessageText), &req); err != nil {
			log.WithError(err).Error("discarding malformed run request")
		} else {
			runner.Run(ctx, req)
		}
		queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil)
	}
}
