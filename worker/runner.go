package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/domain"
	"github.com/e2jk/trello-team-sync/engine"
	"github.com/e2jk/trello-team-sync/trello"
)

// taskStore is the persistence the runner needs around one run.
type taskStore interface {
	GetMapping(ctx context.Context, id string) (*domain.Mapping, error)
	GetTask(ctx context.Context, mappingID, taskID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
}

// Runner executes one queued run request at a time: it loads the mapping,
// resolves the scope to master cards, drives the reconciliation engine over
// them sequentially and reports progress on the task record. A failed or
// crashed run still reaches the complete state; a job is never left stuck
// in running.
type Runner struct {
	store   taskStore
	redis   *redis.Client
	baseURL string
	dryRun  bool
}

// NewRunner builds a runner. redis may be nil, which disables name
// memoization; baseURL overrides the Trello API root when non-empty.
func NewRunner(store taskStore, redisClient *redis.Client, baseURL string, dryRun bool) *Runner {
	return &Runner{store: store, redis: redisClient, baseURL: baseURL, dryRun: dryRun}
}

// Run processes a single run request to completion.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) {
	log.Infof("Starting task for mapping %s, %s %s", req.MappingID, req.Type, req.ElemID)
	task := r.loadTask(ctx, req)
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Errorf("Unhandled panic while running task %s %s %s", req.MappingID, req.Type, req.ElemID)
			r.setProgress(ctx, task, 100, "The job errored out.")
		}
	}()
	r.setProgress(ctx, task, 0, "")

	mapping, err := r.store.GetMapping(ctx, req.MappingID)
	if err != nil {
		r.fail(ctx, task, req, err)
		return
	}
	var destinations map[string][]string
	if mapping != nil {
		destinations, err = mapping.ParseDestinationLists()
		if err != nil {
			log.WithError(err).Error("Mapping has invalid destination_lists")
		}
	}
	if mapping == nil || (len(destinations) == 0 && req.Type != domain.RunCleanup) || req.Validate() != nil {
		log.Error("Invalid task, ignoring")
		r.setProgress(ctx, task, 100, "Invalid task, ignored.")
		return
	}

	gw := trello.NewClient(trello.Credentials{Key: mapping.Key, Token: mapping.Token}, r.dryRun)
	if r.baseURL != "" {
		gw.BaseURL = r.baseURL
	}
	names := trello.NewNameCache(gw, r.redis)

	if req.Type == domain.RunCleanup {
		r.runCleanup(ctx, task, req, mapping, destinations, gw, names)
		return
	}
	r.runPropagation(ctx, task, req, mapping, destinations, gw, names)
}

func (r *Runner) runPropagation(ctx context.Context, task *domain.Task, req domain.RunRequest, mapping *domain.Mapping, destinations map[string][]string, gw *trello.Client, names *trello.NameCache) {
	prop := engine.NewPropagator(gw, names, destinations, mapping.ParseFriendlyNames(), r.dryRun)

	var masters []trello.Card
	if req.Type == domain.RunCard {
		master, err := trello.GetCard(ctx, gw, req.ElemID)
		if err != nil {
			r.fail(ctx, task, req, err)
			return
		}
		masters = []trello.Card{master}
		r.setProgress(ctx, task, 0, "Job running... Processing one single card.")
	} else {
		var err error
		masters, err = trello.ListCards(ctx, gw, string(req.Type), req.ElemID)
		if err != nil {
			r.fail(ctx, task, req, err)
			return
		}
		r.setProgress(ctx, task, 0, fmt.Sprintf("Job running... Processing %d cards.", len(masters)))
	}

	summary := domain.Summary{MasterCards: len(masters)}
	for idx, master := range masters {
		log.Infof("Processing master card %d/%d - %s", idx+1, len(masters), master.Name)
		res, err := prop.ProcessMasterCard(ctx, master)
		if err != nil {
			r.fail(ctx, task, req, err)
			return
		}
		summary.ActiveMasterCards += res.Active
		summary.SlaveCards += res.SlaveCards
		summary.NewSlaveCards += res.NewSlaveCards
		if idx < len(masters)-1 {
			r.setProgress(ctx, task, 100*(idx+1)/len(masters), "")
		}
	}
	r.setProgress(ctx, task, 100, "Run complete. "+summary.String())
	log.Infof("Completed task for mapping %s, %s %s", req.MappingID, req.Type, req.ElemID)
}

func (r *Runner) runCleanup(ctx context.Context, task *domain.Task, req domain.RunRequest, mapping *domain.Mapping, destinations map[string][]string, gw *trello.Client, names *trello.NameCache) {
	cleaner := engine.NewCleaner(gw, names, destinations, mapping.ParseCleanupBoards())
	masters, err := trello.ListCards(ctx, gw, "boards", mapping.MasterBoard)
	if err != nil {
		r.fail(ctx, task, req, err)
		return
	}
	r.setProgress(ctx, task, 0, fmt.Sprintf("Job running... Cleaning up %d cards.", len(masters)))
	summary, err := cleaner.Cleanup(ctx, masters)
	if err != nil {
		log.WithError(err).Errorf("Cleanup failed for mapping %s", req.MappingID)
		r.setProgress(ctx, task, 100, err.Error())
		return
	}
	r.setProgress(ctx, task, 100, "Run complete. "+summary.String())
	log.Infof("Completed cleanup task for mapping %s", req.MappingID)
}

// loadTask fetches the task record created at launch. A request whose task
// record went missing still runs, against a synthesized record, so queue
// messages are never silently dropped.
func (r *Runner) loadTask(ctx context.Context, req domain.RunRequest) *domain.Task {
	task, err := r.store.GetTask(ctx, req.MappingID, req.TaskID)
	if err != nil {
		log.WithError(err).Warnf("Could not load task %s", req.TaskID)
	}
	if task == nil {
		task = &domain.Task{ID: req.TaskID, MappingID: req.MappingID, Name: "run_mapping"}
	}
	return task
}

func (r *Runner) setProgress(ctx context.Context, task *domain.Task, progress int, status string) {
	task.SetProgress(progress, status)
	if err := r.store.UpdateTask(ctx, *task); err != nil {
		log.WithError(err).WithField("task", task.ID).Error("failed to persist task progress")
	}
}

func (r *Runner) fail(ctx context.Context, task *domain.Task, req domain.RunRequest, err error) {
	log.WithError(err).Errorf("Unhandled error while running task %s %s %s", req.MappingID, req.Type, req.ElemID)
	r.setProgress(ctx, task, 100, "The job errored out.")
}
