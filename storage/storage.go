// Package storage persists mappings and tasks in Azure Table storage and
// hands run requests to the worker through an Azure Storage queue.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/e2jk/trello-team-sync/domain"
)

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	mappingTable *aztables.Client
	taskTable    *aztables.Client
	runQueue     *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, mappingsTable, tasksTable, runQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	mt := svc.NewClient(mappingsTable)
	tt := svc.NewClient(tasksTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	rq, err := azqueue.NewQueueClientFromConnectionString(connStr, runQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{mappingTable: mt, taskTable: tt, runQueue: rq}, nil
}

// Mappings are stored with PartitionKey == RowKey == mapping id.
type mappingEntity struct {
	aztables.Entity
	Name             string `json:"Name"`
	Description      string `json:"Description"`
	Key              string `json:"Key"`
	Token            string `json:"Token"`
	MasterBoard      string `json:"MasterBoard"`
	MType            string `json:"MType"`
	DestinationLists string `json:"DestinationLists"`
	FriendlyNames    string `json:"FriendlyNames"`
	CleanupBoards    string `json:"CleanupBoards"`
}

// Tasks are partitioned by mapping so the in-progress check is a single
// partition scan.
type taskEntity struct {
	aztables.Entity
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Progress    int    `json:"Progress"`
	Complete    bool   `json:"Complete"`
	StartedAt   int64  `json:"StartedAt"`
	EndedAt     int64  `json:"EndedAt"`
}

// GetMapping retrieves a mapping by id. A missing mapping yields (nil, nil).
func (s *Storage) GetMapping(ctx context.Context, id string) (*domain.Mapping, error) {
	resp, err := s.mappingTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent mappingEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	m := mappingFromEntity(ent)
	return &m, nil
}

// UpsertMapping inserts or replaces a mapping.
func (s *Storage) UpsertMapping(ctx context.Context, m domain.Mapping) error {
	ent := mappingEntity{
		Entity:           aztables.Entity{PartitionKey: m.ID, RowKey: m.ID},
		Name:             m.Name,
		Description:      m.Description,
		Key:              m.Key,
		Token:            m.Token,
		MasterBoard:      m.MasterBoard,
		MType:            m.Type,
		DestinationLists: m.DestinationLists,
		FriendlyNames:    m.FriendlyNames,
		CleanupBoards:    m.CleanupBoards,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.mappingTable.UpsertEntity(ctx, payload, nil)
	return err
}

// GetTask retrieves one task of a mapping. A missing task yields (nil, nil).
func (s *Storage) GetTask(ctx context.Context, mappingID, taskID string) (*domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, mappingID, taskID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	t := taskFromEntity(ent)
	return &t, nil
}

// InsertTask persists a freshly launched task.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask replaces a task's persisted state, used for progress and
// completion updates.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(taskToEntity(t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.UpsertEntity(ctx, payload, nil)
	return err
}

// TaskInProgress reports whether the mapping has a non-complete task. The
// launch path uses it to refuse concurrent runs of the same mapping.
func (s *Storage) TaskInProgress(ctx context.Context, mappingID string) (bool, error) {
	filter := "PartitionKey eq '" + mappingID + "' and Complete eq false"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return false, err
		}
		if len(resp.Entities) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// EnqueueRun sends a run request to the worker queue.
func (s *Storage) EnqueueRun(ctx context.Context, req domain.RunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = s.runQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

func mappingFromEntity(ent mappingEntity) domain.Mapping {
	return domain.Mapping{
		ID:               ent.RowKey,
		Name:             ent.Name,
		Description:      ent.Description,
		Key:              ent.Key,
		Token:            ent.Token,
		MasterBoard:      ent.MasterBoard,
		Type:             ent.MType,
		DestinationLists: ent.DestinationLists,
		FriendlyNames:    ent.FriendlyNames,
		CleanupBoards:    ent.CleanupBoards,
	}
}

func taskToEntity(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.MappingID, RowKey: t.ID},
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status,
		Progress:    t.Progress,
		Complete:    t.Complete,
	}
	if !t.StartedAt.IsZero() {
		ent.StartedAt = t.StartedAt.Unix()
	}
	if !t.EndedAt.IsZero() {
		ent.EndedAt = t.EndedAt.Unix()
	}
	return ent
}

func taskFromEntity(ent taskEntity) domain.Task {
	t := domain.Task{
		ID:          ent.RowKey,
		MappingID:   ent.PartitionKey,
		Name:        ent.Name,
		Description: ent.Description,
		Status:      ent.Status,
		Progress:    ent.Progress,
		Complete:    ent.Complete,
	}
	if ent.StartedAt != 0 {
		t.StartedAt = time.Unix(ent.StartedAt, 0).UTC()
	}
	if ent.EndedAt != 0 {
		t.EndedAt = time.Unix(ent.EndedAt, 0).UTC()
	}
	return t
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
