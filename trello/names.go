package trello

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// NameTTL bounds how long record names are memoized. Names change rarely
// relative to a reconciliation pass, so the cache is invalidated by time
// only, never explicitly.
const NameTTL = 60 * time.Second

// NameCache memoizes the two name lookups the engine performs over and over
// while generating metadata and checklists: record-by-id names and the name
// of the board owning a list. All other gateway calls are never cached.
type NameCache struct {
	gw    Requester
	redis *redis.Client
	ttl   time.Duration
}

// NewNameCache wraps the gateway with a Redis-backed name cache. A nil
// client disables caching; every lookup then goes to the gateway.
func NewNameCache(gw Requester, client *redis.Client) *NameCache {
	return &NameCache{gw: gw, redis: client, ttl: NameTTL}
}

// Name returns the name of a record. recordType is the singular resource
// name ("board", "list") used in the Trello lookup path.
func (n *NameCache) Name(ctx context.Context, recordType, id string) (string, error) {
	key := "name:" + recordType + ":" + id
	if name, ok := n.load(ctx, key); ok {
		return name, nil
	}
	raw, err := n.gw.Do(ctx, http.MethodGet, recordType+"/"+id, nil)
	if err != nil {
		return "", err
	}
	var record struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return "", err
	}
	n.store(ctx, key, record.Name)
	return record.Name, nil
}

// BoardNameFromList resolves the name of the board which contains the given
// list. The composite lookup is memoized as a unit.
func (n *NameCache) BoardNameFromList(ctx context.Context, listID string) (string, error) {
	key := "boardname:list:" + listID
	if name, ok := n.load(ctx, key); ok {
		return name, nil
	}
	raw, err := n.gw.Do(ctx, http.MethodGet, "lists/"+listID, nil)
	if err != nil {
		return "", err
	}
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}
	name, err := n.Name(ctx, "board", list.IDBoard)
	if err != nil {
		return "", err
	}
	n.store(ctx, key, name)
	return name, nil
}

func (n *NameCache) load(ctx context.Context, key string) (string, bool) {
	if n.redis == nil {
		return "", false
	}
	val, err := n.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall through to the gateway without failing.
			log.WithError(err).WithField("key", key).Debug("name cache read failed")
		}
		return "", false
	}
	return val, true
}

func (n *NameCache) store(ctx context.Context, key, name string) {
	if n.redis == nil || n.ttl == 0 {
		return
	}
	if err := n.redis.Set(ctx, key, name, n.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("name cache write failed")
	}
}
