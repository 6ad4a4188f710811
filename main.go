package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/api"
	"github.com/e2jk/trello-team-sync/domain"
	"github.com/e2jk/trello-team-sync/engine"
	"github.com/e2jk/trello-team-sync/storage"
	"github.com/e2jk/trello-team-sync/trello"
)

// webhookHooks adapts the engine's webhook lifecycle manager to the API
// layer, building a gateway from each mapping's own credentials.
type webhookHooks struct {
	mgr     *engine.WebhookManager
	baseURL string
}

func (h webhookHooks) gateway(m *domain.Mapping) *trello.Client {
	gw := trello.NewClient(trello.Credentials{Key: m.Key, Token: m.Token}, false)
	if h.baseURL != "" {
		gw.BaseURL = h.baseURL
	}
	return gw
}

func (h webhookHooks) Activate(ctx context.Context, m *domain.Mapping) error {
	return h.mgr.Register(ctx, h.gateway(m), m.MasterBoard, m.ID)
}

func (h webhookHooks) Deactivate(ctx context.Context, m *domain.Mapping) error {
	return h.mgr.Delete(ctx, h.gateway(m), m.Token, m.MasterBoard)
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	mappingsTable := os.Getenv("MAPPINGS_TABLE")
	tasksTable := os.Getenv("TASKS_TABLE")
	runsQueue := os.Getenv("RUNS_QUEUE")
	if connStr == "" || mappingsTable == "" || tasksTable == "" || runsQueue == "" {
		log.Fatal("missing storage config")
	}
	base, err := storage.New(connStr, mappingsTable, tasksTable, runsQueue)
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
	mappingTTL := 5 * time.Minute
	if v := os.Getenv("MAPPING_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid MAPPING_CACHE_TTL: %v", err)
		}
		mappingTTL = d
	}
	store := storage.NewCache(base, rc, mappingTTL)

	var auth *api.Auth
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		auth = api.NewTestAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		authDomain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || authDomain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+authDomain+"/")
	}

	production := os.Getenv("ON_PRODUCTION") == "1"
	hooks := webhookHooks{
		mgr:     engine.NewWebhookManager(storage.NewInspectionTokenStore(rc), production),
		baseURL: os.Getenv("TRELLO_API_BASE_URL"),
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	logger := log.New()
	api.Register(e, store, auth, hooks, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
