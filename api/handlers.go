package api

import (
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/domain"
)

const launchRequestMaxSize = 4 << 10

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, hooks WebhookLifecycle, logger *log.Logger) {
	e.POST("/api/mappings/:id/runs", launchRun(store, auth))
	e.POST("/api/mappings/:id/cleanup", launchCleanup(store, auth))
	e.GET("/api/mappings/:id/tasks/:taskID", getTask(store, auth))
	e.PUT("/api/mappings/:id/type", setMappingType(store, auth, hooks, logger))
	e.HEAD("/webhooks/1/", webhookProbe())
	e.POST("/webhooks/1/", receiveWebhook(store, logger))
	e.GET("/healthz", healthz())
}

type launchRequest struct {
	Type   string `json:"type"`
	ElemID string `json:"elemId"`
}

type launchResponse struct {
	TaskID string `json:"taskId"`
}

type taskResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Complete bool   `json:"complete"`
	Duration string `json:"duration"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func launchRun(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, launchRequestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var body launchRequest
		if err := dec.Decode(&body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		runType := domain.RunType(body.Type)
		if runType != domain.RunCard && runType != domain.RunList && runType != domain.RunBoard {
			return c.String(http.StatusBadRequest, "invalid run type")
		}

		req := domain.RunRequest{
			MappingID: c.Param("id"),
			Type:      runType,
			ElemID:    body.ElemID,
		}
		if err := req.Validate(); err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		return launch(c, store, req)
	}
}

func launchCleanup(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		req := domain.RunRequest{
			MappingID: c.Param("id"),
			Type:      domain.RunCleanup,
		}
		return launch(c, store, req)
	}
}

// launch creates the task record and enqueues the run. A mapping may only
// have one task in flight; launching refuses while one is in progress.
func launch(c echo.Context, store Storage, req domain.RunRequest) error {
	ctx := c.Request().Context()
	mapping, err := store.GetMapping(ctx, req.MappingID)
	if err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if mapping == nil {
		return c.String(http.StatusNotFound, "mapping not found")
	}
	inProgress, err := store.TaskInProgress(ctx, req.MappingID)
	if err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	if inProgress {
		return c.String(http.StatusConflict, "A synchronization task is currently in progress for this mapping")
	}

	task := domain.Task{
		ID:          uuid.NewString(),
		MappingID:   req.MappingID,
		Name:        "run_mapping",
		Description: string(req.Type) + " run for mapping " + mapping.Name,
		Status:      "queued",
		StartedAt:   time.Now().UTC(),
	}
	if err := store.InsertTask(ctx, task); err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
	req.TaskID = task.ID
	if err := store.EnqueueRun(ctx, req); err != nil {
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, "failed to enqueue run")
	}
	return c.JSON(http.StatusAccepted, launchResponse{TaskID: task.ID})
}

func getTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := store.GetTask(ctx, c.Param("id"), c.Param("taskID"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.String(http.StatusNotFound, "task not found")
		}
		return c.JSON(http.StatusOK, taskResponse{
			ID:       task.ID,
			Status:   task.Status,
			Progress: task.Progress,
			Complete: task.Complete,
			Duration: task.Duration(),
		})
	}
}

type mappingTypeRequest struct {
	Type string `json:"type"`
}

func setMappingType(store Storage, auth Authenticator, hooks WebhookLifecycle, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, launchRequestMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var body mappingTypeRequest
		if err := dec.Decode(&body); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if body.Type != domain.MappingManual && body.Type != domain.MappingAutomatic {
			return c.String(http.StatusBadRequest, "invalid mapping type")
		}

		mapping, err := store.GetMapping(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if mapping == nil {
			return c.String(http.StatusNotFound, "mapping not found")
		}
		if mapping.Type == body.Type {
			return c.NoContent(http.StatusOK)
		}
		previous := mapping.Type
		mapping.Type = body.Type
		if err := store.UpsertMapping(ctx, *mapping); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		// Automatic mappings keep a webhook on the master board; switching
		// back to manual removes it.
		if body.Type == domain.MappingAutomatic {
			err = hooks.Activate(ctx, mapping)
		} else if previous == domain.MappingAutomatic {
			err = hooks.Deactivate(ctx, mapping)
		}
		if err != nil {
			logger.WithError(err).WithField("mapping", mapping.ID).Error("webhook lifecycle update failed")
			return c.String(http.StatusBadGateway, "webhook update failed")
		}
		return c.NoContent(http.StatusOK)
	}
}

// webhookProbe answers the remote system's validation probe: Trello issues
// a HEAD request to the callback URL when the webhook is registered.
func webhookProbe() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// receiveWebhook triggers a board-scope run for the mapping named in the
// query string. It always answers 200; failing the callback would only
// make the remote system retry or disable the webhook.
func receiveWebhook(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		mappingID := c.QueryParam("mapping")
		if mappingID == "" {
			return c.NoContent(http.StatusOK)
		}
		mapping, err := store.GetMapping(ctx, mappingID)
		if err != nil {
			logger.WithError(err).Error("webhook: mapping lookup failed")
			return c.NoContent(http.StatusOK)
		}
		if mapping == nil || mapping.Type != domain.MappingAutomatic {
			return c.NoContent(http.StatusOK)
		}
		inProgress, err := store.TaskInProgress(ctx, mappingID)
		if err != nil {
			logger.WithError(err).Error("webhook: task lookup failed")
			return c.NoContent(http.StatusOK)
		}
		if inProgress {
			logger.WithField("mapping", mappingID).Debug("webhook: run already in progress, skipping")
			return c.NoContent(http.StatusOK)
		}

		task := domain.Task{
			ID:          uuid.NewString(),
			MappingID:   mappingID,
			Name:        "run_mapping",
			Description: "webhook-triggered run for mapping " + mapping.Name,
			Status:      "queued",
			StartedAt:   time.Now().UTC(),
		}
		if err := store.InsertTask(ctx, task); err != nil {
			logger.WithError(err).Error("webhook: task insert failed")
			return c.NoContent(http.StatusOK)
		}
		req := domain.RunRequest{
			TaskID:    task.ID,
			MappingID: mappingID,
			Type:      domain.RunBoard,
			ElemID:    mapping.MasterBoard,
		}
		if err := store.EnqueueRun(ctx, req); err != nil {
			logger.WithError(err).Error("webhook: enqueue failed")
		}
		return c.NoContent(http.StatusOK)
	}
}
