package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/trello"
)

// ProductionCallbackURL is the stable webhook endpoint of production
// deployments. Non-production environments use a throwaway inspection
// endpoint instead.
const ProductionCallbackURL = "https://syncboom.com/webhooks/1/"

const inspectionBaseURL = "https://webhook.site"

// ExternalRequester extends the gateway with calls to endpoints outside the
// Trello API, used for the non-production inspection endpoint.
type ExternalRequester interface {
	trello.Requester
	DoExternal(ctx context.Context, method, rawURL string) (json.RawMessage, error)
}

// InspectionTokenStore persists the temporary inspection-endpoint token so
// it can be reused across runs while still valid.
type InspectionTokenStore interface {
	LoadInspectionToken(ctx context.Context) (string, error)
	SaveInspectionToken(ctx context.Context, token string) error
}

// WebhookManager handles the lifecycle of the one webhook an automatic
// mapping keeps on its master board. Duplicate registration is not guarded
// against; registering twice creates two webhooks.
type WebhookManager struct {
	store      InspectionTokenStore
	production bool
}

// NewWebhookManager builds a lifecycle manager. production selects the
// stable callback endpoint over the per-environment inspection one.
func NewWebhookManager(store InspectionTokenStore, production bool) *WebhookManager {
	return &WebhookManager{store: store, production: production}
}

// Register creates a webhook on the master board pointing at the callback
// endpoint for this environment. The mapping id is carried in the callback
// query string so the receiver can route the event.
func (m *WebhookManager) Register(ctx context.Context, gw ExternalRequester, masterBoard, mappingID string) error {
	log.Debugf("Creating a new webhook for master board %s", masterBoard)
	callbackURL := ProductionCallbackURL
	if !m.production {
		token, err := m.inspectionToken(ctx, gw)
		if err != nil {
			return err
		}
		callbackURL = inspectionBaseURL + "/" + token
	}
	callbackURL += "?mapping=" + url.QueryEscape(mappingID)
	log.Debugf("Webhook callback URL: %s", callbackURL)
	_, err := gw.Do(ctx, http.MethodPost, "webhooks", url.Values{
		"callbackURL": {callbackURL},
		"idModel":     {masterBoard},
	})
	return err
}

// List returns all webhooks owned by the credential token.
func (m *WebhookManager) List(ctx context.Context, gw trello.Requester, token string) ([]trello.Webhook, error) {
	raw, err := gw.Do(ctx, http.MethodGet, "tokens/"+token+"/webhooks", nil)
	if err != nil {
		return nil, err
	}
	var webhooks []trello.Webhook
	if err := json.Unmarshal(raw, &webhooks); err != nil {
		return nil, err
	}
	return webhooks, nil
}

// Delete removes the first webhook registered on the master board. It is a
// no-op when none matches.
func (m *WebhookManager) Delete(ctx context.Context, gw trello.Requester, token, masterBoard string) error {
	log.Debugf("Delete existing webhook for master board %s", masterBoard)
	webhooks, err := m.List(ctx, gw, token)
	if err != nil {
		return err
	}
	for _, w := range webhooks {
		if w.IDModel != masterBoard {
			continue
		}
		if _, err := gw.Do(ctx, http.MethodDelete, "webhooks/"+w.ID, nil); err != nil {
			return err
		}
		log.Debugf("Webhook %s deleted", w.ID)
		return nil
	}
	return nil
}

// inspectionToken reuses the persisted inspection-endpoint token when the
// remote service still recognizes it, and requests a fresh one otherwise.
func (m *WebhookManager) inspectionToken(ctx context.Context, gw ExternalRequester) (string, error) {
	if m.store != nil {
		token, err := m.store.LoadInspectionToken(ctx)
		if err != nil {
			log.WithError(err).Debug("could not load persisted inspection token")
		} else if token != "" {
			if _, err := gw.DoExternal(ctx, http.MethodGet, inspectionBaseURL+"/token/"+token); err == nil {
				return token, nil
			}
		}
	}
	log.Debug("Requesting new temporary inspection endpoint token")
	raw, err := gw.DoExternal(ctx, http.MethodPost, inspectionBaseURL+"/token")
	if err != nil {
		return "", err
	}
	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if m.store != nil {
		if err := m.store.SaveInspectionToken(ctx, resp.UUID); err != nil {
			log.WithError(err).Warn("could not persist inspection token")
		}
	}
	return resp.UUID, nil
}
