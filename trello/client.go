// Package trello is the request gateway to the Trello REST API. It applies
// query-string credentials, classifies failures and supports a dry-run mode
// in which every mutating call is skipped before reaching the network.
package trello

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultBaseURL is the Trello REST API root.
const DefaultBaseURL = "https://api.trello.com/1"

// Credentials are the two values Trello expects as query parameters on
// every call.
type Credentials struct {
	Key   string
	Token string
}

// Requester is the gateway contract the sync engine depends on. Do returns
// the raw JSON body of a successful response; in dry-run mode a skipped
// mutation returns a nil body and a nil error.
type Requester interface {
	Do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error)
}

// Client issues requests against the Trello API.
type Client struct {
	BaseURL     string
	Credentials Credentials
	DryRun      bool
	HTTPClient  *http.Client
}

// NewClient creates a gateway for the given credentials. When dryRun is set,
// non-GET calls are skipped; reads still execute so a dry run can compute
// what would happen.
func NewClient(creds Credentials, dryRun bool) *Client {
	return &Client{
		BaseURL:     DefaultBaseURL,
		Credentials: creds,
		DryRun:      dryRun,
		HTTPClient:  http.DefaultClient,
	}
}

// Do performs a call against the Trello API. path is relative to the API
// root ("cards/abc123"). The credentials are appended as query parameters.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	if err := checkMethod(method); err != nil {
		return nil, err
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	fullURL := base + "/" + strings.TrimPrefix(path, "/")
	if c.DryRun && method != http.MethodGet {
		log.Debugf("Skipping %s call to '%s' due to dry-run mode", method, fullURL)
		return nil, nil
	}
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	q.Set("key", c.Credentials.Key)
	q.Set("token", c.Credentials.Token)
	return c.roundTrip(ctx, method, fullURL, q)
}

// DoExternal performs a call against an endpoint outside the Trello API,
// such as the webhook inspection service used in non-production
// environments. No credentials are attached; dry-run handling is the same.
func (c *Client) DoExternal(ctx context.Context, method, rawURL string) (json.RawMessage, error) {
	if err := checkMethod(method); err != nil {
		return nil, err
	}
	if c.DryRun && method != http.MethodGet {
		log.Debugf("Skipping %s call to '%s' due to dry-run mode", method, rawURL)
		return nil, nil
	}
	return c.roundTrip(ctx, method, rawURL, nil)
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string, query url.Values) (json.RawMessage, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, ErrConnection
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrConnection
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuthentication
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := &RequestError{StatusCode: resp.StatusCode, Body: string(body)}
		log.WithFields(log.Fields{"status": resp.StatusCode, "method": method}).Error(reqErr.Error())
		return nil, reqErr
	}
	return json.RawMessage(body), nil
}

func checkMethod(method string) error {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return nil
	}
	return &UnsupportedMethodError{Method: method}
}

// GetCard fetches a single card by full or short id.
func GetCard(ctx context.Context, r Requester, id string) (Card, error) {
	raw, err := r.Do(ctx, http.MethodGet, "cards/"+id, nil)
	if err != nil {
		return Card{}, err
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return Card{}, err
	}
	return card, nil
}

// ListCards fetches the cards of a board or list. resource is the path
// segment of the collection, e.g. "board", "boards", "list" or "lists";
// Trello accepts both the singular and plural forms.
func ListCards(ctx context.Context, r Requester, resource, id string) ([]Card, error) {
	raw, err := r.Do(ctx, http.MethodGet, resource+"/"+id+"/cards", nil)
	if err != nil {
		return nil, err
	}
	var cards []Card
	if err := json.Unmarshal(raw, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}
