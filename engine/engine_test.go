package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/e2jk/trello-team-sync/trello"
)

type gatewayCall struct {
	method string
	path   string
	query  url.Values
}

type fakeGateway struct {
	responses map[string][]json.RawMessage
	errs      map[string]error
	calls     []gatewayCall
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{responses: map[string][]json.RawMessage{}, errs: map[string]error{}}
}

// stub queues a response for a method and path. Repeated stubs for the same
// key are served in order; the last one is served forever.
func (f *fakeGateway) stub(method, path, body string) {
	key := method + " " + path
	f.responses[key] = append(f.responses[key], json.RawMessage(body))
}

func (f *fakeGateway) Do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	f.calls = append(f.calls, gatewayCall{method: method, path: path, query: query})
	key := method + " " + path
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if queue := f.responses[key]; len(queue) > 0 {
		body := queue[0]
		if len(queue) > 1 {
			f.responses[key] = queue[1:]
		}
		return body, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeGateway) count(method, path string) int {
	n := 0
	for _, c := range f.calls {
		if c.method == method && c.path == path {
			n++
		}
	}
	return n
}

func (f *fakeGateway) mutations() []gatewayCall {
	var out []gatewayCall
	for _, c := range f.calls {
		if c.method != http.MethodGet {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGateway) lastQuery(method, path string) url.Values {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method && f.calls[i].path == path {
			return f.calls[i].query
		}
	}
	return nil
}

func stubNames(gw *fakeGateway) {
	gw.stub(http.MethodGet, "board/b1", `{"name":"Board One"}`)
	gw.stub(http.MethodGet, "board/b2", `{"name":"Board Two"}`)
	gw.stub(http.MethodGet, "list/list1", `{"name":"List One"}`)
	gw.stub(http.MethodGet, "list/list2", `{"name":"List Two"}`)
	gw.stub(http.MethodGet, "lists/list1", `{"id":"list1","idBoard":"b1"}`)
	gw.stub(http.MethodGet, "lists/list2", `{"id":"list2","idBoard":"b2"}`)
}

var testDestinations = map[string][]string{
	"label1": {"list1"},
	"label2": {"list2"},
}

func masterCard() trello.Card {
	return trello.Card{
		ID:       "m1",
		Name:     "Test card",
		Desc:     "Some user content",
		ShortURL: "https://trello.com/c/mstr0001",
		URL:      "https://trello.com/c/mstr0001/1-test-card",
		Labels:   []trello.Label{{ID: "label1", Name: "Team A"}, {ID: "label2", Name: "Team B"}},
	}
}

func TestProcessMasterCardCreatesSlaveCards(t *testing.T) {
	gw := newFakeGateway()
	stubNames(gw)
	gw.stub(http.MethodPost, "cards", `{"id":"s1","idBoard":"b1","idList":"list1","name":"Test card","url":"https://trello.com/c/slave001/1-test-card","shortUrl":"https://trello.com/c/slave001"}`)
	gw.stub(http.MethodPost, "cards", `{"id":"s2","idBoard":"b2","idList":"list2","name":"Test card","url":"https://trello.com/c/slave002/1-test-card","shortUrl":"https://trello.com/c/slave002"}`)
	gw.stub(http.MethodGet, "cards/m1/checklists", `[]`)
	gw.stub(http.MethodPost, "cards/m1/checklists", `{"id":"cl1","name":"Involved Teams"}`)

	p := NewPropagator(gw, trello.NewNameCache(gw, nil), testDestinations, nil, false)
	res, err := p.ProcessMasterCard(context.Background(), masterCard())
	if err != nil {
		t.Fatalf("ProcessMasterCard: %v", err)
	}
	if res.Active != 1 {
		t.Fatalf("expected active card, got %d", res.Active)
	}
	if res.SlaveCards != 2 || res.NewSlaveCards != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	query := gw.lastQuery(http.MethodPost, "cards")
	if query.Get("idList") != "list2" {
		t.Fatalf("unexpected destination list: %s", query.Get("idList"))
	}
	if query.Get("idCardSource") != "m1" || query.Get("pos") != "bottom" {
		t.Fatalf("unexpected card copy query: %v", query)
	}
	if query.Get("keepFromSource") != "attachments,checklists,comments,due,stickers" {
		t.Fatalf("unexpected keepFromSource: %s", query.Get("keepFromSource"))
	}
	wantDesc := "Some user content\n\nCreated from master card https://trello.com/c/mstr0001"
	if query.Get("desc") != wantDesc {
		t.Fatalf("unexpected slave description: %q", query.Get("desc"))
	}

	wantMaster := "Some user content" + MetadataSeparator +
		"\n- 'Test card' on list '**Board One|List One**'" +
		"\n- 'Test card' on list '**Board Two|List Two**'"
	if got := gw.lastQuery(http.MethodPut, "cards/m1").Get("desc"); got != wantMaster {
		t.Fatalf("unexpected master description:\n%q\nwant:\n%q", got, wantMaster)
	}

	if n := gw.count(http.MethodPost, "checklists/cl1/checkItems"); n != 2 {
		t.Fatalf("expected 2 checklist items, got %d", n)
	}
	// One attachment on each slave plus one back-link per slave on the master.
	if n := gw.count(http.MethodPost, "cards/s1/attachments"); n != 1 {
		t.Fatalf("expected slave s1 link attachment, got %d", n)
	}
	if n := gw.count(http.MethodPost, "cards/m1/attachments"); n != 2 {
		t.Fatalf("expected 2 master link attachments, got %d", n)
	}
	if got := gw.lastQuery(http.MethodPost, "cards/s1/attachments").Get("url"); got != "https://trello.com/c/mstr0001/1-test-card" {
		t.Fatalf("unexpected slave attachment url: %s", got)
	}
}

func TestProcessMasterCardReusesExistingSlave(t *testing.T) {
	master := masterCard()
	master.Badges.Attachments = 1
	master.Desc = "Some user content" + MetadataSeparator + "\n- 'Test card' on list '**Board One|List One**'"

	gw := newFakeGateway()
	stubNames(gw)
	gw.stub(http.MethodGet, "cards/m1/attachments", `[{"id":"a1","url":"https://trello.com/c/slave001/1-test-card"}]`)
	gw.stub(http.MethodGet, "cards/slave001", `{"id":"s1","idBoard":"b1","idList":"list1","name":"Test card","url":"https://trello.com/c/slave001/1-test-card"}`)
	gw.stub(http.MethodPost, "cards", `{"id":"s2","idBoard":"b2","idList":"list2","name":"Test card","url":"https://trello.com/c/slave002/1-test-card"}`)
	gw.stub(http.MethodGet, "cards/m1/checklists", `[{"id":"cl1","name":"Involved Teams","checkItems":[{"id":"i1","name":"Board One"}]}]`)

	p := NewPropagator(gw, trello.NewNameCache(gw, nil), testDestinations, nil, false)
	res, err := p.ProcessMasterCard(context.Background(), master)
	if err != nil {
		t.Fatalf("ProcessMasterCard: %v", err)
	}
	if res.SlaveCards != 2 || res.NewSlaveCards != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := gw.count(http.MethodPost, "cards"); n != 1 {
		t.Fatalf("expected a single card creation, got %d", n)
	}
	// Only the missing checklist item gets appended.
	if n := gw.count(http.MethodPost, "checklists/cl1/checkItems"); n != 1 {
		t.Fatalf("expected 1 new checklist item, got %d", n)
	}
	// The reused slave card is not re-linked.
	if n := gw.count(http.MethodPost, "cards/s1/attachments"); n != 0 {
		t.Fatalf("reused slave card must not be re-attached")
	}
}

func TestProcessMasterCardIsIdempotent(t *testing.T) {
	master := masterCard()
	master.Badges.Attachments = 2
	master.Desc = "Some user content" + MetadataSeparator +
		"\n- 'Test card' on list '**Board One|List One**'" +
		"\n- 'Test card' on list '**Board Two|List Two**'"

	gw := newFakeGateway()
	stubNames(gw)
	gw.stub(http.MethodGet, "cards/m1/attachments",
		`[{"id":"a1","url":"https://trello.com/c/slave001/1-test-card"},{"id":"a2","url":"https://trello.com/c/slave002/1-test-card"}]`)
	gw.stub(http.MethodGet, "cards/slave001", `{"id":"s1","idBoard":"b1","idList":"list1","name":"Test card"}`)
	gw.stub(http.MethodGet, "cards/slave002", `{"id":"s2","idBoard":"b2","idList":"list2","name":"Test card"}`)
	gw.stub(http.MethodGet, "cards/m1/checklists",
		`[{"id":"cl1","name":"Involved Teams","checkItems":[{"id":"i1","name":"Board One"},{"id":"i2","name":"Board Two"}]}]`)

	p := NewPropagator(gw, trello.NewNameCache(gw, nil), testDestinations, nil, false)
	res, err := p.ProcessMasterCard(context.Background(), master)
	if err != nil {
		t.Fatalf("ProcessMasterCard: %v", err)
	}
	if res.SlaveCards != 2 || res.NewSlaveCards != 0 {
		t.Fatalf("second pass must not create cards: %+v", res)
	}
	if calls := gw.mutations(); len(calls) != 0 {
		t.Fatalf("second pass must not mutate anything, got %v", calls)
	}
}

func TestProcessMasterCardUnlinkClearsMetadataOnly(t *testing.T) {
	master := masterCard()
	master.Labels = nil
	master.Badges.Attachments = 1
	master.Desc = "Some user content" + MetadataSeparator + "\n- 'Test card' on list '**Board One|List One**'"

	gw := newFakeGateway()
	gw.stub(http.MethodGet, "cards/m1/attachments", `[{"id":"a1","url":"https://trello.com/c/slave001/1-test-card"}]`)
	gw.stub(http.MethodGet, "cards/slave001", `{"id":"s1","idBoard":"b1","idList":"list1","name":"Test card"}`)

	p := NewPropagator(gw, trello.NewNameCache(gw, nil), testDestinations, nil, false)
	res, err := p.ProcessMasterCard(context.Background(), master)
	if err != nil {
		t.Fatalf("ProcessMasterCard: %v", err)
	}
	if res.Active != 0 || res.SlaveCards != 0 || res.NewSlaveCards != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := gw.lastQuery(http.MethodPut, "cards/m1").Get("desc"); got != "Some user content" {
		t.Fatalf("metadata block not removed: %q", got)
	}
	// The orphaned slave cards are left alone.
	for _, c := range gw.mutations() {
		if c.method == http.MethodDelete {
			t.Fatalf("unlinking must not delete cards, got %v", c)
		}
	}
}

func TestProcessMasterCardDryRunCountsWithoutMutating(t *testing.T) {
	gw := newFakeGateway()
	stubNames(gw)
	gw.stub(http.MethodGet, "cards/m1/checklists", `[]`)

	dry := dryRunGateway{fake: gw}
	p := NewPropagator(dry, trello.NewNameCache(dry, nil), testDestinations, nil, true)
	res, err := p.ProcessMasterCard(context.Background(), masterCard())
	if err != nil {
		t.Fatalf("ProcessMasterCard: %v", err)
	}
	if res.SlaveCards != 2 || res.NewSlaveCards != 2 {
		t.Fatalf("dry run must still count creations: %+v", res)
	}
	if calls := gw.mutations(); len(calls) != 0 {
		t.Fatalf("dry run must not mutate anything, got %v", calls)
	}
}

func TestProcessMasterCardGatewayErrorAborts(t *testing.T) {
	gw := newFakeGateway()
	stubNames(gw)
	wantErr := &trello.RequestError{StatusCode: 500, Body: "boom"}
	gw.errs["POST cards"] = wantErr

	p := NewPropagator(gw, trello.NewNameCache(gw, nil), testDestinations, nil, false)
	if _, err := p.ProcessMasterCard(context.Background(), masterCard()); err != wantErr {
		t.Fatalf("expected gateway error to propagate, got %v", err)
	}
	if n := gw.count(http.MethodPut, "cards/m1"); n != 0 {
		t.Fatalf("aborted pass must not rewrite the master card")
	}
}

// dryRunGateway skips mutations before they reach the fake, the same way
// the real gateway behaves in dry-run mode.
type dryRunGateway struct {
	fake *fakeGateway
}

func (d dryRunGateway) Do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	if method != http.MethodGet {
		return nil, nil
	}
	return d.fake.Do(ctx, method, path, query)
}
