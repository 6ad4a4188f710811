package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/e2jk/trello-team-sync/trello"
)

func TestCleanupRefusesWithoutWhitelist(t *testing.T) {
	gw := newFakeGateway()
	c := NewCleaner(gw, trello.NewNameCache(gw, nil), testDestinations, nil)
	if _, err := c.Cleanup(context.Background(), nil); !errors.Is(err, ErrNoCleanupWhitelist) {
		t.Fatalf("expected whitelist error, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("refused cleanup must not hit the network, got %v", gw.calls)
	}
}

func TestCleanupAbortsOnNonWhitelistedBoard(t *testing.T) {
	gw := newFakeGateway()
	gw.stub(http.MethodGet, "lists/list1/board", `{"id":"b1"}`)
	gw.stub(http.MethodGet, "lists/list2/board", `{"id":"b2"}`)
	gw.stub(http.MethodGet, "boards/b1/lists", `[{"id":"list1","idBoard":"b1"}]`)

	// Only b1 is whitelisted; list2 lives on b2.
	c := NewCleaner(gw, trello.NewNameCache(gw, nil), testDestinations, []string{"b1"})
	_, err := c.Cleanup(context.Background(), []trello.Card{{ID: "m1"}})
	var notWhitelisted *BoardNotWhitelistedError
	if !errors.As(err, &notWhitelisted) {
		t.Fatalf("expected whitelist violation, got %v", err)
	}
	if notWhitelisted.BoardID != "b2" {
		t.Fatalf("unexpected board id: %s", notWhitelisted.BoardID)
	}
	// The pre-flight check runs before any mutation.
	if calls := gw.mutations(); len(calls) != 0 {
		t.Fatalf("aborted cleanup must not mutate anything, got %v", calls)
	}
}

func TestCleanupDeletesSlaveCardsAndStripsMasters(t *testing.T) {
	master := trello.Card{ID: "m1", Name: "Master", Desc: "Content" + MetadataSeparator + "meta"}
	master.Badges.Attachments = 1

	gw := newFakeGateway()
	stubNames(gw)
	gw.stub(http.MethodGet, "lists/list1/board", `{"id":"b1"}`)
	gw.stub(http.MethodGet, "lists/list2/board", `{"id":"b2"}`)
	gw.stub(http.MethodGet, "boards/b1/lists", `[{"id":"list1","idBoard":"b1"}]`)
	gw.stub(http.MethodGet, "boards/b2/lists", `[{"id":"list2","idBoard":"b2"}]`)
	gw.stub(http.MethodGet, "cards/m1/attachments", `[{"id":"a1","url":"https://trello.com/c/slave001/1-master"}]`)
	gw.stub(http.MethodGet, "cards/m1/checklists", `[{"id":"cl1","name":"Involved Teams"},{"id":"cl2","name":"Unrelated"}]`)
	gw.stub(http.MethodGet, "lists/list1/cards", `[{"id":"s1","idList":"list1"},{"id":"s2","idList":"list1"}]`)
	gw.stub(http.MethodGet, "lists/list2/cards", `[]`)

	c := NewCleaner(gw, trello.NewNameCache(gw, nil), testDestinations, []string{"b1", "b2"})
	summary, err := c.Cleanup(context.Background(), []trello.Card{master})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if summary.CleanedUpMasterCards != 1 {
		t.Fatalf("unexpected cleaned up masters: %d", summary.CleanedUpMasterCards)
	}
	if summary.DeletedSlaveCards != 2 {
		t.Fatalf("unexpected deleted slaves: %d", summary.DeletedSlaveCards)
	}
	if summary.ErasedDestinationBoards != 1 || summary.ErasedDestinationLists != 1 {
		t.Fatalf("unexpected erased counters: %+v", summary)
	}

	if n := gw.count(http.MethodDelete, "cards/m1/attachments/a1"); n != 1 {
		t.Fatalf("link attachment not deleted")
	}
	if n := gw.count(http.MethodDelete, "checklists/cl1"); n != 1 {
		t.Fatalf("aggregation checklist not deleted")
	}
	if n := gw.count(http.MethodDelete, "checklists/cl2"); n != 0 {
		t.Fatalf("unrelated checklist must survive")
	}
	if got := gw.lastQuery(http.MethodPut, "cards/m1").Get("desc"); got != "Content" {
		t.Fatalf("metadata block not cleared: %q", got)
	}
	if n := gw.count(http.MethodDelete, "cards/s1") + gw.count(http.MethodDelete, "cards/s2"); n != 2 {
		t.Fatalf("slave cards not deleted")
	}
}
