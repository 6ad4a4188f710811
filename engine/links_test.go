package engine

import (
	"context"
	"testing"

	"github.com/e2jk/trello-team-sync/trello"
)

func TestResolveLinkedCardsSkipsNetworkWithoutAttachments(t *testing.T) {
	gw := newFakeGateway()
	cards, err := ResolveLinkedCards(context.Background(), gw, trello.Card{ID: "m1"})
	if err != nil {
		t.Fatalf("ResolveLinkedCards: %v", err)
	}
	if cards != nil {
		t.Fatalf("expected no linked cards, got %v", cards)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("zero attachments must not hit the network, got %v", gw.calls)
	}
}

func TestResolveLinkedCardsFiltersNonCardAttachments(t *testing.T) {
	gw := newFakeGateway()
	gw.stub("GET", "cards/m1/attachments", `[
		{"id":"a1","url":"https://example.com/document.pdf"},
		{"id":"a2","url":"https://trello.com/c/slave001/1-some-card"},
		{"id":"a3","url":"https://trello.com/b/board001/some-board"},
		{"id":"a4","url":"https://trello.com/c/short/too-short"}
	]`)
	gw.stub("GET", "cards/slave001", `{"id":"s1","idList":"list1","name":"Linked"}`)

	master := trello.Card{ID: "m1"}
	master.Badges.Attachments = 4
	cards, err := ResolveLinkedCards(context.Background(), gw, master)
	if err != nil {
		t.Fatalf("ResolveLinkedCards: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != "s1" {
		t.Fatalf("unexpected linked cards: %v", cards)
	}
}

func TestCardShortURLPattern(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://trello.com/c/abcd1234/1-card-title", "abcd1234"},
		{"https://trello.com/c/AB_d-234/99-other", "AB_d-234"},
		{"https://trello.com/c/abcd1234", ""},
		{"http://trello.com/c/abcd1234/1-card", ""},
		{"https://trello.com/b/abcd1234/1-board", ""},
	}
	for _, tc := range cases {
		m := cardShortURLPattern.FindStringSubmatch(tc.url)
		got := ""
		if m != nil {
			got = m[1]
		}
		if got != tc.want {
			t.Fatalf("url %s: got %q, want %q", tc.url, got, tc.want)
		}
	}
}
