package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/trello"
)

// cardShortURLPattern matches attachment URLs that link to another Trello
// card and captures the 8-character short id. Attachments are the only
// "linked records" mechanism the remote API offers.
var cardShortURLPattern = regexp.MustCompile(`^https://trello\.com/c/([a-zA-Z0-9_-]{8})/.*`)

type cardLink struct {
	attachment trello.Attachment
	shortLink  string
}

// cardLinkAttachments returns the attachments on a card that are links to
// other Trello cards. A card reporting zero attachments is skipped without
// a network call.
func cardLinkAttachments(ctx context.Context, gw trello.Requester, card trello.Card) ([]cardLink, error) {
	if card.Badges.Attachments == 0 {
		return nil, nil
	}
	log.Debugf("Getting %d attachments on master card %s", card.Badges.Attachments, card.ID)
	raw, err := gw.Do(ctx, http.MethodGet, "cards/"+card.ID+"/attachments", nil)
	if err != nil {
		return nil, err
	}
	var attachments []trello.Attachment
	if err := json.Unmarshal(raw, &attachments); err != nil {
		return nil, err
	}
	var links []cardLink
	for _, a := range attachments {
		m := cardShortURLPattern.FindStringSubmatch(a.URL)
		if m == nil {
			continue
		}
		links = append(links, cardLink{attachment: a, shortLink: m[1]})
	}
	return links, nil
}

// ResolveLinkedCards discovers the slave cards already linked to a master
// card by resolving each card-link attachment to a live card. Order follows
// attachment order; duplicates are not removed here.
func ResolveLinkedCards(ctx context.Context, gw trello.Requester, master trello.Card) ([]trello.Card, error) {
	links, err := cardLinkAttachments(ctx, gw, master)
	if err != nil {
		return nil, err
	}
	var cards []trello.Card
	for _, l := range links {
		card, err := trello.GetCard(ctx, gw, l.shortLink)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}
