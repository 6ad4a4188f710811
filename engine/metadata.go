// Package engine implements the synchronization core: the reconciliation of
// master cards onto their destination lists, the metadata codec persisting
// engine state inside master card descriptions, the bulk cleanup of demo
// boards and the webhook lifecycle of automatic mappings.
package engine

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/trello"
)

// MetadataPhrase marks the start of the engine-owned block inside a master
// card description. The full separator embeds it; the bare phrase is the
// recovery anchor when somebody hand-edited the block.
const MetadataPhrase = "DO NOT EDIT BELOW THIS LINE"

// MetadataSeparator splits user content from the engine-owned sync block.
// The literal must never change: master cards in the wild carry it.
var MetadataSeparator = "\n\n" + strings.Repeat("-", 32) + "\n*== " + MetadataPhrase + " ==*\n"

// SplitDescription splits a master card description into the user-written
// content and the engine metadata. A description without the separator is
// all user content. If only the marker phrase survives (hand-edited block),
// the content is truncated at the phrase and the corrupted remainder is
// dropped.
func SplitDescription(desc string) (content, metadata string) {
	idx := strings.LastIndex(desc, MetadataSeparator)
	if idx < 0 {
		phrase := strings.Index(desc, MetadataPhrase)
		if phrase < 0 {
			return desc, ""
		}
		return desc[:phrase], ""
	}
	return desc[:idx], desc[idx+len(MetadataSeparator):]
}

// UpdateMasterMetadata rewrites the metadata block of a master card. A
// write only happens when the metadata actually changed; clearing the
// metadata also removes the separator so no dangling block is left behind.
func UpdateMasterMetadata(ctx context.Context, gw trello.Requester, master trello.Card, newMetadata string) error {
	content, current := SplitDescription(master.Desc)
	if newMetadata == current {
		return nil
	}
	log.Debugf("Updating metadata of master card %s", master.ID)
	desc := content
	if newMetadata != "" {
		desc = content + MetadataSeparator + newMetadata
	}
	_, err := gw.Do(ctx, http.MethodPut, "cards/"+master.ID, url.Values{"desc": {desc}})
	return err
}

// GenerateMetadata renders the metadata block for the given slave cards,
// one line per card naming it and its owning board and list.
func GenerateMetadata(ctx context.Context, names *trello.NameCache, slaves []trello.Card) (string, error) {
	var b strings.Builder
	for _, sc := range slaves {
		boardName, err := names.Name(ctx, "board", sc.IDBoard)
		if err != nil {
			return "", err
		}
		listName, err := names.Name(ctx, "list", sc.IDList)
		if err != nil {
			return "", err
		}
		b.WriteString("\n- '" + sc.Name + "' on list '**" + boardName + "|" + listName + "**'")
	}
	return b.String(), nil
}
