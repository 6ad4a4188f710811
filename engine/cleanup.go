package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/domain"
	"github.com/e2jk/trello-team-sync/trello"
)

// ErrNoCleanupWhitelist is a configuration error: the mapping carries no
// whitelist of boards approved for destructive cleanup, so the operation
// refuses to start.
var ErrNoCleanupWhitelist = errors.New("engine: this configuration has not been enabled for cleanup")

// BoardNotWhitelistedError is a configuration error: a destination list
// belongs to a board outside the cleanup whitelist. Cleanup aborts before
// any mutation.
type BoardNotWhitelistedError struct {
	BoardID string
}

func (e *BoardNotWhitelistedError) Error() string {
	return fmt.Sprintf("engine: board %s is not whitelisted to be cleaned up", e.BoardID)
}

// Cleaner is the inverse of the Propagator: it strips sync state from
// master cards and deletes every card on the destination boards. Intended
// for demo and test environments only, it is gated on an explicit board
// whitelist.
type Cleaner struct {
	gw            trello.Requester
	names         *trello.NameCache
	destinations  map[string][]string
	cleanupBoards []string
}

// NewCleaner builds a cleanup engine for one mapping.
func NewCleaner(gw trello.Requester, names *trello.NameCache, destinations map[string][]string, cleanupBoards []string) *Cleaner {
	return &Cleaner{gw: gw, names: names, destinations: destinations, cleanupBoards: cleanupBoards}
}

// Cleanup removes the slave-card links, the aggregation checklist and the
// metadata block from every master card, then deletes all cards on every
// list of every destination board. The whole destination board set is
// validated against the whitelist before any mutation; a board outside the
// whitelist aborts with zero delete calls issued.
func (c *Cleaner) Cleanup(ctx context.Context, masters []trello.Card) (domain.CleanupSummary, error) {
	if len(c.cleanupBoards) == 0 {
		return domain.CleanupSummary{}, ErrNoCleanupWhitelist
	}

	lists, err := c.expandDestinationLists(ctx)
	if err != nil {
		return domain.CleanupSummary{}, err
	}

	log.Debug("Removing slave card attachments on the master cards")
	var summary domain.CleanupSummary
	for idx, master := range masters {
		log.Infof("Cleaning up master card %d/%d - %s", idx+1, len(masters), master.Name)
		links, err := cardLinkAttachments(ctx, c.gw, master)
		if err != nil {
			return summary, err
		}
		if len(links) > 0 {
			summary.CleanedUpMasterCards++
			for _, l := range links {
				log.Debugf("Deleting attachment %s from master card %s", l.attachment.ID, master.ID)
				if _, err := c.gw.Do(ctx, http.MethodDelete, "cards/"+master.ID+"/attachments/"+l.attachment.ID, nil); err != nil {
					return summary, err
				}
			}
		}

		raw, err := c.gw.Do(ctx, http.MethodGet, "cards/"+master.ID+"/checklists", nil)
		if err != nil {
			return summary, err
		}
		var checklists []trello.Checklist
		if err := json.Unmarshal(raw, &checklists); err != nil {
			return summary, err
		}
		for _, cl := range checklists {
			if cl.Name != checklistName {
				continue
			}
			log.Debugf("Deleting checklist %s (%s) from master card %s", cl.Name, cl.ID, master.ID)
			if _, err := c.gw.Do(ctx, http.MethodDelete, "checklists/"+cl.ID, nil); err != nil {
				return summary, err
			}
		}

		if err := UpdateMasterMetadata(ctx, c.gw, master, ""); err != nil {
			return summary, err
		}
	}

	log.Debug("Deleting slave cards")
	erasedBoards := map[string]bool{}
	for i, listID := range lists {
		boardName, err := c.names.BoardNameFromList(ctx, listID)
		if err != nil {
			return summary, err
		}
		listName, err := c.names.Name(ctx, "list", listID)
		if err != nil {
			return summary, err
		}
		log.Debugf("Retrieving cards from list %s|%s (list %d/%d)", boardName, listName, i+1, len(lists))
		slaves, err := trello.ListCards(ctx, c.gw, "lists", listID)
		if err != nil {
			return summary, err
		}
		log.Debugf("List %s|%s has %d cards to delete", boardName, listName, len(slaves))
		if len(slaves) > 0 {
			summary.ErasedDestinationLists++
			if !erasedBoards[boardName] {
				erasedBoards[boardName] = true
				summary.ErasedDestinationBoards++
			}
		}
		for _, sc := range slaves {
			log.Debugf("Deleting slave card %s", sc.ID)
			if _, err := c.gw.Do(ctx, http.MethodDelete, "cards/"+sc.ID, nil); err != nil {
				return summary, err
			}
			summary.DeletedSlaveCards++
		}
	}
	return summary, nil
}

// expandDestinationLists resolves every list referenced anywhere in the
// mapping to its owning board, fails if any board is outside the whitelist,
// and returns all lists on the whitelisted boards. Read-only: this is the
// pre-flight check guaranteeing cleanup never touches an unapproved board.
func (c *Cleaner) expandDestinationLists(ctx context.Context) ([]string, error) {
	whitelisted := map[string]bool{}
	for _, id := range c.cleanupBoards {
		whitelisted[id] = true
	}
	seen := map[string]bool{}
	var lists []string
	for _, listIDs := range c.destinations {
		for _, listID := range listIDs {
			if seen[listID] {
				continue
			}
			raw, err := c.gw.Do(ctx, http.MethodGet, "lists/"+listID+"/board", nil)
			if err != nil {
				return nil, err
			}
			var board trello.Board
			if err := json.Unmarshal(raw, &board); err != nil {
				return nil, err
			}
			if !whitelisted[board.ID] {
				return nil, &BoardNotWhitelistedError{BoardID: board.ID}
			}
			raw, err = c.gw.Do(ctx, http.MethodGet, "boards/"+board.ID+"/lists", nil)
			if err != nil {
				return nil, err
			}
			var boardLists []trello.List
			if err := json.Unmarshal(raw, &boardLists); err != nil {
				return nil, err
			}
			for _, l := range boardLists {
				if seen[l.ID] {
					continue
				}
				seen[l.ID] = true
				lists = append(lists, l.ID)
			}
		}
	}
	return lists, nil
}
