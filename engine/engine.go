package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/e2jk/trello-team-sync/trello"
)

// checklistName is the aggregation checklist maintained on master cards.
const checklistName = "Involved Teams"

// Result reports the outcome of reconciling one master card.
type Result struct {
	// Active is 1 when the card had at least one destination list.
	Active int
	// SlaveCards is the total number of slave cards after the pass,
	// reused and created alike.
	SlaveCards int
	// NewSlaveCards counts the cards created during this pass.
	NewSlaveCards int
}

// Propagator reconciles master cards onto their destination lists. It keeps
// no state between invocations; everything it needs to be idempotent is
// rediscovered from attachments and the card's own metadata block.
type Propagator struct {
	gw            trello.Requester
	names         *trello.NameCache
	destinations  map[string][]string
	friendlyNames map[string]string
	dryRun        bool
}

// NewPropagator builds a reconciliation engine for one mapping.
// destinations maps label ids to destination list ids; friendlyNames
// optionally overrides checklist item names keyed by destination board
// name.
func NewPropagator(gw trello.Requester, names *trello.NameCache, destinations map[string][]string, friendlyNames map[string]string, dryRun bool) *Propagator {
	return &Propagator{
		gw:            gw,
		names:         names,
		destinations:  destinations,
		friendlyNames: friendlyNames,
		dryRun:        dryRun,
	}
}

// ProcessMasterCard runs one reconciliation pass over a single master card:
// resolve destinations from labels, discover linked slave cards, create what
// is missing, link new cards bidirectionally, regenerate the metadata block
// and keep the checklist in step. Re-running on an unchanged card creates
// nothing. Any gateway error aborts the card and propagates.
func (p *Propagator) ProcessMasterCard(ctx context.Context, master trello.Card) (Result, error) {
	log.Debugf("Process master card '%s'", master.Name)
	targets := Destinations(master.Labels, p.destinations)
	log.Debugf("Master card is to be synced on %d destination lists", len(targets))

	linked, err := ResolveLinkedCards(ctx, p.gw, master)
	if err != nil {
		return Result{}, err
	}

	newMetadata := ""
	if len(targets) == 0 && len(linked) > 0 {
		// The card lost its mapped labels: clear the metadata but leave
		// the slave cards alone for manual cleanup.
		log.Debug("Master card has been unlinked from slave cards")
	}

	var res Result
	var slaves []trello.Card
	var created []trello.Card
	if len(targets) > 0 {
		res.Active = 1
		for _, listID := range targets {
			var existing *trello.Card
			for i := range linked {
				if linked[i].IDList == listID {
					existing = &linked[i]
				}
			}
			var card trello.Card
			if existing != nil {
				log.Debugf("Slave card %s already exists on list %s", existing.ID, listID)
				card = *existing
			} else {
				card, err = p.createSlaveCard(ctx, master, listID)
				if err != nil {
					return Result{}, err
				}
				res.NewSlaveCards++
				if card.ID != "" {
					created = append(created, card)
				}
			}
			slaves = append(slaves, card)
		}
		newMetadata, err = p.generateMetadata(ctx, slaves)
		if err != nil {
			return Result{}, err
		}
		res.SlaveCards = len(slaves)
		log.Infof("This master card has %d slave cards (%d newly created)", len(slaves), res.NewSlaveCards)
	} else {
		log.Info("This master card has no slave cards")
	}

	if err := UpdateMasterMetadata(ctx, p.gw, master, newMetadata); err != nil {
		return Result{}, err
	}

	if len(targets) > 0 && !p.dryRun {
		if err := p.reconcileChecklist(ctx, master, targets); err != nil {
			return Result{}, err
		}
	}

	// Link master and newly created slave cards together.
	for _, card := range created {
		log.Debugf("Attaching master card %s to slave card %s", master.ID, card.ID)
		if _, err := p.gw.Do(ctx, http.MethodPost, "cards/"+card.ID+"/attachments", url.Values{"url": {master.URL}}); err != nil {
			return Result{}, err
		}
		log.Debugf("Attaching slave card %s to master card %s", card.ID, master.ID)
		if _, err := p.gw.Do(ctx, http.MethodPost, "cards/"+master.ID+"/attachments", url.Values{"url": {card.URL}}); err != nil {
			return Result{}, err
		}
	}

	return res, nil
}

// createSlaveCard copies the master card onto a destination list. The copy
// keeps attachments, checklists, comments, due date and stickers but not
// labels or members, and its description is the master's user content with
// a provenance line appended. In dry-run mode the returned card is empty.
func (p *Propagator) createSlaveCard(ctx context.Context, master trello.Card, listID string) (trello.Card, error) {
	log.Debug("Creating new slave card")
	content, _ := SplitDescription(master.Desc)
	query := url.Values{
		"idList":         {listID},
		"desc":           {content + "\n\nCreated from master card " + master.ShortURL},
		"pos":            {"bottom"},
		"idCardSource":   {master.ID},
		"keepFromSource": {"attachments,checklists,comments,due,stickers"},
	}
	raw, err := p.gw.Do(ctx, http.MethodPost, "cards", query)
	if err != nil {
		return trello.Card{}, err
	}
	if raw == nil {
		return trello.Card{}, nil
	}
	var card trello.Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return trello.Card{}, err
	}
	log.Debugf("New slave card ID: %s", card.ID)
	return card, nil
}

// generateMetadata renders the metadata block over the slave cards that
// exist. Dry-run placeholders have no id and are skipped.
func (p *Propagator) generateMetadata(ctx context.Context, slaves []trello.Card) (string, error) {
	real := slaves[:0:0]
	for _, sc := range slaves {
		if sc.ID != "" {
			real = append(real, sc)
		}
	}
	mcm, err := GenerateMetadata(ctx, p.names, real)
	if err != nil {
		return "", err
	}
	log.Debugf("New master card metadata: %s", mcm)
	return mcm, nil
}

// reconcileChecklist makes sure the master card carries the aggregation
// checklist with one item per destination grouping. Missing items are
// appended when the checklist already exists; extra items are left alone.
func (p *Propagator) reconcileChecklist(ctx context.Context, master trello.Card, targets []string) error {
	log.Debugf("Retrieving checklists from card %s", master.ID)
	raw, err := p.gw.Do(ctx, http.MethodGet, "cards/"+master.ID+"/checklists", nil)
	if err != nil {
		return err
	}
	var checklists []trello.Checklist
	if err := json.Unmarshal(raw, &checklists); err != nil {
		return err
	}
	existingItems := map[string]bool{}
	checklistID := ""
	for _, c := range checklists {
		if c.Name != checklistName {
			continue
		}
		checklistID = c.ID
		for _, item := range c.CheckItems {
			existingItems[item.Name] = true
		}
		break
	}
	if checklistID == "" {
		log.Debug("Creating new checklist")
		raw, err := p.gw.Do(ctx, http.MethodPost, "cards/"+master.ID+"/checklists", url.Values{"name": {checklistName}})
		if err != nil {
			return err
		}
		var cl trello.Checklist
		if err := json.Unmarshal(raw, &cl); err != nil {
			return err
		}
		checklistID = cl.ID
	}
	for _, listID := range targets {
		// The destination board's name is the item label, unless a
		// friendlier name is configured for it.
		itemName, err := p.names.BoardNameFromList(ctx, listID)
		if err != nil {
			return err
		}
		if friendly, ok := p.friendlyNames[itemName]; ok {
			itemName = friendly
		}
		if existingItems[itemName] {
			continue
		}
		log.Debugf("Adding new checklist item '%s' to checklist %s", itemName, checklistID)
		if _, err := p.gw.Do(ctx, http.MethodPost, "checklists/"+checklistID+"/checkItems", url.Values{"name": {itemName}}); err != nil {
			return err
		}
		existingItems[itemName] = true
	}
	return nil
}
