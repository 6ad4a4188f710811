package domain

import "encoding/json"

// Mapping types. Automatic mappings keep a webhook registered on the master
// board so edits trigger re-synchronization; manual mappings are only run
// on demand.
const (
	MappingManual    = "manual"
	MappingAutomatic = "automatic"
)

// Mapping is one synchronization setup: credentials, the master board and
// the label-to-destination-lists routing table. DestinationLists,
// FriendlyNames and CleanupBoards are stored as raw JSON text, the same
// free-form way the configuration is supplied.
type Mapping struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Key              string `json:"key"`
	Token            string `json:"token"`
	MasterBoard      string `json:"masterBoard"`
	Type             string `json:"type"`
	DestinationLists string `json:"destinationLists"`
	FriendlyNames    string `json:"friendlyNames,omitempty"`
	CleanupBoards    string `json:"cleanupBoards,omitempty"`
}

// ParseDestinationLists decodes the label-id to destination-list-ids table.
// Invalid or empty JSON yields a nil map and the decode error; callers
// treat that as "no destinations", not as a fatal condition.
func (m *Mapping) ParseDestinationLists() (map[string][]string, error) {
	if m.DestinationLists == "" {
		return nil, nil
	}
	var lists map[string][]string
	if err := json.Unmarshal([]byte(m.DestinationLists), &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// ParseFriendlyNames decodes the optional checklist-item name overrides,
// keyed by the destination board name. Invalid JSON yields nil.
func (m *Mapping) ParseFriendlyNames() map[string]string {
	if m.FriendlyNames == "" {
		return nil
	}
	var names map[string]string
	if err := json.Unmarshal([]byte(m.FriendlyNames), &names); err != nil {
		return nil
	}
	return names
}

// ParseCleanupBoards decodes the whitelist of boards approved for
// destructive cleanup. Invalid JSON yields nil, which disables cleanup.
func (m *Mapping) ParseCleanupBoards() []string {
	if m.CleanupBoards == "" {
		return nil
	}
	var boards []string
	if err := json.Unmarshal([]byte(m.CleanupBoards), &boards); err != nil {
		return nil
	}
	return boards
}

// NumLabels returns how many labels the mapping routes.
func (m *Mapping) NumLabels() int {
	lists, err := m.ParseDestinationLists()
	if err != nil {
		return 0
	}
	return len(lists)
}

// NumDestinationLists returns the total number of destination list slots
// across all labels, duplicates included.
func (m *Mapping) NumDestinationLists() int {
	lists, err := m.ParseDestinationLists()
	if err != nil {
		return 0
	}
	n := 0
	for _, ids := range lists {
		n += len(ids)
	}
	return n
}
