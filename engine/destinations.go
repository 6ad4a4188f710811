package engine

import "github.com/e2jk/trello-team-sync/trello"

// Destinations computes the destination lists a card must be propagated to,
// from its labels and the mapping's routing table. The result preserves
// first-occurrence order and contains no duplicates. Labels absent from the
// mapping are ignored; a card may carry unrelated labels.
func Destinations(labels []trello.Label, mapping map[string][]string) []string {
	var lists []string
	seen := map[string]bool{}
	for _, l := range labels {
		for _, id := range mapping[l.ID] {
			if seen[id] {
				continue
			}
			seen[id] = true
			lists = append(lists, id)
		}
	}
	return lists
}
