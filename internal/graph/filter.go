package graph

import (
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
)

// ApplyFilter dims every node whose label and details do not contain query
// (case-insensitive) and every link touching a dimmed node. An empty query
// clears all dimming. It returns the number of matching nodes.
func ApplyFilter(g *entities.KnowledgeGraphData, query string) int {
	if g == nil {
		return 0
	}
	q := strings.ToLower(strings.TrimSpace(query))

	dimmed := make(map[string]bool, len(g.Nodes))
	matches := 0
	for i := range g.Nodes {
		n := &g.Nodes[i]
		n.Dimmed = q != "" &&
			!strings.Contains(strings.ToLower(n.Label), q) &&
			!strings.Contains(strings.ToLower(n.Details), q)
		dimmed[n.ID] = n.Dimmed
		if !n.Dimmed {
			matches++
		}
	}
	for i := range g.Links {
		l := &g.Links[i]
		l.Dimmed = dimmed[l.Source] || dimmed[l.Target]
	}
	return matches
}
