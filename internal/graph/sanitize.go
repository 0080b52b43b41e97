package graph

import (
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
)

const defaultRelation = "related to"

// Sanitize returns a copy of g that is safe to render: nodes have unique
// non-empty ids and a group in 1..7, and every link joins two distinct
// existing nodes exactly once.
func Sanitize(g *entities.KnowledgeGraphData) *entities.KnowledgeGraphData {
	out := entities.EmptyGraph()
	if g == nil {
		return out
	}
	out.ConsultationCount = g.ConsultationCount
	out.Source = g.Source

	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}

		n.Label = strings.TrimSpace(n.Label)
		if n.Label == "" {
			n.Label = n.ID
		}
		if short := TruncateLabel(n.Label); short != n.Label {
			if n.Details == "" {
				n.Details = n.Label
			}
			n.Label = short
		}
		if n.Group < entities.GraphGroupPatient || n.Group > entities.GraphGroupOther {
			n.Group = entities.GraphGroupOther
		}
		n.Dimmed = false
		n.X, n.Y = nil, nil
		out.Nodes = append(out.Nodes, n)
	}

	links := make(map[string]struct{}, len(g.Links))
	for _, l := range g.Links {
		l.Source = strings.TrimSpace(l.Source)
		l.Target = strings.TrimSpace(l.Target)
		if l.Source == l.Target {
			continue
		}
		if _, ok := seen[l.Source]; !ok {
			continue
		}
		if _, ok := seen[l.Target]; !ok {
			continue
		}
		l.Relation = strings.TrimSpace(l.Relation)
		if l.Relation == "" {
			l.Relation = defaultRelation
		}
		key := l.Source + "\x00" + l.Target + "\x00" + l.Relation
		if _, dup := links[key]; dup {
			continue
		}
		links[key] = struct{}{}
		l.Dimmed = false
		out.Links = append(out.Links, l)
	}
	return out
}
