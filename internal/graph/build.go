// Package graph builds, cleans, filters and lays out patient knowledge graphs.
package graph

import (
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
)

// MaxLabelLength is the longest label shown on a node before it is cut.
const MaxLabelLength = 30

// TruncateLabel shortens long labels to MaxLabelLength characters plus "...".
func TruncateLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= MaxLabelLength {
		return label
	}
	return string(runes[:MaxLabelLength]) + "..."
}

type builder struct {
	graph *entities.KnowledgeGraphData
	nodes map[string]int
	links map[string]struct{}
}

func newBuilder() *builder {
	return &builder{
		graph: entities.EmptyGraph(),
		nodes: make(map[string]int),
		links: make(map[string]struct{}),
	}
}

func nodeID(kind, name string) string {
	return kind + ":" + strings.ToLower(strings.TrimSpace(name))
}

// addNode adds a node once; later sightings append their detail line.
func (b *builder) addNode(kind, name string, group int, detail string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	id := nodeID(kind, name)
	if idx, ok := b.nodes[id]; ok {
		if detail != "" && !strings.Contains(b.graph.Nodes[idx].Details, detail) {
			b.graph.Nodes[idx].Details += "; " + detail
		}
		return id
	}
	b.nodes[id] = len(b.graph.Nodes)
	b.graph.Nodes = append(b.graph.Nodes, entities.GraphNode{
		ID:      id,
		Label:   TruncateLabel(name),
		Group:   group,
		Details: joinDetail(name, detail),
	})
	return id
}

func joinDetail(name, detail string) string {
	if len([]rune(name)) <= MaxLabelLength {
		return detail
	}
	if detail == "" {
		return name
	}
	return name + " (" + detail + ")"
}

func (b *builder) addLink(source, target, relation string) {
	if source == "" || target == "" || source == target {
		return
	}
	key := source + "\x00" + target + "\x00" + relation
	if _, ok := b.links[key]; ok {
		return
	}
	b.links[key] = struct{}{}
	b.graph.Links = append(b.graph.Links, entities.GraphLink{Source: source, Target: target, Relation: relation})
}

// BuildStructured derives a graph from the stored fields of a patient's
// consultations, without a language model.
func BuildStructured(patientName string, consultations []*entities.Consultation) *entities.KnowledgeGraphData {
	b := newBuilder()
	b.graph.Source = entities.GraphSourceStructured
	b.graph.ConsultationCount = len(consultations)

	patient := b.addNode("patient", patientName, entities.GraphGroupPatient, "")
	if patient == "" {
		return b.graph
	}

	for _, c := range consultations {
		date := c.VisitDate()
		clinical := c.ExtractedInfo.Clinical

		if c.Species != "" || c.ExtractedInfo.Administrative.Breed != "" {
			species := strings.TrimSpace(c.Species + " " + c.ExtractedInfo.Administrative.Breed)
			b.graph.Nodes[0].Details = species
		}

		if owner := b.addNode("owner", c.OwnerName, entities.GraphGroupOwner, ""); owner != "" {
			b.addLink(patient, owner, "owns")
		}
		if vet := b.addNode("vet", c.VetName, entities.GraphGroupVet, date); vet != "" {
			b.addLink(vet, patient, "treated")
		}
		if diagnosis := b.addNode("diagnosis", clinical.Diagnosis, entities.GraphGroupDiagnosis, date); diagnosis != "" {
			b.addLink(patient, diagnosis, "diagnosed with")
		}
		if treatment := b.addNode("treatment", clinical.Treatment, entities.GraphGroupTreatment, date); treatment != "" {
			b.addLink(patient, treatment, "treated with")
		}
		for _, med := range clinical.Medications {
			if m := b.addNode("medication", med, entities.GraphGroupMedication, date); m != "" {
				b.addLink(patient, m, "prescribed")
			}
		}
		if complaint := b.addNode("symptom", clinical.ChiefComplaint, entities.GraphGroupOther, date); complaint != "" {
			b.addLink(patient, complaint, "presented with")
		}
	}
	return b.graph
}
