package entities

// Node groups used by the graph view for colouring.
const (
	GraphGroupPatient    = 1
	GraphGroupOwner      = 2
	GraphGroupVet        = 3
	GraphGroupDiagnosis  = 4
	GraphGroupTreatment  = 5
	GraphGroupMedication = 6
	GraphGroupOther      = 7
)

// GraphSource tells clients how a graph was produced.
type GraphSource string

const (
	GraphSourceLLM        GraphSource = "llm"
	GraphSourceStructured GraphSource = "structured"
)

// GraphNode is one entity in a patient's knowledge graph.
type GraphNode struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Group   int      `json:"group"`
	Details string   `json:"details,omitempty"`
	Dimmed  bool     `json:"dimmed,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
}

// GraphLink is a labelled relation between two nodes.
type GraphLink struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
	Dimmed   bool   `json:"dimmed,omitempty"`
}

// KnowledgeGraphData is derived per request and never persisted.
type KnowledgeGraphData struct {
	Nodes             []GraphNode `json:"nodes"`
	Links             []GraphLink `json:"links"`
	ConsultationCount int         `json:"consultation_count"`
	Source            GraphSource `json:"source,omitempty"`
}

// EmptyGraph returns a graph with non-nil slices so it encodes as [] not null.
func EmptyGraph() *KnowledgeGraphData {
	return &KnowledgeGraphData{Nodes: []GraphNode{}, Links: []GraphLink{}}
}
