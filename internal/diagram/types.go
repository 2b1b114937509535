package diagram

import "time"

// Node is one resource in the architecture diagram.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type,omitempty"`
	Label      string         `json:"label,omitempty"`
	Group      string         `json:"group,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Group is a named container of nodes (resource group, vnet, subscription).
type Group struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Nodes []string `json:"nodes,omitempty"`
}

// Diagram is the parsed structured-architecture payload produced by agents.
type Diagram struct {
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	Groups []Group `json:"groups,omitempty"`
}

// IaCArtifact is one generated infrastructure-as-code document.
type IaCArtifact struct {
	Code       string         `json:"code"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// IaCBundle holds the generated artifacts for the two target formats.
type IaCBundle struct {
	Bicep     *IaCArtifact `json:"bicep,omitempty"`
	Terraform *IaCArtifact `json:"terraform,omitempty"`
}

// Update is the latest extraction result, handed to observers by value.
// Diagram is nil when extraction failed; RawJSON keeps the original text
// for debugging and re-parse attempts.
type Update struct {
	MessageID   string     `json:"message_id"`
	RunID       string     `json:"run_id,omitempty"`
	Diagram     *Diagram   `json:"diagram"`
	RawJSON     string     `json:"raw_json,omitempty"`
	MessageText string     `json:"message_text,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	IaC         *IaCBundle `json:"iac,omitempty"`
}
