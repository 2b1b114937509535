package diagram

import (
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

// Agents emit diagrams in three shapes, tried in this order: a structured
// object on the frame, a JSON-encoded string, and a fenced code block inside
// free-form message text. Whichever parses first wins.

var errNotDiagram = errors.New("payload carries no diagram keys")

// Payload is one candidate carrying zero or more representations of a diagram.
type Payload struct {
	// Typed is the structured object attached to a final frame, if any.
	Typed json.RawMessage
	// Raw is a JSON document serialized into a string field.
	Raw string
	// Text is free-form message text that may embed a fenced JSON block.
	Text string
}

// Extract recovers a diagram from a heterogeneous payload. It returns nil
// when nothing parses; extraction failures are never fatal to the caller.
func Extract(p Payload) *Diagram {
	if len(p.Typed) > 0 {
		if d, err := parseDocument(p.Typed); err == nil {
			return d
		} else {
			slog.Warn("diagram: typed payload did not parse", "error", err)
		}
	}
	if p.Raw != "" {
		if d, err := parseDocument([]byte(p.Raw)); err == nil {
			return d
		} else {
			slog.Warn("diagram: raw payload did not parse", "error", err)
		}
	}
	if p.Text != "" {
		if block := fencedJSON(p.Text); block != "" {
			if d, err := parseDocument([]byte(block)); err == nil {
				return d
			}
		}
	}
	return nil
}

// LooksEmbedded reports whether message text carries the markers of an
// embedded diagram payload and is worth running through Extract. The
// substring check is a deliberately loose last resort for agents that
// inline the document without fencing it.
func LooksEmbedded(text string) bool {
	if fencedJSON(text) != "" {
		return true
	}
	return strings.Contains(text, `"services"`) && strings.Contains(text, `"groups"`)
}

// document accepts both the current nodes/edges vocabulary and the legacy
// services/connections one; normalization happens here and nowhere else.
type document struct {
	Nodes       []Node  `json:"nodes"`
	Edges       []Edge  `json:"edges"`
	Groups      []Group `json:"groups"`
	Services    []Node  `json:"services"`
	Connections []Edge  `json:"connections"`
}

func parseDocument(raw []byte) (*Diagram, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	known := false
	for _, k := range []string{"nodes", "edges", "groups", "services", "connections"} {
		if _, ok := keys[k]; ok {
			known = true
			break
		}
	}
	if !known {
		return nil, errNotDiagram
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	d := &Diagram{Nodes: doc.Nodes, Edges: doc.Edges, Groups: doc.Groups}
	if len(d.Nodes) == 0 && len(doc.Services) > 0 {
		d.Nodes = doc.Services
	}
	if len(d.Edges) == 0 && len(doc.Connections) > 0 {
		d.Edges = doc.Connections
	}
	if d.Nodes == nil {
		d.Nodes = []Node{}
	}
	if d.Edges == nil {
		d.Edges = []Edge{}
	}
	return d, nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// fencedJSON returns the first fenced JSON object in text, or "".
func fencedJSON(text string) string {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractIaC parses the infrastructure-as-code bundle attached to a final
// frame. A bundle with neither artifact collapses to nil.
func ExtractIaC(raw json.RawMessage) *IaCBundle {
	if len(raw) == 0 {
		return nil
	}
	var b IaCBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		slog.Warn("diagram: iac payload did not parse", "error", err)
		return nil
	}
	if b.Bicep == nil && b.Terraform == nil {
		return nil
	}
	return &b
}
