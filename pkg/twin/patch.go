// Package twin holds the wire types exchanged with the twin-state store: JSON-Patch style
// partial-update documents and the change notifications emitted after an update.
package twin

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	OpReplace = "replace"
	OpAdd     = "add"

	// EventTypeUpdate is the eventType of a notification describing an applied patch.
	EventTypeUpdate = "Twin.Update"
)

var ErrInvalidPath = errors.New("invalid property path")

// Operation is a single patch entry.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Patch is an ordered partial-update document.
type Patch []Operation

// AppendReplace adds a replace of path with value.
func (p *Patch) AppendReplace(path string, value any) {
	*p = append(*p, Operation{Op: OpReplace, Path: path, Value: value})
}

// Validate checks that every operation is supported and targets a well-formed path.
func (p Patch) Validate() error {
	for i, op := range p {
		if op.Op != OpReplace && op.Op != OpAdd {
			return fmt.Errorf("operation %d: unsupported op %q", i, op.Op)
		}
		if _, err := SplitPath(op.Path); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

// PropertyPath returns the JSON Pointer addressing a top-level property.
func PropertyPath(name string) string {
	return "/" + pointerEscaper.Replace(name)
}

// SplitPath decodes a JSON Pointer into its unescaped reference tokens.
// The root pointer "" is rejected since a patch never replaces the whole twin.
func SplitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	tokens := strings.Split(path[1:], "/")
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		tokens[i] = pointerUnescaper.Replace(tok)
	}
	return tokens, nil
}

var (
	pointerEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// ChangeNotification describes a patch that was applied to a twin.
type ChangeNotification struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	EventType string     `json:"eventType"`
	EventTime time.Time  `json:"eventTime"`
	Data      ChangeData `json:"data"`
}

type ChangeData struct {
	ModelID string `json:"modelId,omitempty"`
	Patch   Patch  `json:"patch"`
}
