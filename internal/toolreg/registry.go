// Package toolreg holds the namespaced tool tree: resolving a dotted path
// to a tool leaf, and read-only iteration for prompt/catalog generation.
package toolreg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/revittco/agentrun/internal/domain"
)

// ErrNotFound is returned by Resolve when a path does not name a leaf.
var ErrNotFound = errors.New("tool: not found")

// ErrAlreadyRegistered is returned by Register when the path is already a
// leaf (tools are immutable after registration; re-registration requires a
// new Registry or explicit removal, which this package does not expose).
var ErrAlreadyRegistered = errors.New("tool: already registered")

// RunFunc is the effectful body of a tool. Input and output are JSON
// documents; tools are safe to invoke concurrently with distinct inputs and
// must not observe mutable state shared with other tools.
type RunFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// PreviewFunc renders a short, human-readable, secret-redacted projection
// of an input for display in an ApprovalRequest.
type PreviewFunc func(input json.RawMessage) string

// Tool is a single leaf in the tool tree.
type Tool struct {
	Path        string
	Description string
	Approval    domain.ApprovalMode
	InputSchema json.RawMessage
	OutputSchema json.RawMessage
	Run         RunFunc
	Preview     PreviewFunc

	// SecretFields lists dot-paths within the input that hold
	// secret-bearing values (API keys, tokens, passwords). The default
	// preview redacts them; internal/secrets separately encrypts their raw
	// values before any durable persistence.
	SecretFields []string

	compiledInput *jsonschema.Schema
}

// ValidateInput checks input against the tool's declared input schema, if
// any. A tool with no schema accepts any well-formed JSON input.
func (t *Tool) ValidateInput(input json.RawMessage) error {
	if t.compiledInput == nil {
		return nil
	}
	var doc any
	if len(input) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(input, &doc); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	return t.compiledInput.Validate(doc)
}

// PreviewInput renders the tool's preview, falling back to the registry
// default (truncated JSON) when the tool declares none.
func (t *Tool) PreviewInput(input json.RawMessage) string {
	if t.Preview != nil {
		return t.Preview(input)
	}
	return domain.DefaultPreviewRedacted(input, t.SecretFields)
}

// ToolPath and SetApproval satisfy config.ApprovalSetter, letting
// agentrun.yaml override a built-in tool's approval mode before it's
// registered.
func (t *Tool) ToolPath() string                       { return t.Path }
func (t *Tool) SetApproval(mode domain.ApprovalMode) { t.Approval = mode }

type node struct {
	tool     *Tool
	children map[string]*node
}

// Registry holds the namespaced tool tree. Dynamic registration is
// permitted but serialized: two registrations at the same path fail the
// second. Approval mode is part of a tool's identity; changing it requires
// re-registration under a new Registry.
type Registry struct {
	mu   sync.Mutex
	root *node
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{root: &node{children: map[string]*node{}}}
}

// Register adds a tool at its declared Path, compiling its input schema if
// present. Registration is serialized across goroutines.
func (r *Registry) Register(t *Tool) error {
	if t.Path == "" {
		return errors.New("tool: path is required")
	}
	if len(t.InputSchema) > 0 {
		compiled, err := compileSchema(t.Path, t.InputSchema)
		if err != nil {
			return fmt.Errorf("tool %s: compile input schema: %w", t.Path, err)
		}
		t.compiledInput = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	segs := strings.Split(t.Path, ".")
	cur := r.root
	for i, seg := range segs {
		last := i == len(segs)-1
		child, ok := cur.children[seg]
		if !ok {
			child = &node{children: map[string]*node{}}
			cur.children[seg] = child
		}
		if last {
			if child.tool != nil {
				return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t.Path)
			}
			if len(child.children) > 0 {
				return fmt.Errorf("tool: %s conflicts with an existing sub-tree", t.Path)
			}
			child.tool = t
			return nil
		}
		if child.tool != nil {
			return fmt.Errorf("tool: %s is already a leaf, cannot nest %s under it", strings.Join(segs[:i+1], "."), t.Path)
		}
		cur = child
	}
	return nil
}

// Resolve splits path on "." and traverses the tree, failing if any
// segment is missing or the terminal node is not a leaf.
func (r *Registry) Resolve(path string) (*Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.root
	for _, seg := range strings.Split(path, ".") {
		child, ok := cur.children[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		cur = child
	}
	if cur.tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return cur.tool, nil
}

// WalkFunc is called once per tool leaf during Walk.
type WalkFunc func(path string, tool *Tool)

// Walk performs a pre-order traversal in stable, lexicographic segment
// order, visiting every tool leaf.
func (r *Registry) Walk(fn WalkFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	walkNode(r.root, fn)
}

func walkNode(n *node, fn WalkFunc) {
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		child := n.children[k]
		if child.tool != nil {
			fn(child.tool.Path, child.tool)
		}
		walkNode(child, fn)
	}
}

func compileSchema(path string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := "schema:" + path
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
