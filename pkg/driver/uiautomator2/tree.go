// Package uiautomator2 adapts the uiautomator2 HTTP client to the agent's
// device collaborators: the accessibility tree, gesture injection and the
// screen stream.
package uiautomator2

import (
	"context"
	"fmt"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// SourceProvider returns the UI hierarchy XML.
// Implemented by uiautomator2.Client.
type SourceProvider interface {
	Source(ctx context.Context) (string, error)
}

// Tree implements core.UITree by parsing the page source on each call.
type Tree struct {
	client SourceProvider
}

var _ core.UITree = (*Tree)(nil)

// NewTree creates a Tree backed by client.
func NewTree(client SourceProvider) *Tree {
	return &Tree{client: client}
}

// Root fetches and parses the current hierarchy.
// Returns a nil node when the device reports no windows.
func (t *Tree) Root(ctx context.Context) (core.UINode, error) {
	src, err := t.client.Source(ctx)
	if err != nil {
		return nil, fmt.Errorf("get page source: %w", err)
	}
	root, err := ParsePageSource(src)
	if err != nil {
		return nil, err
	}
	if len(root.Kids) == 0 {
		return nil, nil
	}
	return root, nil
}
