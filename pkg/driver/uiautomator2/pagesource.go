package uiautomator2

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// Node is one element of the Android UI hierarchy XML. It implements core.UINode.
type Node struct {
	Class       string
	TextValue   string
	ContentDesc string
	ResID       string
	Rect        core.Rect
	Clickable   bool
	Focusable   bool
	Enabled     bool
	Displayed   bool
	Kids        []*Node
}

var _ core.UINode = (*Node)(nil)

func (n *Node) Children() []core.UINode {
	out := make([]core.UINode, len(n.Kids))
	for i, k := range n.Kids {
		out[i] = k
	}
	return out
}

func (n *Node) Bounds() core.Rect          { return n.Rect }
func (n *Node) IsClickable() bool          { return n.Clickable }
func (n *Node) IsFocusable() bool          { return n.Focusable }
func (n *Node) IsVisibleToUser() bool      { return n.Displayed }
func (n *Node) IsEnabled() bool            { return n.Enabled }
func (n *Node) ClassName() string          { return n.Class }
func (n *Node) Text() string               { return n.TextValue }
func (n *Node) ContentDescription() string { return n.ContentDesc }
func (n *Node) ResourceID() string         { return n.ResID }

// ParsePageSource parses Android UI hierarchy XML into a node tree.
// Supports both formats:
// - UIAutomator dump: uses class name as element tag (e.g., <android.widget.FrameLayout>)
// - Appium format: uses <node> elements
//
// The returned root stands for the <hierarchy> element; its children are the windows.
func ParsePageSource(xmlData string) (*Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var root *Node
	var stack []*Node

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse page source: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" && root == nil {
				root = &Node{Class: "hierarchy", Enabled: true, Displayed: true}
				stack = append(stack, root)
				continue
			}
			if root == nil {
				return nil, fmt.Errorf("invalid page source: no hierarchy element found")
			}
			node := newNode(t)
			parent := stack[len(stack)-1]
			parent.Kids = append(parent.Kids, node)
			stack = append(stack, node)

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("invalid page source: no hierarchy element found")
	}
	if len(root.Kids) == 1 {
		root.Rect = root.Kids[0].Rect
	}
	return root, nil
}

func newNode(t xml.StartElement) *Node {
	node := &Node{
		Class:     t.Name.Local, // Class name is the element tag
		Enabled:   true,
		Displayed: true,
	}

	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			node.TextValue = attr.Value
		case "resource-id":
			node.ResID = attr.Value
		case "content-desc":
			node.ContentDesc = attr.Value
		case "class":
			node.Class = attr.Value // Override if class attr exists
		case "bounds":
			node.Rect = parseBounds(attr.Value)
		case "enabled":
			node.Enabled = attr.Value == "true"
		case "displayed", "visible-to-user":
			node.Displayed = attr.Value != "false"
		case "clickable":
			node.Clickable = attr.Value == "true"
		case "focusable":
			node.Focusable = attr.Value == "true"
		}
	}
	return node
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]" to a Rect.
// Inverted corners are swapped.
func parseBounds(s string) core.Rect {
	// Format: [x1,y1][x2,y2]
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Rect{}
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return core.Rect{}
		}
		v[i] = n
	}

	return core.Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}.Normalize()
}
