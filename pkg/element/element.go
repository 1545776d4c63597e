// Package element turns an accessibility tree into the labelled list of
// interactive elements the model chooses from.
package element

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// Kind is the predicate an element was selected by.
type Kind int

const (
	Clickable Kind = iota
	Focusable
)

func (k Kind) String() string {
	if k == Focusable {
		return "focusable"
	}
	return "clickable"
}

// MarshalText lets kinds serialize by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Element is one addressable control on screen.
type Element struct {
	ID                 string    `json:"id"`
	Bounds             core.Rect `json:"bounds"`
	Kind               Kind      `json:"kind"`
	ClassName          string    `json:"className,omitempty"`
	Text               string    `json:"text,omitempty"`
	ContentDescription string    `json:"contentDescription,omitempty"`
	ResourceID         string    `json:"resourceId,omitempty"`
}

// Center returns the midpoint of the element's bounds.
func (e Element) Center() core.Point {
	return e.Bounds.Center()
}

// Label is the most readable description of the element for prompts and tables.
func (e Element) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.ContentDescription != "":
		return e.ContentDescription
	case e.ResourceID != "":
		return e.ResourceID
	default:
		return e.ClassName
	}
}

// List is an ordered element list. Index i is exposed to the model as label i+1.
type List []Element

// At returns the element for a 1-based label.
func (l List) At(label int) (Element, bool) {
	if label < 1 || label > len(l) {
		return Element{}, false
	}
	return l[label-1], true
}

// IDs returns the element IDs in order.
func (l List) IDs() []string {
	ids := make([]string, len(l))
	for i, e := range l {
		ids[i] = e.ID
	}
	return ids
}

const maxDescriptionInID = 20

// MakeID derives a content-based ID: the sanitized resource-id when present,
// else className_width_height of the normalized bounds, with a short content description appended.
func MakeID(n core.UINode) string {
	var id string
	if rid := n.ResourceID(); rid != "" {
		id = strings.NewReplacer(":", ".", "/", "_").Replace(rid)
	} else {
		b := n.Bounds().Normalize()
		id = fmt.Sprintf("%s_%d_%d", n.ClassName(), b.Width(), b.Height())
	}

	if desc := n.ContentDescription(); desc != "" && len(desc) < maxDescriptionInID {
		id += "_" + strings.NewReplacer("/", "_", " ", "", ":", "_").Replace(desc)
	}
	return id
}

func matches(n core.UINode, kind Kind) bool {
	var ok bool
	if kind == Focusable {
		ok = n.IsFocusable()
	} else {
		ok = n.IsClickable()
	}
	return ok && n.IsVisibleToUser() && n.IsEnabled()
}

func newElement(n core.UINode, kind Kind) Element {
	return Element{
		ID:                 MakeID(n),
		Bounds:             n.Bounds().Normalize(),
		Kind:               kind,
		ClassName:          n.ClassName(),
		Text:               n.Text(),
		ContentDescription: n.ContentDescription(),
		ResourceID:         n.ResourceID(),
	}
}
