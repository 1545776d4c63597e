package element

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/devicelab-dev/droid-agent/pkg/core"
)

// Extractor walks node trees. The zero value logs nothing.
type Extractor struct {
	Logger *zap.Logger
}

// Extract walks the tree depth-first in pre-order and returns every visible,
// enabled node matching kind. Zero-area nodes are kept. A node whose
// attributes panic while being read is logged and left out, but its children
// are still visited; only a node whose Children panics loses its subtree.
func (x Extractor) Extract(root core.UINode, kind Kind) List {
	if root == nil {
		return nil
	}
	var out List
	x.walk(root, kind, &out)
	return out
}

func (x Extractor) walk(n core.UINode, kind Kind, out *List) {
	if n == nil {
		return
	}
	if e, ok := x.visit(n, kind); ok {
		*out = append(*out, e)
	}
	for _, c := range x.children(n, kind) {
		x.walk(c, kind, out)
	}
}

func (x Extractor) visit(n core.UINode, kind Kind) (e Element, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			x.logger().Warn("skipping unreadable node", zap.String("kind", kind.String()), zap.Any("panic", r))
			ok = false
		}
	}()
	if !matches(n, kind) {
		return Element{}, false
	}
	if b := n.Bounds(); !b.Valid() {
		x.logger().Debug("normalizing inverted bounds", zap.Stringer("bounds", b))
	}
	return newElement(n, kind), true
}

func (x Extractor) children(n core.UINode, kind Kind) (kids []core.UINode) {
	defer func() {
		if r := recover(); r != nil {
			x.logger().Warn("skipping unreadable subtree", zap.String("kind", kind.String()), zap.Any("panic", r))
			kids = nil
		}
	}()
	return n.Children()
}

func (x Extractor) logger() *zap.Logger {
	if x.Logger == nil {
		return zap.NewNop()
	}
	return x.Logger
}

// Merge keeps every clickable element and each focusable element whose center
// is farther than minDistance from all clickable centers. Clickables come first.
// Colliding IDs get a numeric suffix so IDs stay unique within the list.
func Merge(clickable, focusable List, minDistance float64) List {
	out := make(List, 0, len(clickable)+len(focusable))
	out = append(out, clickable...)

	for _, f := range focusable {
		c := f.Center()
		redundant := false
		for _, k := range clickable {
			if c.Distance(k.Center()) <= minDistance {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, f)
		}
	}
	return dedupeIDs(out)
}

// ExtractInteractive runs both passes and merges them.
func (x Extractor) ExtractInteractive(root core.UINode, minDistance float64) List {
	return Merge(x.Extract(root, Clickable), x.Extract(root, Focusable), minDistance)
}

// Extract uses a silent Extractor.
func Extract(root core.UINode, kind Kind) List {
	return Extractor{}.Extract(root, kind)
}

// ExtractInteractive uses a silent Extractor.
func ExtractInteractive(root core.UINode, minDistance float64) List {
	return Extractor{}.ExtractInteractive(root, minDistance)
}

func dedupeIDs(l List) List {
	seen := make(map[string]int, len(l))
	for i := range l {
		id := l[i].ID
		seen[id]++
		if n := seen[id]; n > 1 {
			next := id + "_" + strconv.Itoa(n)
			for seen[next] > 0 {
				n++
				next = fmt.Sprintf("%s_%d", id, n)
			}
			seen[id] = n
			seen[next] = 1
			l[i].ID = next
		}
	}
	return l
}
