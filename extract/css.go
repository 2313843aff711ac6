// Package extract parses captured HTML documents and answers CSS-style
// selector queries against them.
//
// The selector engine supports the subset the profile cascades need:
//   - tag: "h1", "li", "span"
//   - .class, including chained classes: "div.text-body-medium.break-words"
//   - #id: "#experience", "div#experience"
//   - [attr] and [attr=val], value quoted or bare: "span[aria-hidden='true']"
//   - descendant combinator (space): "section[data-section='experience'] li"
//   - selector lists (comma): "div.a, div.b"
//
// Results are always in document order, selector lists included.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Parse parses serialized markup into a document tree. The parser is
// lenient: captured pages are full of unclosed and unexpected tags.
func Parse(markup string) (*html.Node, error) {
	return html.Parse(strings.NewReader(markup))
}

// SelectAll returns all nodes under root matching the selector, in document
// order. A node matching several members of a selector list is returned once.
func SelectAll(root *html.Node, selector string) []*html.Node {
	matched := make(map[*html.Node]bool)
	for _, sel := range strings.Split(selector, ",") {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		for _, n := range selectDescendant(root, sel) {
			matched[n] = true
		}
	}
	if len(matched) == 0 {
		return nil
	}

	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matched[n] {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// SelectFirst returns the first node matching the selector in document
// order, or nil when nothing matches.
func SelectFirst(root *html.Node, selector string) *html.Node {
	nodes := SelectAll(root, selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// selectDescendant evaluates one selector (no commas), applying the
// descendant combinator between whitespace-separated compound parts.
func selectDescendant(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}

	matches := matchPart(root, parts[0], true)
	for _, part := range parts[1:] {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchPart(parent, part, false)...)
		}
		matches = next
	}
	return matches
}

// matchPart collects nodes under root matching one compound selector.
// includeRoot controls whether root itself is a candidate; descendant steps
// must not re-match their context node.
func matchPart(root *html.Node, part string, includeRoot bool) []*html.Node {
	sel := parseCompound(part)
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesCompound(n, sel) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if includeRoot {
		walk(root)
	} else {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	return results
}

// compound is one parsed selector part: "tag#id.class1.class2[attr=val]".
type compound struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
}

// parseCompound parses "tag.class", "#id", "tag[attr=val]", chained
// ".class1.class2", and combinations of these.
func parseCompound(sel string) compound {
	var c compound

	// Attribute selector: tag[attr] or tag[attr=val], val optionally quoted.
	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eq := strings.IndexByte(attrPart, '='); eq >= 0 {
			c.attrKey = attrPart[:eq]
			c.attrVal = strings.Trim(attrPart[eq+1:], `"'`)
		} else {
			c.attrKey = attrPart
		}
	}

	// Classes: everything after the first '.', possibly chained.
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		for _, cls := range strings.Split(sel[idx+1:], ".") {
			if cls != "" {
				c.classes = append(c.classes, cls)
			}
		}
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		c.id = sel[idx+1:]
		sel = sel[:idx]
	}

	c.tag = sel
	return c
}

// matchesCompound checks one node against a parsed compound selector.
func matchesCompound(n *html.Node, c compound) bool {
	if n.Type != html.ElementNode {
		return false
	}

	if c.tag != "" && n.Data != c.tag {
		return false
	}

	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}

	if len(c.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, cls := range have {
				if cls == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	if c.attrKey != "" {
		if c.attrVal != "" {
			if getAttr(n, c.attrKey) != c.attrVal {
				return false
			}
		} else if !hasAttr(n, c.attrKey) {
			return false
		}
	}

	return true
}

// getAttr returns the value of an attribute on a node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// hasAttr checks if a node has a specific attribute.
func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}
