package xmldb

import (
	"strings"

	"github.com/antchfx/xmlquery"
)

// domNode implements Node over a parsed document node. Context fields are
// resolved by walking the ancestor chain, so the accessor works for any
// document shape the mapping rules describe.
type domNode struct {
	n *xmlquery.Node
}

// WrapNode exposes a parsed xmlquery node through the Node interface.
// Backends that parse XML responses themselves reuse this wrapper.
func WrapNode(n *xmlquery.Node) Node { return &domNode{n: n} }

func (d *domNode) Field(name string) (string, bool) {
	if v, ok := attrValue(d.n, name); ok {
		return v, true
	}
	for c := d.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return strings.TrimSpace(c.InnerText()), true
		}
	}
	if name == "value" {
		if t := strings.TrimSpace(d.n.InnerText()); t != "" {
			return t, true
		}
	}
	return "", false
}

func (d *domNode) Context(rule ContextRule) (string, bool) {
	attr := rule.Attribute
	if attr == "" {
		attr = "name"
	}
	for n := d.n; n != nil; n = n.Parent {
		if n.Type != xmlquery.ElementNode && n.Type != xmlquery.DocumentNode {
			continue
		}
		if rule.Element != "" && n.Data != rule.Element {
			continue
		}
		if v, ok := attrValue(n, attr); ok {
			return v, true
		}
		// A named ancestor without the attribute still terminates the
		// walk; the value is genuinely absent.
		if rule.Element != "" && n.Data == rule.Element {
			return "", false
		}
	}
	return "", false
}

func (d *domNode) Text() string {
	return strings.TrimSpace(d.n.InnerText())
}

func attrValue(n *xmlquery.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
