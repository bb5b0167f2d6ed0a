// Package protocol implements the local-socket request/response surface
// (spec.md §4.10): a unix stream listener that accepts NUL-terminated
// XML requests, dispatches them against the query, mutation, and
// indexing engines, and writes back one XML response document per
// request.
package protocol

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/config"
)

// node is a generic, dynamically-named XML element. Requests are free
// form (every command has its own parameter shape, and list-valued
// parameters nest an arbitrary number of singular children), so rather
// than hand-writing one decode struct per command this package parses
// into a tree of nodes and reads named children off it; responses are
// built the same way and marshaled through the same type, since each
// node's own XMLName takes priority over any field tag when
// encoding/xml decides what to emit.
type node struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
	Kids    []node `xml:",any"`
}

func elem(name, content string) node {
	return node{XMLName: xml.Name{Local: name}, Content: content}
}

func wrap(name string, kids ...node) node {
	return node{XMLName: xml.Name{Local: name}, Kids: kids}
}

func boolElem(name string, v bool) node {
	return elem(name, strconv.FormatBool(v))
}

func intElem(name string, v int) node {
	return elem(name, strconv.Itoa(v))
}

func (n node) child(name string) (node, bool) {
	for _, k := range n.Kids {
		if k.XMLName.Local == name {
			return k, true
		}
	}
	return node{}, false
}

func (n node) str(name string) (string, bool) {
	c, ok := n.child(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(c.Content), true
}

func (n node) strOr(name, def string) string {
	v, ok := n.str(name)
	if !ok || v == "" {
		return def
	}
	return v
}

func (n node) boolOr(name string, def bool) bool {
	v, ok := n.str(name)
	if !ok || v == "" {
		return def
	}
	b, err := config.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (n node) intOr(name string, def int) int {
	v, ok := n.str(name)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// list reads a wrapper element's children values, e.g. list("paths")
// returns the chardata of every child of <paths>…</paths> regardless of
// that child's own tag name (requests name it with the singularized
// wrapper name, but nothing here depends on that).
func (n node) list(name string) []string {
	wrapper, ok := n.child(name)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(wrapper.Kids))
	for _, k := range wrapper.Kids {
		out = append(out, strings.TrimSpace(k.Content))
	}
	return out
}

func listElem(name, itemName string, items []string) node {
	kids := make([]node, len(items))
	for i, it := range items {
		kids[i] = elem(itemName, it)
	}
	return wrap(name, kids...)
}

// wireRequest mirrors the documented request shape:
//
//	<request><command><type>CMD</type><params>…</params></command></request>
type wireRequest struct {
	XMLName xml.Name `xml:"request"`
	Command struct {
		Type   string `xml:"type"`
		Params node   `xml:"params"`
	} `xml:"command"`
}

// entryNode renders a catalog entry as the documented <file>/<dir>
// element.
func entryNode(e *fsal.Entry) node {
	tag := "file"
	if e.IsDir() {
		tag = "dir"
	}
	return wrap(tag,
		elem("base-path", e.BasePath),
		elem("rel-path", e.Path),
		elem("create-timestamp", formatTimestamp(e.CreateTime.Unix(), e.CreateTime.Nanosecond())),
		elem("modify-timestamp", formatTimestamp(e.ModifyTime.Unix(), e.ModifyTime.Nanosecond())),
		elem("size", strconv.FormatInt(e.Size, 10)),
	)
}

func formatTimestamp(sec int64, nsec int) string {
	return strconv.FormatFloat(float64(sec)+float64(nsec)/1e9, 'f', 6, 64)
}

func entriesNodes(entries []*fsal.Entry) []node {
	out := make([]node, len(entries))
	for i, e := range entries {
		out[i] = entryNode(e)
	}
	return out
}
