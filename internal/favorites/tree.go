// Package favorites holds the user's favorites tree as an arena of nodes
// indexed by id. Children are id lists and a node only ever gets a parent
// when it is created, so the tree cannot form cycles.
package favorites

import (
	"errors"
	"fmt"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/google/uuid"
)

// ErrUnknownNode is returned for ids not present in the tree.
var ErrUnknownNode = errors.New("unknown favorites node")

type node struct {
	id       string
	label    string
	leaf     bool
	parent   string // empty for top-level nodes
	children []string
}

// Tree is the in-memory favorites tree. It is not safe for concurrent use.
type Tree struct {
	nodes map[string]*node
	roots []string
	newID func() string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*node), newID: uuid.NewString}
}

// FromModel builds a tree from its persisted form.
func FromModel(src []models.FavoriteTreeNode) (*Tree, error) {
	t := New()
	ids, err := t.load("", src)
	if err != nil {
		return nil, err
	}
	t.roots = ids
	return t, nil
}

func (t *Tree) load(parent string, src []models.FavoriteTreeNode) ([]string, error) {
	ids := make([]string, 0, len(src))
	for _, m := range src {
		if m.NodeID == "" {
			return nil, fmt.Errorf("favorites node %q has no id", m.Label)
		}
		if _, dup := t.nodes[m.NodeID]; dup {
			return nil, fmt.Errorf("duplicate favorites node id %s", m.NodeID)
		}
		if m.IsLeaf != (m.Children == nil) {
			return nil, fmt.Errorf("favorites node %s: leaf and children disagree", m.NodeID)
		}

		n := &node{id: m.NodeID, label: m.Label, leaf: m.IsLeaf, parent: parent}
		t.nodes[n.id] = n
		if m.Children != nil {
			children, err := t.load(n.id, *m.Children)
			if err != nil {
				return nil, err
			}
			n.children = children
		}
		ids = append(ids, n.id)
	}
	return ids, nil
}

// ToModel returns the persisted form. Folders always carry a children list,
// leaves never do.
func (t *Tree) ToModel() []models.FavoriteTreeNode {
	return t.dump(t.roots)
}

func (t *Tree) dump(ids []string) []models.FavoriteTreeNode {
	out := make([]models.FavoriteTreeNode, 0, len(ids))
	for _, id := range ids {
		n := t.nodes[id]
		m := models.FavoriteTreeNode{NodeID: n.id, Label: n.label, IsLeaf: n.leaf}
		if !n.leaf {
			children := t.dump(n.children)
			m.Children = &children
		}
		out = append(out, m)
	}
	return out
}

// AddFolder creates a folder under parent ("" for the top level).
func (t *Tree) AddFolder(parent, label string) (string, error) {
	return t.add(parent, label, false)
}

// AddGame creates a leaf referencing the game named label.
func (t *Tree) AddGame(parent, label string) (string, error) {
	return t.add(parent, label, true)
}

func (t *Tree) add(parent, label string, leaf bool) (string, error) {
	if parent != "" {
		p, ok := t.nodes[parent]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownNode, parent)
		}
		if p.leaf {
			return "", fmt.Errorf("favorites node %s is a game, not a folder", parent)
		}
	}

	n := &node{id: t.newID(), label: label, leaf: leaf, parent: parent}
	t.nodes[n.id] = n
	if parent == "" {
		t.roots = append(t.roots, n.id)
	} else {
		t.nodes[parent].children = append(t.nodes[parent].children, n.id)
	}
	return n.id, nil
}

// Rename changes a node's label.
func (t *Tree) Rename(id, label string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.label = label
	return nil
}

// Remove deletes a node and its whole subtree.
func (t *Tree) Remove(id string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}

	if n.parent == "" {
		t.roots = without(t.roots, id)
	} else {
		p := t.nodes[n.parent]
		p.children = without(p.children, id)
	}
	t.drop(id)
	return nil
}

func (t *Tree) drop(id string) {
	for _, c := range t.nodes[id].children {
		t.drop(c)
	}
	delete(t.nodes, id)
}

// RemoveGame deletes every leaf that references game and returns how many
// were removed.
func (t *Tree) RemoveGame(game string) int {
	var ids []string
	for id, n := range t.nodes {
		if n.leaf && n.label == game {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		_ = t.Remove(id)
	}
	return len(ids)
}

// RenameGame relabels every leaf that references old.
func (t *Tree) RenameGame(old, renamed string) {
	for _, n := range t.nodes {
		if n.leaf && n.label == old {
			n.label = renamed
		}
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
