// Package vfs holds the in-memory directory tree served by the mount.
//
// Nodes live in an arena keyed by Handle. Each directory guards its child
// list with its own lock; moves and removals additionally serialize on a
// tree-wide structure lock and take directory locks in ascending handle
// order.
package vfs

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

// Handle identifies a node for the lifetime of the tree.
type Handle uint64

// RootHandle is the permanent root directory.
const RootHandle Handle = 1

var (
	ErrNotFound     = errors.New("vfs: no such entry")
	ErrNotDirectory = errors.New("vfs: not a directory")
	ErrIsDirectory  = errors.New("vfs: is a directory")
	ErrExists       = errors.New("vfs: entry exists")
	ErrNotEmpty     = errors.New("vfs: directory not empty")
	ErrBusy         = errors.New("vfs: root cannot be moved or removed")
	ErrInvalid      = errors.New("vfs: invalid move")
)

// Tree is a concurrent arena of nodes rooted at RootHandle.
type Tree struct {
	mu    sync.RWMutex // guards nodes and next
	nodes map[Handle]*Node
	next  Handle

	structMu sync.Mutex // serializes Rename and RemoveChild
}

// New returns a tree holding only the root directory.
func New() *Tree {
	t := &Tree{
		nodes: make(map[Handle]*Node),
		next:  RootHandle + 1,
	}
	t.nodes[RootHandle] = newNode(RootHandle, "", RootHandle, NewDirectory())
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	n, _ := t.Node(RootHandle)
	return n
}

// Node looks up a live node by handle.
func (t *Tree) Node(h Handle) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[h]
	return n, ok
}

// Count is the number of live nodes, root included.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Resolve walks p from the root one segment at a time. Empty segments are
// skipped, so "" and "/" resolve to the root.
func (t *Tree) Resolve(p string) (*Node, bool) {
	cur := t.Root()
	for _, seg := range SplitPath(p) {
		dir, ok := cur.Dir()
		if !ok {
			return nil, false
		}
		child, ok := t.lookupChild(dir, seg)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func (t *Tree) lookupChild(dir *Directory, name string) (*Node, bool) {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	n, _ := t.findLocked(dir, name)
	return n, n != nil
}

// findLocked scans dir's children for name. dir.mu must be held.
func (t *Tree) findLocked(dir *Directory, name string) (*Node, int) {
	for i, h := range dir.children {
		n, ok := t.Node(h)
		if ok && n.Name() == name {
			return n, i
		}
	}
	return nil, -1
}

// AddChild creates a node named name under the directory dirHandle.
func (t *Tree) AddChild(dirHandle Handle, name string, e Entry) (Handle, error) {
	if name == "" || strings.Contains(name, "/") {
		return 0, ErrInvalid
	}
	parent, ok := t.Node(dirHandle)
	if !ok {
		return 0, ErrNotFound
	}
	dir, ok := parent.Dir()
	if !ok {
		return 0, ErrNotDirectory
	}

	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.removed {
		return 0, ErrNotFound
	}
	if n, _ := t.findLocked(dir, name); n != nil {
		return 0, ErrExists
	}

	t.mu.Lock()
	h := t.next
	t.next++
	t.nodes[h] = newNode(h, name, dirHandle, e)
	t.mu.Unlock()

	dir.children = append(dir.children, h)
	return h, nil
}

// Children returns a snapshot of the directory's children in order.
func (t *Tree) Children(dirHandle Handle) ([]*Node, error) {
	n, ok := t.Node(dirHandle)
	if !ok {
		return nil, ErrNotFound
	}
	dir, ok := n.Dir()
	if !ok {
		return nil, ErrNotDirectory
	}

	dir.mu.RLock()
	handles := slices.Clone(dir.children)
	dir.mu.RUnlock()

	out := make([]*Node, 0, len(handles))
	for _, h := range handles {
		if c, ok := t.Node(h); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// RemoveChild detaches h from its parent and drops it, and everything below
// it, from the arena. Non-empty directories are removed whole.
func (t *Tree) RemoveChild(h Handle) error {
	if h == RootHandle {
		return ErrBusy
	}
	t.structMu.Lock()
	defer t.structMu.Unlock()

	n, ok := t.Node(h)
	if !ok {
		return ErrNotFound
	}
	parent, ok := t.Node(n.Parent())
	if !ok {
		return ErrNotFound
	}
	dir, _ := parent.Dir()

	dir.mu.Lock()
	i := slices.Index(dir.children, h)
	if i >= 0 {
		dir.children = slices.Delete(dir.children, i, i+1)
	}
	dir.mu.Unlock()
	if i < 0 {
		return ErrNotFound
	}

	t.purge(n)
	return nil
}

// purge drops a detached subtree from the arena. Directories are marked
// removed so concurrent AddChild calls cannot attach to them.
func (t *Tree) purge(n *Node) {
	stack := []*Node{n}
	var drop []Handle
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		drop = append(drop, cur.handle)

		dir, ok := cur.Dir()
		if !ok {
			continue
		}
		dir.mu.Lock()
		dir.removed = true
		handles := dir.children
		dir.children = nil
		dir.mu.Unlock()
		for _, h := range handles {
			if c, ok := t.Node(h); ok {
				stack = append(stack, c)
			}
		}
	}

	t.mu.Lock()
	for _, h := range drop {
		delete(t.nodes, h)
	}
	t.mu.Unlock()
}

// Rename moves src under dstDir with the new name. An existing entry of the
// same name is replaced when the kinds agree; a non-empty directory is never
// replaced.
func (t *Tree) Rename(src, dstDir Handle, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return ErrInvalid
	}
	if src == RootHandle {
		return ErrBusy
	}
	t.structMu.Lock()
	defer t.structMu.Unlock()

	node, ok := t.Node(src)
	if !ok {
		return ErrNotFound
	}
	dstNode, ok := t.Node(dstDir)
	if !ok {
		return ErrNotFound
	}
	dst, ok := dstNode.Dir()
	if !ok {
		return ErrNotDirectory
	}
	srcParentNode, ok := t.Node(node.Parent())
	if !ok {
		return ErrNotFound
	}
	srcDir, _ := srcParentNode.Dir()

	_, srcIsDir := node.Dir()
	if srcIsDir && t.isAncestor(src, dstDir) {
		return ErrInvalid
	}

	unlock := lockPair(srcParentNode.handle, srcDir, dstDir, dst)
	replaced, err := t.moveLocked(node, srcDir, dst, dstDir, name)
	unlock()
	if err != nil {
		return err
	}
	if replaced != nil {
		t.purge(replaced)
	}
	return nil
}

func (t *Tree) moveLocked(node *Node, srcDir, dst *Directory, dstDir Handle, name string) (*Node, error) {
	if dst.removed {
		return nil, ErrNotFound
	}
	i := slices.Index(srcDir.children, node.handle)
	if i < 0 {
		return nil, ErrNotFound
	}

	existing, j := t.findLocked(dst, name)
	if existing == node {
		return nil, nil
	}
	if existing != nil {
		_, srcIsDir := node.Dir()
		exDir, exIsDir := existing.Dir()
		switch {
		case exIsDir && !srcIsDir:
			return nil, ErrIsDirectory
		case !exIsDir && srcIsDir:
			return nil, ErrNotDirectory
		case existing.handle == node.Parent():
			// srcDir itself, already locked and holding node
			return nil, ErrNotEmpty
		case exIsDir && exDir.Len() > 0:
			return nil, ErrNotEmpty
		}
	}

	srcDir.children = slices.Delete(srcDir.children, i, i+1)
	if existing != nil {
		// Re-find: the deletion above shifts indices when src and dst coincide.
		j = slices.Index(dst.children, existing.handle)
		dst.children = slices.Delete(dst.children, j, j+1)
	}
	node.setName(name)
	node.parent.Store(uint64(dstDir))
	dst.children = append(dst.children, node.handle)
	return existing, nil
}

// isAncestor reports whether a is h or one of h's ancestors.
func (t *Tree) isAncestor(a, h Handle) bool {
	for {
		if h == a {
			return true
		}
		if h == RootHandle {
			return false
		}
		n, ok := t.Node(h)
		if !ok {
			return false
		}
		h = n.Parent()
	}
}

// lockPair locks two directories in ascending handle order.
func lockPair(ha Handle, a *Directory, hb Handle, b *Directory) (unlock func()) {
	if ha == hb {
		a.mu.Lock()
		return a.mu.Unlock
	}
	if ha > hb {
		ha, hb = hb, ha
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}

// Path rebuilds the absolute path of h from parent links.
func (t *Tree) Path(h Handle) (string, bool) {
	var segs []string
	for h != RootHandle {
		n, ok := t.Node(h)
		if !ok {
			return "", false
		}
		segs = append(segs, n.Name())
		h = n.Parent()
	}
	slices.Reverse(segs)
	return "/" + strings.Join(segs, "/"), true
}
