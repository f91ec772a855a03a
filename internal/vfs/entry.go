package vfs

import (
	"sync"
	"sync/atomic"

	"github.com/elixir-europe/human-data-local-ega-fuse/internal/archive"
)

// Entry is the payload of a Node: either *Directory or *File.
type Entry interface {
	entry()
}

// Directory holds child handles in insertion order.
type Directory struct {
	mu       sync.RWMutex
	children []Handle
	removed  bool
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{}
}

func (*Directory) entry() {}

// Len is the current number of children.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// File is a leaf backed by one archive.
type File struct {
	Desc archive.Descriptor

	physSize atomic.Int64
}

// NewFile returns a file whose physical size is not yet known.
func NewFile(desc archive.Descriptor) *File {
	f := &File{Desc: desc}
	f.physSize.Store(-1)
	return f
}

func (*File) entry() {}

// PhysicalSize returns the cached size of the backing object.
func (f *File) PhysicalSize() (int64, bool) {
	n := f.physSize.Load()
	return n, n >= 0
}

// SetPhysicalSize caches the size of the backing object.
func (f *File) SetPhysicalSize(n int64) {
	f.physSize.Store(n)
}

// Node is one entry in the tree. The parent is a handle, not a pointer, so
// detached subtrees can be dropped from the arena independently.
type Node struct {
	handle Handle
	name   atomic.Pointer[string]
	parent atomic.Uint64
	entry  Entry
}

func newNode(h Handle, name string, parent Handle, e Entry) *Node {
	n := &Node{handle: h, entry: e}
	n.name.Store(&name)
	n.parent.Store(uint64(parent))
	return n
}

func (n *Node) Handle() Handle { return n.handle }

func (n *Node) Name() string { return *n.name.Load() }

func (n *Node) Parent() Handle { return Handle(n.parent.Load()) }

func (n *Node) Entry() Entry { return n.entry }

// Dir returns the node's directory payload, if it is one.
func (n *Node) Dir() (*Directory, bool) {
	d, ok := n.entry.(*Directory)
	return d, ok
}

// File returns the node's file payload, if it is one.
func (n *Node) File() (*File, bool) {
	f, ok := n.entry.(*File)
	return f, ok
}

func (n *Node) setName(name string) { n.name.Store(&name) }
