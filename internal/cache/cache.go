// Package cache keeps the results of previous queries in a prefix tree so
// that a narrowed query can start from the results of the query it extends.
//
// Nodes live in an arena keyed by NodeID; parent and child links are ids.
// A node's query always extends its parent's query and shares its
// parameters, and a parent link is only ever set at creation time to an
// existing node, so the structure is a forest by construction.
//
// A Cache is not safe for concurrent use; the owner serializes access.
package cache

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dl/incsearch/internal/matcher"
)

// DefaultMaxNodes is the node cap used when Options.MaxNodes is zero.
const DefaultMaxNodes = 20

// NodeID identifies a node. The zero value means "no node".
type NodeID uint64

// Node holds one query's results and bookkeeping.
type Node struct {
	ID        NodeID
	Query     string
	Params    matcher.Params
	Parent    NodeID
	Children  map[string]NodeID
	Complete  bool
	Results   map[string]matcher.Result // files with at least one match
	Excluded  map[string]struct{}       // files known not to match
	Processed map[string]struct{}

	lastUsed uint64
}

func newNode(id NodeID, q matcher.Query) *Node {
	return &Node{
		ID:        id,
		Query:     q.Pattern,
		Params:    q.Params,
		Children:  make(map[string]NodeID),
		Results:   make(map[string]matcher.Result),
		Excluded:  make(map[string]struct{}),
		Processed: make(map[string]struct{}),
	}
}

// covers reports whether n's results can seed or answer q.
func (n *Node) covers(q matcher.Query) bool {
	return strings.HasPrefix(q.Pattern, n.Query) && n.Params.Compatible(q.Params)
}

// Options configures a Cache.
type Options struct {
	MaxNodes int
	Logger   *log.Logger
}

// Cache is a forest of query nodes with one current node.
type Cache struct {
	nodes    map[NodeID]*Node
	roots    []NodeID
	current  NodeID
	nextID   NodeID
	clock    uint64
	maxNodes int
	logger   *log.Logger
}

// New creates an empty Cache.
func New(opts Options) *Cache {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Cache{
		nodes:    make(map[NodeID]*Node),
		maxNodes: opts.MaxNodes,
		logger:   opts.Logger,
	}
}

// Len returns the number of live nodes.
func (c *Cache) Len() int {
	return len(c.nodes)
}

// Node returns the node with the given id, or nil.
func (c *Cache) Node(id NodeID) *Node {
	return c.nodes[id]
}

// Roots returns the ids of the tree roots in creation order.
func (c *Cache) Roots() []NodeID {
	return append([]NodeID(nil), c.roots...)
}

// Current returns the current node, or nil.
func (c *Cache) Current() *Node {
	return c.nodes[c.current]
}

// FindSuitable returns the node with the longest query that is a prefix
// of q and whose parameters are compatible, or nil. The current node and
// its subtree are tried first; otherwise the whole forest is searched
// breadth-first and ties go to the node discovered first.
func (c *Cache) FindSuitable(q matcher.Query) *Node {
	if !q.Cacheable() {
		return nil
	}

	if cur := c.Current(); cur != nil && cur.covers(q) {
		return c.descend(cur, q)
	}

	var best *Node
	queue := append([]NodeID(nil), c.roots...)
	for len(queue) > 0 {
		n := c.nodes[queue[0]]
		queue = queue[1:]
		if !n.covers(q) {
			continue // no descendant of n can cover q either
		}
		if best == nil || len(n.Query) > len(best.Query) {
			best = n
		}
		queue = append(queue, sortedChildren(n)...)
	}
	return best
}

// descend follows children that still cover q, longest first.
func (c *Cache) descend(n *Node, q matcher.Query) *Node {
	for {
		var next *Node
		for _, id := range sortedChildren(n) {
			child := c.nodes[id]
			if child.covers(q) && (next == nil || len(child.Query) > len(next.Query)) {
				next = child
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
}

// Create returns the node for q and makes it current. An existing node
// with exactly q is reused. Otherwise a new node is attached under the
// best suitable parent (or as a new root) and, if that parent is
// complete, seeded from the parent's results without reading any file.
func (c *Cache) Create(q matcher.Query) *Node {
	if !q.Cacheable() {
		panic(fmt.Sprintf("cache: mode %s is not cacheable", q.Mode))
	}

	parent := c.FindSuitable(q)
	if parent != nil && parent.Query == q.Pattern {
		c.touch(parent)
		c.current = parent.ID
		return parent
	}

	c.nextID++
	n := newNode(c.nextID, q)
	c.nodes[n.ID] = n
	if parent != nil {
		n.Parent = parent.ID
		parent.Children[n.Query] = n.ID
		if parent.Complete {
			seeded := c.seed(n, parent)
			c.logger.Debug("cache node seeded", "query", n.Query, "parent", parent.Query, "kept", len(n.Results), "files", seeded)
		}
	} else {
		c.roots = append(c.roots, n.ID)
	}

	c.touch(n)
	c.current = n.ID
	c.prune()
	return n
}

// AddResult records the outcome of scanning one file under the current node.
// A failed file is left unrecorded so that the next run scans it again.
func (c *Cache) AddResult(r matcher.Result) {
	cur := c.Current()
	if cur == nil {
		panic("cache: AddResult without a current node")
	}

	if r.Err != nil {
		delete(cur.Processed, r.File)
		delete(cur.Results, r.File)
		delete(cur.Excluded, r.File)
		return
	}
	cur.Processed[r.File] = struct{}{}
	if len(r.Matches) > 0 {
		cur.Results[r.File] = r
		delete(cur.Excluded, r.File)
		return
	}
	delete(cur.Results, r.File)
	cur.Excluded[r.File] = struct{}{}
}

// ShouldProcess reports whether file still has to be scanned for the
// current node's query.
func (c *Cache) ShouldProcess(file string) bool {
	cur := c.Current()
	if cur == nil {
		return true
	}
	if _, ok := cur.Processed[file]; ok {
		return false
	}
	_, excluded := cur.Excluded[file]
	return !excluded
}

// Result returns the stored result for file under the current node.
func (c *Cache) Result(file string) (matcher.Result, bool) {
	cur := c.Current()
	if cur == nil {
		return matcher.Result{}, false
	}
	r, ok := cur.Results[file]
	return r, ok
}

// MarkCurrentComplete records that the current node saw every file of its scope.
func (c *Cache) MarkCurrentComplete() {
	if cur := c.Current(); cur != nil {
		cur.Complete = true
	}
}

// Clear drops every node.
func (c *Cache) Clear() {
	c.nodes = make(map[NodeID]*Node)
	c.roots = nil
	c.current = 0
}

// ClearFile forgets everything known about file in every node, so that
// the next run scans it again.
func (c *Cache) ClearFile(file string) {
	for _, n := range c.nodes {
		delete(n.Results, file)
		delete(n.Excluded, file)
		delete(n.Processed, file)
	}
}

// prune detaches least recently used leaves until the node count is
// within the cap. When only the current node is a leaf (a single long
// chain), the oldest root is dropped and its children become roots. The
// current node is never evicted.
func (c *Cache) prune() {
	for len(c.nodes) > c.maxNodes {
		var victim *Node
		for _, n := range c.nodes {
			if len(n.Children) > 0 || n.ID == c.current {
				continue
			}
			if victim == nil || n.lastUsed < victim.lastUsed {
				victim = n
			}
		}
		if victim == nil {
			victim = c.oldestRoot()
		}
		if victim == nil {
			return
		}
		c.detach(victim)
		c.logger.Debug("cache node evicted", "query", victim.Query, "nodes", len(c.nodes))
	}
}

func (c *Cache) oldestRoot() *Node {
	var victim *Node
	for _, id := range c.roots {
		n := c.nodes[id]
		if n.ID == c.current {
			continue
		}
		if victim == nil || n.lastUsed < victim.lastUsed {
			victim = n
		}
	}
	return victim
}

func (c *Cache) detach(n *Node) {
	if n.Parent != 0 {
		if p := c.nodes[n.Parent]; p != nil {
			delete(p.Children, n.Query)
		}
	} else {
		for i, id := range c.roots {
			if id == n.ID {
				c.roots = append(c.roots[:i], c.roots[i+1:]...)
				break
			}
		}
	}
	// orphans are promoted; only roots can have children here
	for _, id := range sortedChildren(n) {
		c.nodes[id].Parent = 0
		c.roots = append(c.roots, id)
	}
	delete(c.nodes, n.ID)
}

func (c *Cache) touch(n *Node) {
	c.clock++
	n.lastUsed = c.clock
}

func sortedChildren(n *Node) []NodeID {
	ids := make([]NodeID, 0, len(n.Children))
	for _, id := range n.Children {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// validate checks the structural invariants of the forest.
func (c *Cache) validate() error {
	reachable := make(map[NodeID]bool)
	var walk func(id NodeID, parent *Node, depth int) error
	walk = func(id NodeID, parent *Node, depth int) error {
		n := c.nodes[id]
		if n == nil {
			return fmt.Errorf("dangling node id %d", id)
		}
		if reachable[id] || depth > len(c.nodes) {
			return fmt.Errorf("node %d reached twice", id)
		}
		reachable[id] = true
		if parent != nil {
			if n.Parent != parent.ID {
				return fmt.Errorf("node %d parent %d, linked from %d", id, n.Parent, parent.ID)
			}
			if !strings.HasPrefix(n.Query, parent.Query) || n.Query == parent.Query {
				return fmt.Errorf("node %q does not extend parent %q", n.Query, parent.Query)
			}
		} else if n.Parent != 0 {
			return fmt.Errorf("root %d has parent %d", id, n.Parent)
		}
		for _, child := range sortedChildren(n) {
			if err := walk(child, n, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range c.roots {
		if err := walk(id, nil, 0); err != nil {
			return err
		}
	}
	if len(reachable) != len(c.nodes) {
		return fmt.Errorf("%d nodes unreachable", len(c.nodes)-len(reachable))
	}
	if c.current != 0 && c.nodes[c.current] == nil {
		return fmt.Errorf("current node %d evicted", c.current)
	}
	return nil
}
