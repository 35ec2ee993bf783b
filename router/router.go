// Package router matches published topics against subscription patterns
// using literal, single-segment (*), and terminal multi-segment (#)
// wildcards, indexed as a trie keyed by dot-separated segments.
package router

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/aquamarinepk/relaybus/buserr"
	"github.com/aquamarinepk/relaybus/validation"
)

// Subscription is an opaque handle returned by Subscribe and accepted by
// Unsubscribe.
type Subscription struct {
	id      uint64
	pattern string
}

func (s Subscription) ID() string      { return strconv.FormatUint(s.id, 10) }
func (s Subscription) Pattern() string { return s.pattern }

type entry struct {
	sub Subscription
	id  any
}

// node is one segment level of the pattern trie.
type node struct {
	children map[string]*node
	star     *node
	hash     []entry // '#' subscriptions terminating at this node
	here     []entry // literal subscriptions whose pattern ends exactly here
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Router indexes subscription patterns and matches publish topics
// against them. Safe for concurrent use.
type Router struct {
	mu      sync.RWMutex
	root    *node
	nextID  uint64
	byID    map[uint64]Subscription
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		root: newNode(),
		byID: make(map[uint64]Subscription),
	}
}

// Subscribe registers pattern and returns a handle identifying this
// registration, carrying id as the opaque payload returned by Match.
func (r *Router) Subscribe(pattern string, id any) (Subscription, error) {
	if err := validation.ValidatePattern(pattern); err != nil {
		return Subscription{}, buserr.New("router.subscribe", buserr.InvalidArgument, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := Subscription{id: r.nextID, pattern: pattern}
	e := entry{sub: sub, id: id}

	segs := validation.SplitTopic(pattern)
	cur := r.root
	for i, seg := range segs {
		last := i == len(segs)-1

		if seg == "#" {
			cur.hash = append(cur.hash, e)
			break
		}

		if seg == "*" {
			if cur.star == nil {
				cur.star = newNode()
			}
			cur = cur.star
		} else {
			child, ok := cur.children[seg]
			if !ok {
				child = newNode()
				cur.children[seg] = child
			}
			cur = child
		}

		if last {
			cur.here = append(cur.here, e)
		}
	}

	r.byID[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a previously returned Subscription. Returns a
// not_found error if the subscription is unknown.
func (r *Router) Unsubscribe(sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[sub.id]; !ok {
		return buserr.New("router.unsubscribe", buserr.NotFound, fmt.Errorf("subscription %s not found", sub.ID()))
	}
	delete(r.byID, sub.id)

	segs := validation.SplitTopic(sub.pattern)
	removeFromTrie(r.root, segs, sub.id)
	return nil
}

func removeFromTrie(n *node, segs []string, id uint64) bool {
	if n == nil {
		return false
	}

	seg := segs[0]
	last := len(segs) == 1

	if seg == "#" {
		n.hash = removeEntry(n.hash, id)
		return true
	}

	var next *node
	if seg == "*" {
		next = n.star
	} else {
		next = n.children[seg]
	}
	if next == nil {
		return false
	}

	if last {
		next.here = removeEntry(next.here, id)
		return true
	}

	removeFromTrie(next, segs[1:], id)
	return true
}

func removeEntry(entries []entry, id uint64) []entry {
	out := entries[:0]
	for _, e := range entries {
		if e.sub.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Match returns the opaque ids of every subscription whose pattern
// matches topic.
func (r *Router) Match(topic string) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	segs := validation.SplitTopic(topic)
	var out []any
	matchNode(r.root, segs, &out)
	return out
}

func matchNode(n *node, segs []string, out *[]any) {
	if n == nil {
		return
	}

	for _, e := range n.hash {
		*out = append(*out, e.id)
	}

	if len(segs) == 0 {
		for _, e := range n.here {
			*out = append(*out, e.id)
		}
		return
	}

	seg := segs[0]
	rest := segs[1:]

	if child, ok := n.children[seg]; ok {
		matchNode(child, rest, out)
	}
	if n.star != nil {
		matchNode(n.star, rest, out)
	}
}

// Count returns the number of active subscriptions.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
