package cache

import (
	"context"
	"sync/atomic"
)

// Null is the disabled backend: every lookup misses, stores are discarded.
// It still counts misses so Inspect stays meaningful with caching off.
type Null struct {
	misses atomic.Int64
}

func NewNull() *Null { return &Null{} }

func (n *Null) Lookup(context.Context, string) (string, bool) {
	n.misses.Add(1)
	return "", false
}

func (n *Null) Store(context.Context, string, string) {}
func (n *Null) Warm(map[string]string)               {}
func (n *Null) Clear()                               {}

func (n *Null) Inspect() Stats {
	return Stats{Misses: n.misses.Load()}
}
