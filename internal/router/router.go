// Package router turns the configured actions into HTTP routes. Each request
// builds a fresh action bean and runs it through its interceptor stack and
// result.
package router

import (
	"net/http"
	"sync/atomic"
)

// Router serves the current routing table. Swap replaces the table
// atomically; requests already running finish on the table they started
// with.
type Router struct {
	table atomic.Pointer[Table]
}

// New creates a router serving t. t may be nil until the first Swap.
func New(t *Table) *Router {
	r := &Router{}
	if t != nil {
		r.table.Store(t)
	}
	return r
}

// Swap installs a new routing table.
func (r *Router) Swap(t *Table) {
	r.table.Store(t)
}

// Table returns the routing table currently served.
func (r *Router) Table() *Table {
	return r.table.Load()
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	t := r.table.Load()
	if t == nil {
		http.Error(w, "no actions configured", http.StatusServiceUnavailable)
		return
	}
	t.ServeHTTP(w, req)
}
