package signaling

// Registry tracks every live connection by identifier. It is owned by the
// hub goroutine and does no locking of its own.
type Registry struct {
	conns map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Client)}
}

// Add records c. It reports false if the identifier is already taken.
func (r *Registry) Add(c *Client) bool {
	if _, exists := r.conns[c.ID]; exists {
		return false
	}
	r.conns[c.ID] = c
	return true
}

// Remove forgets the connection and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Get returns the live connection with id.
func (r *Registry) Get(id string) (*Client, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// Each calls fn for every live connection in no particular order.
func (r *Registry) Each(fn func(*Client)) {
	for _, c := range r.conns {
		fn(c)
	}
}
