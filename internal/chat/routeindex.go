package chat

// Route records who exchanged a private message. Bodies are never kept.
type Route struct {
	MessageID   MessageID
	SenderID    string
	RecipientID string
}

// RouteIndex remembers the most recent private routes so deletions can be
// authorized and delivered to both parties. Oldest entries fall off first.
// Not safe for concurrent use.
type RouteIndex struct {
	capacity int
	routes   map[MessageID]Route
	order    []MessageID // insertion order; may hold ids already removed
}

// NewRouteIndex creates an index holding at most capacity routes.
func NewRouteIndex(capacity int) *RouteIndex {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RouteIndex{
		capacity: capacity,
		routes:   make(map[MessageID]Route, capacity),
	}
}

// Add stores r, evicting the oldest routes when over capacity.
func (ri *RouteIndex) Add(r Route) {
	ri.routes[r.MessageID] = r
	ri.order = append(ri.order, r.MessageID)
	for len(ri.routes) > ri.capacity {
		oldest := ri.order[0]
		ri.order = ri.order[1:]
		delete(ri.routes, oldest)
	}
	if len(ri.order) > 2*ri.capacity {
		ri.compact()
	}
}

// Get returns the route for id.
func (ri *RouteIndex) Get(id MessageID) (Route, bool) {
	r, ok := ri.routes[id]
	return r, ok
}

// Remove forgets id.
func (ri *RouteIndex) Remove(id MessageID) (Route, bool) {
	r, ok := ri.routes[id]
	if ok {
		delete(ri.routes, id)
	}
	return r, ok
}

// Len returns the number of remembered routes.
func (ri *RouteIndex) Len() int { return len(ri.routes) }

// Reset forgets everything.
func (ri *RouteIndex) Reset() {
	clear(ri.routes)
	ri.order = nil
}

// compact drops order entries whose route was already removed.
func (ri *RouteIndex) compact() {
	kept := make([]MessageID, 0, len(ri.routes))
	for _, id := range ri.order {
		if _, ok := ri.routes[id]; ok {
			kept = append(kept, id)
		}
	}
	ri.order = kept
}
