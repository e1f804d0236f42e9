package core

// Registry maps user ids to their live connections. A connection belongs to
// at most one user, and a user is present only while it has connections.
// Registry is not safe for concurrent use; the Hub owns it.
type Registry struct {
	byUser map[int64]map[*Conn]struct{}
	byConn map[*Conn]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[*Conn]struct{}),
		byConn: make(map[*Conn]int64),
	}
}

// Add registers c under userID, moving it out of any previous user's set.
func (r *Registry) Add(userID int64, c *Conn) {
	if prev, ok := r.byConn[c]; ok {
		if prev == userID {
			return
		}
		r.remove(prev, c)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byUser[userID] = set
	}
	set[c] = struct{}{}
	r.byConn[c] = userID
}

// Remove drops c. It reports whether c was registered.
func (r *Registry) Remove(c *Conn) bool {
	userID, ok := r.byConn[c]
	if !ok {
		return false
	}
	r.remove(userID, c)
	return true
}

func (r *Registry) remove(userID int64, c *Conn) {
	delete(r.byConn, c)
	set := r.byUser[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// Connections returns a snapshot of userID's connections.
func (r *Registry) Connections(userID int64) []*Conn {
	set := r.byUser[userID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Len returns how many connections userID has.
func (r *Registry) Len(userID int64) int { return len(r.byUser[userID]) }

// Users returns how many users have at least one connection.
func (r *Registry) Users() int { return len(r.byUser) }

// Conns returns the total number of registered connections.
func (r *Registry) Conns() int { return len(r.byConn) }
