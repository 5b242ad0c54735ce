package signaling

import "sort"

// Directory maps room identifiers to their members. A room is present only
// while it has at least one member.
type Directory struct {
	rooms map[string]*room
	seq   uint64
}

type room struct {
	// members maps connection id to its join sequence number.
	members map[string]uint64
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]*room)}
}

// Add puts connID in roomID, creating the room on first use. It reports
// whether the room was created by this call.
func (d *Directory) Add(roomID, connID string) bool {
	r, ok := d.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]uint64)}
		d.rooms[roomID] = r
	}
	if _, member := r.members[connID]; !member {
		d.seq++
		r.members[connID] = d.seq
	}
	return !ok
}

// Remove takes connID out of roomID and deletes the room once it is empty.
// It returns the number of members left and whether connID was a member.
func (d *Directory) Remove(roomID, connID string) (int, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return 0, false
	}
	if _, member := r.members[connID]; !member {
		return len(r.members), false
	}

	delete(r.members, connID)
	if len(r.members) == 0 {
		delete(d.rooms, roomID)
	}
	return len(r.members), true
}

// Members lists the connection ids in roomID in join order.
func (d *Directory) Members(roomID string) []string {
	r, ok := d.rooms[roomID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.members[ids[i]] < r.members[ids[j]]
	})
	return ids
}

// Has reports whether roomID currently has members.
func (d *Directory) Has(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// Count returns the number of members in roomID, zero if it does not exist.
func (d *Directory) Count(roomID string) int {
	if r, ok := d.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// Len returns the number of non-empty rooms.
func (d *Directory) Len() int {
	return len(d.rooms)
}
