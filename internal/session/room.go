package session

import (
	"sort"
	"sync"

	"coderoom/internal/models"
)

// Room holds the connected clients for one session. The coordinator never
// stores document content here; the document lives only in clients.
type Room struct {
	ID      string
	mu      sync.Mutex
	clients map[string]*Client
}

func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		clients: make(map[string]*Client),
	}
}

// JoinSnapshot inserts the client and returns the membership list computed
// under the same lock, so the snapshot always includes the new member and
// a concurrent join can never produce a list missing its own subject.
func (r *Room) JoinSnapshot(c *Client, resolve func(connID string) string) []models.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	return r.membersLocked(resolve)
}

func (r *Room) Members(resolve func(connID string) string) []models.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(resolve)
}

func (r *Room) membersLocked(resolve func(connID string) string) []models.ClientInfo {
	out := make([]models.ClientInfo, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, models.ClientInfo{SocketID: id, Username: resolve(id)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SocketID < out[j].SocketID })
	return out
}

func (r *Room) Get(connID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Leave removes the client and returns the remaining member count.
func (r *Room) Leave(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c.ID)
	return len(r.clients)
}

// Broadcast sends frame to every member except sender. sender may be nil to
// reach the whole room.
func (r *Room) Broadcast(sender *Client, frame models.WSFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c == sender {
			continue
		}
		c.Send(frame)
	}
}

func (r *Room) BroadcastAll(frame models.WSFrame) {
	r.Broadcast(nil, frame)
}
