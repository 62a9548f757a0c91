package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateMessageID = errors.New("session: message_id already pending")

// PendingRequest tracks one command awaiting its response.
type PendingRequest struct {
	MessageID uint64
	Command   string
	SentAt    time.Time
	Deadline  time.Time
}

// PendingTable stores in-flight requests by message_id.
type PendingTable struct {
	mu    sync.Mutex
	items map[uint64]PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[uint64]PendingRequest),
	}
}

func (p *PendingTable) Register(req PendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[req.MessageID]; ok {
		return ErrDuplicateMessageID
	}
	p.items[req.MessageID] = req
	return nil
}

// Resolve removes and returns the entry for id. A second Resolve for the
// same id reports false.
func (p *PendingTable) Resolve(id uint64) (PendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return req, ok
}

func (p *PendingTable) Get(id uint64) (PendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.items[id]
	return req, ok
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// CancelAll empties the table and returns what was pending, ordered by id.
func (p *PendingTable) CancelAll() []PendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingRequest, 0, len(p.items))
	for id, req := range p.items {
		out = append(out, req)
		delete(p.items, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
