package recorder

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Factory builds a fresh recorder for a user.
type Factory func(userID string) *Recorder

type entry struct {
	rec    *Recorder
	userID string
}

// Registry tracks live recognition flows by id. A user has at most one
// flow at a time: opening a new one cancels and replaces the old.
type Registry struct {
	mu     sync.Mutex
	byID   map[string]*entry
	byUser map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*entry),
		byUser: make(map[string]string),
	}
}

// Open registers rec under a fresh id and starts it. Any existing flow
// for the same user is cancelled first so its capture is released.
func (g *Registry) Open(ctx context.Context, rec *Recorder) (string, error) {
	userID := rec.User().ID

	g.mu.Lock()
	if oldID, ok := g.byUser[userID]; ok {
		old := g.byID[oldID].rec
		delete(g.byID, oldID)
		delete(g.byUser, userID)
		g.mu.Unlock()
		old.Cancel()
		g.mu.Lock()
	}
	id := uuid.NewString()
	g.byID[id] = &entry{rec: rec, userID: userID}
	g.byUser[userID] = id
	g.mu.Unlock()

	if err := rec.Start(ctx); err != nil {
		g.remove(id)
		return "", err
	}
	return id, nil
}

// Get returns the flow and its owning user id.
func (g *Registry) Get(id string) (*Recorder, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.byID[id]
	if !ok {
		return nil, "", false
	}
	return e.rec, e.userID, true
}

// Close cancels the flow and drops it from the registry.
func (g *Registry) Close(id string) bool {
	g.mu.Lock()
	e, ok := g.byID[id]
	if ok {
		delete(g.byID, id)
		delete(g.byUser, e.userID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	e.rec.Cancel()
	return true
}

// CloseAll tears down every live flow, for shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	entries := make([]*entry, 0, len(g.byID))
	for _, e := range g.byID {
		entries = append(entries, e)
	}
	g.byID = make(map[string]*entry)
	g.byUser = make(map[string]string)
	g.mu.Unlock()

	for _, e := range entries {
		e.rec.Cancel()
	}
}

func (g *Registry) remove(id string) {
	g.mu.Lock()
	if e, ok := g.byID[id]; ok {
		delete(g.byID, id)
		delete(g.byUser, e.userID)
	}
	g.mu.Unlock()
}
