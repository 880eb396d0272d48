package papersources

import (
	"context"
	"sort"
	"sync"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/governor"
)

// ProviderStatus reports the admission state of one provider.
type ProviderStatus struct {
	Name          string
	Authenticated bool
	Snapshot      governor.Snapshot
	// Error is set when the governor state could not be read.
	Error error
}

// Registry tracks the provider clients of a process for status reporting.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds a client, replacing any client with the same name.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get returns the named client, or nil.
func (r *Registry) Get(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reads every provider's governor state concurrently. The result is
// sorted by name.
func (r *Registry) Status(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	if len(clients) == 0 {
		return nil
	}

	resultChan := make(chan ProviderStatus, len(clients))
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			snap, err := c.governor.State(ctx)
			resultChan <- ProviderStatus{
				Name:          c.Name(),
				Authenticated: c.Authenticated(),
				Snapshot:      snap,
				Error:         err,
			}
		}(c)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	statuses := make([]ProviderStatus, 0, len(clients))
	for s := range resultChan {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
