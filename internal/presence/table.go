package presence

import (
	"sort"
	"sync"
)

// Table is the set of live brokers, indexed by a stable ID.
//
// Scheduled timer and response callbacks carry a BrokerID instead of a
// *Broker and resolve it here when they fire. A broker that has been
// destroyed is no longer in the table, so late callbacks find nothing and
// return without touching it.
//
// Thread Safety: All methods are safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	next    BrokerID
	brokers map[BrokerID]*Broker
}

// NewTable creates an empty broker table.
func NewTable() *Table {
	return &Table{brokers: make(map[BrokerID]*Broker)}
}

// Lookup returns the live broker with the given ID.
func (t *Table) Lookup(id BrokerID) (*Broker, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.brokers[id]
	return b, ok
}

// Get is Lookup with an error return, for callers at the package edge.
func (t *Table) Get(id BrokerID) (*Broker, error) {
	b, ok := t.Lookup(id)
	if !ok {
		return nil, ErrBrokerNotFound
	}
	return b, nil
}

// Len returns the number of live brokers.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.brokers)
}

// List returns all live brokers ordered by ID.
func (t *Table) List() []*Broker {
	t.mu.RLock()
	out := make([]*Broker, 0, len(t.brokers))
	for _, b := range t.brokers {
		out = append(out, b)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// insert assigns the next ID to b and stores it. IDs start at 1.
func (t *Table) insert(b *Broker) BrokerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	b.id = t.next
	t.brokers[b.id] = b
	return b.id
}

// remove deletes the slot for id. Removing a missing ID is a no-op.
func (t *Table) remove(id BrokerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.brokers, id)
}
