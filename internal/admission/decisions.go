package admission

import "sync"

// decisionCapacity bounds the prior-decision lookup cache so a long-running
// gateway cannot grow this map unboundedly.
const decisionCapacity = 10000

// decisionRecord is one stored reply to POST /api/v1/routes/decide, looked
// up later by GET /api/v1/routes/decide/{message_id}.
type decisionRecord struct {
	status int
	body   []byte
}

// DecisionStore is a bounded, FIFO-evicting cache of recent routing
// decisions keyed by the Router reply's message_id (or the request id when
// the reply has none), backing
// GET /api/v1/routes/decide/{message_id} (spec.md §4.1 route table).
type DecisionStore struct {
	mu      sync.Mutex
	order   []string
	entries map[string]decisionRecord
}

// NewDecisionStore builds an empty DecisionStore.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{entries: make(map[string]decisionRecord)}
}

// Put records status/body under id, evicting the oldest entry if the store
// is at capacity.
func (d *DecisionStore) Put(id string, status int, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[id]; !exists {
		if len(d.order) >= decisionCapacity {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.entries, oldest)
		}
		d.order = append(d.order, id)
	}
	d.entries[id] = decisionRecord{status: status, body: append([]byte(nil), body...)}
}

// Get retrieves the stored decision for id.
func (d *DecisionStore) Get(id string) (int, []byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.entries[id]
	if !ok {
		return 0, nil, false
	}
	return rec.status, rec.body, true
}
