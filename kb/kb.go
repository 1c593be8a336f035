package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/bandwidth-intent-controller/model"
)

// ErrHostNotFound is returned when a host id is not known.
var ErrHostNotFound = errors.New("host not found")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventHostAdded EventType = iota
	EventHostMoved
	EventHostRemoved
)

func (t EventType) String() string {
	switch t {
	case EventHostAdded:
		return "added"
	case EventHostMoved:
		return "moved"
	case EventHostRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Host model.Host
}

// KnowledgeBase is an in-memory, thread-safe store of the end hosts reported
// by the topology source.
type KnowledgeBase struct {
	mu sync.RWMutex

	hosts map[string]model.Host

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		hosts: make(map[string]model.Host),
	}
}

// Subscribe registers fn to be called after every host change. Callbacks
// run on the mutating goroutine, outside the KB lock.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
}

// Upsert stores h, replacing any host with the same id.
func (kb *KnowledgeBase) Upsert(h model.Host) error {
	if h.ID == "" {
		return fmt.Errorf("host has empty id")
	}

	kb.mu.Lock()
	prev, existed := kb.hosts[h.ID]
	kb.hosts[h.ID] = h
	subs := kb.subs
	kb.mu.Unlock()

	switch {
	case !existed:
		notify(subs, Event{Type: EventHostAdded, Host: h})
	case prev.Location != h.Location || prev.MAC != h.MAC:
		notify(subs, Event{Type: EventHostMoved, Host: h})
	}
	return nil
}

// Remove deletes the host with the given id.
func (kb *KnowledgeBase) Remove(id string) error {
	kb.mu.Lock()
	h, ok := kb.hosts[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrHostNotFound, id)
	}
	delete(kb.hosts, id)
	subs := kb.subs
	kb.mu.Unlock()

	notify(subs, Event{Type: EventHostRemoved, Host: h})
	return nil
}

// Get returns the host with the given id.
func (kb *KnowledgeBase) Get(id string) (model.Host, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	h, ok := kb.hosts[id]
	if !ok {
		return model.Host{}, fmt.Errorf("%w: %s", ErrHostNotFound, id)
	}
	return h, nil
}

// List returns a snapshot of all hosts ordered by id.
func (kb *KnowledgeBase) List() []model.Host {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Host, 0, len(kb.hosts))
	for _, h := range kb.hosts {
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of known hosts.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.hosts)
}

// Resolve turns a host token (full id or host number) into the endpoint the
// host attaches through.
func (kb *KnowledgeBase) Resolve(token string) (model.Endpoint, error) {
	id, err := model.NormalizeHostID(token)
	if err != nil {
		return model.Endpoint{}, err
	}
	h, err := kb.Get(id)
	if err != nil {
		return model.Endpoint{}, err
	}
	return h.Endpoint(), nil
}

// Sync replaces the host set with hosts and returns the ids that were added
// and removed, each sorted.
func (kb *KnowledgeBase) Sync(hosts []model.Host) (added, removed []string) {
	live := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		if h.ID == "" {
			continue
		}
		live[h.ID] = struct{}{}
		_, err := kb.Get(h.ID)
		if errors.Is(err, ErrHostNotFound) {
			added = append(added, h.ID)
		}
		_ = kb.Upsert(h)
	}

	for _, h := range kb.List() {
		if _, ok := live[h.ID]; ok {
			continue
		}
		if err := kb.Remove(h.ID); err == nil {
			removed = append(removed, h.ID)
		}
	}
	sort.Strings(added)
	return added, removed
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
