package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

// ErrLocationNotFound is returned for unknown location ids
var ErrLocationNotFound = errors.New("location not found")

// ErrLocationExists is returned when registering a target twice
var ErrLocationExists = errors.New("location already exists")

// Location is a registered source of entity definitions
type Location struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// Store persists entities together with the source that emitted them
type Store interface {
	Upsert(ctx context.Context, e *Entity, source string) error
	Get(ctx context.Context, ref EntityRef) (*Entity, error)
	GetByUID(ctx context.Context, uid string) (*Entity, error)
	List(ctx context.Context) ([]*Entity, error)
	DeleteByUID(ctx context.Context, uid string) error
	RefsBySource(ctx context.Context, source string) ([]EntityRef, error)

	AddLocation(ctx context.Context, loc Location) error
	Locations(ctx context.Context) ([]Location, error)
	DeleteLocation(ctx context.Context, id string) error
}

type memoryRecord struct {
	body   []byte
	uid    string
	source string
}

// MemoryStore keeps the catalog in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]*memoryRecord
	uids      map[string]string
	locations map[string]Location
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:  make(map[string]*memoryRecord),
		uids:      make(map[string]string),
		locations: make(map[string]Location),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, e *Entity, source string) error {
	body, err := sonic.Marshal(e)
	if err != nil {
		return err
	}
	key := e.Ref().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entities[key]; ok && prev.uid != e.Metadata.UID {
		delete(s.uids, prev.uid)
	}
	s.entities[key] = &memoryRecord{body: body, uid: e.Metadata.UID, source: source}
	s.uids[e.Metadata.UID] = key
	return nil
}

func (s *MemoryStore) Get(_ context.Context, ref EntityRef) (*Entity, error) {
	s.mu.RLock()
	rec, ok := s.entities[ref.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeEntity(rec.body)
}

func (s *MemoryStore) GetByUID(ctx context.Context, uid string) (*Entity, error) {
	s.mu.RLock()
	key, ok := s.uids[uid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	ref, err := ParseEntityRef(key, "", "")
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ref)
}

func (s *MemoryStore) List(_ context.Context) ([]*Entity, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	bodies := make([][]byte, len(keys))
	for i, k := range keys {
		bodies[i] = s.entities[k].body
	}
	s.mu.RUnlock()

	out := make([]*Entity, 0, len(bodies))
	for _, body := range bodies {
		e, err := decodeEntity(body)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) DeleteByUID(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.uids[uid]
	if !ok {
		return ErrNotFound
	}
	delete(s.uids, uid)
	delete(s.entities, key)
	return nil
}

func (s *MemoryStore) RefsBySource(_ context.Context, source string) ([]EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EntityRef
	for key, rec := range s.entities {
		if rec.source != source {
			continue
		}
		ref, err := ParseEntityRef(key, "", "")
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *MemoryStore) AddLocation(_ context.Context, loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.locations {
		if existing.Type == loc.Type && existing.Target == loc.Target {
			return ErrLocationExists
		}
	}
	s.locations[loc.ID] = loc
	return nil
}

func (s *MemoryStore) Locations(_ context.Context) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

func (s *MemoryStore) DeleteLocation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[id]; !ok {
		return ErrLocationNotFound
	}
	delete(s.locations, id)
	return nil
}

func decodeEntity(body []byte) (*Entity, error) {
	var e Entity
	if err := sonic.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
