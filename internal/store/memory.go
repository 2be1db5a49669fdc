package store

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is an in-process Store used by tests and as a dev fallback. It
// honors the full contract: per-document atomic partial updates and
// synchronous snapshot delivery to every subscriber.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string]*Document
	subs   map[string]map[int64]Snapshot
	nextID int64
	logger *zap.Logger
}

// NewMemory builds an empty in-memory store.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		docs:   map[string]map[string]*Document{},
		subs:   map[string]map[int64]Snapshot{},
		logger: logger,
	}
}

func (m *Memory) Get(ctx context.Context, collection, key string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *Memory) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	key := uuid.NewString()
	if err := m.Put(ctx, collection, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Put(ctx context.Context, collection, key string, data map[string]interface{}) error {
	normalized, err := normalize(data)
	if err != nil {
		return err
	}
	body, _ := normalized.(map[string]interface{})
	if body == nil {
		body = map[string]interface{}{}
	}

	m.mu.Lock()
	if m.docs[collection] == nil {
		m.docs[collection] = map[string]*Document{}
	}
	var version int64 = 1
	if existing, ok := m.docs[collection][key]; ok {
		version = existing.Version + 1
	}
	doc := &Document{
		Collection: collection,
		Key:        key,
		Data:       body,
		Version:    version,
		UpdatedAt:  time.Now().UTC(),
	}
	m.docs[collection][key] = doc
	snapshot := copyDocument(doc)
	m.mu.Unlock()

	m.deliver(snapshot)
	return nil
}

func (m *Memory) Update(ctx context.Context, collection, key string, baseVersion int64, updates ...FieldUpdate) error {
	m.mu.Lock()
	doc, ok := m.docs[collection][key]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if baseVersion != 0 && baseVersion != doc.Version {
		m.logger.Warn("concurrent write detected, applying last-writer-wins",
			zap.String("collection", collection),
			zap.String("key", key),
			zap.Int64("base_version", baseVersion),
			zap.Int64("current_version", doc.Version))
	}
	if err := ApplyUpdates(doc.Data, updates); err != nil {
		m.mu.Unlock()
		return err
	}
	doc.Version++
	doc.UpdatedAt = time.Now().UTC()
	snapshot := copyDocument(doc)
	m.mu.Unlock()

	m.deliver(snapshot)
	return nil
}

func (m *Memory) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	m.mu.RLock()
	var matched []*Document
	for _, doc := range m.docs[collection] {
		if matchesFilters(doc.Data, q.Filters) {
			matched = append(matched, copyDocument(doc))
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		sort.Slice(matched, func(i, j int) bool {
			less := compareField(matched[i].Data, matched[j].Data, q.OrderBy)
			if q.Desc {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[collection][key]; !ok {
		return ErrNotFound
	}
	delete(m.docs[collection], key)
	return nil
}

func (m *Memory) Subscribe(collection, key string, fn Snapshot) func() {
	channel := collection + "/" + key
	m.mu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = map[int64]Snapshot{}
	}
	m.nextID++
	id := m.nextID
	m.subs[channel][id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs[channel], id)
		if len(m.subs[channel]) == 0 {
			delete(m.subs, channel)
		}
		m.mu.Unlock()
	}
}

func (m *Memory) deliver(doc *Document) {
	channel := doc.Collection + "/" + doc.Key
	m.mu.RLock()
	fns := make([]Snapshot, 0, len(m.subs[channel]))
	for _, fn := range m.subs[channel] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(copyDocument(doc))
	}
}

func copyDocument(doc *Document) *Document {
	data, err := normalize(doc.Data)
	if err != nil {
		data = map[string]interface{}{}
	}
	body, _ := data.(map[string]interface{})
	return &Document{
		Collection: doc.Collection,
		Key:        doc.Key,
		Data:       body,
		Version:    doc.Version,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func matchesFilters(data map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		value, err := normalize(f.Value)
		if err != nil {
			return false
		}
		if !equalJSON(FieldAt(data, f.Field), value) {
			return false
		}
	}
	return true
}

func equalJSON(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func compareField(a, b map[string]interface{}, field string) bool {
	av := FieldAt(a, field)
	bv := FieldAt(b, field)
	if af, ok := av.(float64); ok {
		if bf, ok := bv.(float64); ok {
			return af < bf
		}
	}
	as, _ := av.(string)
	bs, _ := bv.(string)
	return as < bs
}
