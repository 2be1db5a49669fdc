package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const snapshotChannelPrefix = "doc:"

var orderFieldPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Postgres stores documents in a single JSONB table. Partial updates run
// read-modify-write inside a row lock so each Update call is atomic for its
// document. Snapshots are fanned out over Redis pub/sub so subscribers on
// every instance receive the freshest state, the writer's instance included.
type Postgres struct {
	db     *sqlx.DB
	rdb    *redis.Client
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[int64]Snapshot
	nextID int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgres wires the document table and starts the snapshot listener when
// a Redis client is provided. With rdb nil, snapshots are delivered
// synchronously in-process only.
func NewPostgres(db *sqlx.DB, rdb *redis.Client, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{
		db:     db,
		rdb:    rdb,
		logger: logger,
		subs:   map[string]map[int64]Snapshot{},
		done:   make(chan struct{}),
	}
	if rdb != nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.listen(ctx)
	} else {
		close(p.done)
	}
	return p
}

// EnsureSchema creates the documents table when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key TEXT NOT NULL,
	data JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

// Close stops the snapshot listener.
func (p *Postgres) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

type documentRow struct {
	Data      []byte    `db:"data"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p *Postgres) Get(ctx context.Context, collection, key string) (*Document, error) {
	const query = `SELECT data, version, updated_at FROM documents WHERE collection = $1 AND key = $2`
	var row documentRow
	if err := p.db.GetContext(ctx, &row, query, collection, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %s/%s: %w", collection, key, err)
	}
	return rowToDocument(collection, key, row)
}

func (p *Postgres) Create(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	key := uuid.NewString()
	if err := p.Put(ctx, collection, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (p *Postgres) Put(ctx context.Context, collection, key string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}
	const query = `
INSERT INTO documents (collection, key, data, version, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (collection, key)
DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = now()
RETURNING data, version, updated_at`
	var row documentRow
	if err := p.db.GetContext(ctx, &row, query, collection, key, raw); err != nil {
		return fmt.Errorf("put document %s/%s: %w", collection, key, err)
	}
	doc, err := rowToDocument(collection, key, row)
	if err != nil {
		return err
	}
	p.publish(ctx, doc)
	return nil
}

func (p *Postgres) Update(ctx context.Context, collection, key string, baseVersion int64, updates ...FieldUpdate) (err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s/%s: %w", collection, key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const selectQuery = `SELECT data, version, updated_at FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`
	var row documentRow
	if err = tx.GetContext(ctx, &row, selectQuery, collection, key); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("lock document %s/%s: %w", collection, key, err)
	}

	if baseVersion != 0 && baseVersion != row.Version {
		p.logger.Warn("concurrent write detected, applying last-writer-wins",
			zap.String("collection", collection),
			zap.String("key", key),
			zap.Int64("base_version", baseVersion),
			zap.Int64("current_version", row.Version))
	}

	data := map[string]interface{}{}
	if err = json.Unmarshal(row.Data, &data); err != nil {
		return fmt.Errorf("decode document %s/%s: %w", collection, key, err)
	}
	if err = ApplyUpdates(data, updates); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, key, err)
	}

	const updateQuery = `UPDATE documents SET data = $3, version = version + 1, updated_at = now() WHERE collection = $1 AND key = $2 RETURNING data, version, updated_at`
	if err = tx.GetContext(ctx, &row, updateQuery, collection, key, raw); err != nil {
		return fmt.Errorf("update document %s/%s: %w", collection, key, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s/%s: %w", collection, key, err)
	}

	doc, err := rowToDocument(collection, key, row)
	if err != nil {
		return err
	}
	p.publish(ctx, doc)
	return nil
}

func (p *Postgres) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT key, data, version, updated_at FROM documents WHERE collection = $1`)
	args := []interface{}{collection}

	for _, f := range q.Filters {
		match, err := json.Marshal(map[string]interface{}{f.Field: f.Value})
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
		}
		args = append(args, match)
		fmt.Fprintf(&query, " AND data @> $%d::jsonb", len(args))
	}

	if q.OrderBy != "" {
		if !orderFieldPattern.MatchString(q.OrderBy) {
			return nil, fmt.Errorf("invalid order field %q", q.OrderBy)
		}
		direction := "ASC"
		if q.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&query, " ORDER BY data->>'%s' %s", q.OrderBy, direction)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&query, " LIMIT $%d", len(args))
	}

	type keyedRow struct {
		Key       string    `db:"key"`
		Data      []byte    `db:"data"`
		Version   int64     `db:"version"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	var rows []keyedRow
	if err := p.db.SelectContext(ctx, &rows, query.String(), args...); err != nil {
		return nil, fmt.Errorf("find documents in %s: %w", collection, err)
	}

	docs := make([]*Document, 0, len(rows))
	for _, r := range rows {
		doc, err := rowToDocument(collection, r.Key, documentRow{Data: r.Data, Version: r.Version, UpdatedAt: r.UpdatedAt})
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Postgres) Delete(ctx context.Context, collection, key string) error {
	const query = `DELETE FROM documents WHERE collection = $1 AND key = $2`
	result, err := p.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, key, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Subscribe(collection, key string, fn Snapshot) func() {
	channel := snapshotChannel(collection, key)
	p.mu.Lock()
	if p.subs[channel] == nil {
		p.subs[channel] = map[int64]Snapshot{}
	}
	p.nextID++
	id := p.nextID
	p.subs[channel][id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs[channel], id)
		if len(p.subs[channel]) == 0 {
			delete(p.subs, channel)
		}
		p.mu.Unlock()
	}
}

func (p *Postgres) publish(ctx context.Context, doc *Document) {
	if p.rdb == nil {
		p.deliver(doc)
		return
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		p.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	channel := snapshotChannel(doc.Collection, doc.Key)
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		// Local subscribers still get the snapshot; remote instances miss
		// this change until the next write lands.
		p.logger.Warn("failed to publish snapshot", zap.String("channel", channel), zap.Error(err))
		p.deliver(doc)
	}
}

func (p *Postgres) listen(ctx context.Context) {
	defer close(p.done)
	sub := p.rdb.PSubscribe(ctx, snapshotChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			doc := &Document{}
			if err := json.Unmarshal([]byte(msg.Payload), doc); err != nil {
				p.logger.Warn("discarding malformed snapshot", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			p.deliver(doc)
		}
	}
}

func (p *Postgres) deliver(doc *Document) {
	channel := snapshotChannel(doc.Collection, doc.Key)
	p.mu.RLock()
	fns := make([]Snapshot, 0, len(p.subs[channel]))
	for _, fn := range p.subs[channel] {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(doc)
	}
}

func snapshotChannel(collection, key string) string {
	return snapshotChannelPrefix + collection + ":" + key
}

func rowToDocument(collection, key string, row documentRow) (*Document, error) {
	data := map[string]interface{}{}
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, key, err)
	}
	return &Document{
		Collection: collection,
		Key:        key,
		Data:       data,
		Version:    row.Version,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}
