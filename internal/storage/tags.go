package storage

import (
	"context"
	"strings"
	"sync"
)

// TagCache memoizes tag name to id for the lifetime of a process. It is
// shared by every ContentStore built on the same DB.
type TagCache struct {
	db *DB

	mu    sync.Mutex
	ids   map[string]int64
	warm  bool
	hits  int
	fills int
}

func NewTagCache(db *DB) *TagCache {
	return &TagCache{db: db, ids: map[string]int64{}}
}

// Warm loads every existing tag once.
func (c *TagCache) Warm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.warm {
		return nil
	}

	rows, err := c.db.conn.QueryContext(ctx, `SELECT id, name FROM tags`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		c.ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.warm = true
	return nil
}

// Ensure returns ids for names, creating missing tags.
func (c *TagCache) Ensure(ctx context.Context, names []string) ([]int64, error) {
	if err := c.Warm(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int64, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := c.ids[name]; ok {
			c.hits++
			out = append(out, id)
			continue
		}
		id, err := c.create(ctx, name)
		if err != nil {
			return nil, err
		}
		c.fills++
		c.ids[name] = id
		out = append(out, id)
	}
	return out, nil
}

func (c *TagCache) create(ctx context.Context, name string) (int64, error) {
	if _, err := c.db.conn.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	var id int64
	err := c.db.conn.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&id)
	return id, err
}

// Reset drops every memoized entry; the next Ensure reloads from the DB.
func (c *TagCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = map[string]int64{}
	c.warm = false
	c.hits = 0
	c.fills = 0
}

func (c *TagCache) Stats() (hits, fills int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.fills
}
