package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"journalsync/internal"
	"journalsync/internal/util"
)

const (
	FieldISSNL     = "issn_l"
	FieldPublisher = "publisher"
	FieldData      = "data"
	FieldCoverURL  = "cover_url"
	FieldCountry   = "country"
)

var customFieldNames = []string{FieldISSNL, FieldPublisher, FieldData, FieldCoverURL, FieldCountry}

// ContentStore is the journal corpus of one category.
type ContentStore struct {
	db       *DB
	category string
	tags     *TagCache
}

func NewContentStore(db *DB, category string, tags *TagCache) *ContentStore {
	if tags == nil {
		tags = NewTagCache(db)
	}
	return &ContentStore{db: db, category: category, tags: tags}
}

func (s *ContentStore) Category() string {
	return s.category
}

// EachLocalBatch pages through the category by id. fn runs with no rows
// open, so it may use the DB.
func (s *ContentStore) EachLocalBatch(ctx context.Context, batchSize int, fn func([]internal.LocalRecord) error) error {
	if batchSize <= 0 {
		batchSize = 5000
	}
	var afterID int64
	for {
		batch, err := s.localPage(ctx, afterID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		afterID = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (s *ContentStore) localPage(ctx context.Context, afterID int64, limit int) ([]internal.LocalRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
SELECT id, title FROM topics
WHERE category = ? AND id > ?
ORDER BY id ASC
LIMIT ?`, s.category, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]internal.LocalRecord, 0, limit)
	for rows.Next() {
		var r internal.LocalRecord
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ContentStore) CountLocal(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics WHERE category = ?`, s.category).Scan(&n)
	return n, err
}

// BulkDeleteLocal removes the given topics of this category with their
// custom fields and tag links in one transaction. Ids that do not exist are
// ignored; the number actually deleted is returned.
func (s *ContentStore) BulkDeleteLocal(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]any, 0, len(ids)+1)
	args = append(args, s.category)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM topics WHERE category = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	var existing []any
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		existing = append(existing, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, tx.Commit()
	}

	in := placeholders(len(existing))
	for _, stmt := range []string{
		`DELETE FROM topic_custom_fields WHERE topicId IN (` + in + `)`,
		`DELETE FROM topic_tags WHERE topicId IN (` + in + `)`,
		`DELETE FROM topics WHERE id IN (` + in + `)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, existing...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(existing), nil
}

// FindByIdentifier resolves a topic of this category by its ISSN-L.
func (s *ContentStore) FindByIdentifier(ctx context.Context, issnL string) (int64, bool, error) {
	return findByIdentifier(ctx, s.db.conn, s.category, issnL)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findByIdentifier(ctx context.Context, q queryer, category, issnL string) (int64, bool, error) {
	issnL = strings.TrimSpace(issnL)
	if issnL == "" {
		return 0, false, nil
	}
	var id int64
	err := q.QueryRowContext(ctx, `
SELECT t.id FROM topic_custom_fields f
JOIN topics t ON t.id = f.topicId
WHERE f.name = ? AND f.value = ? AND t.category = ?
ORDER BY t.id ASC
LIMIT 1`, FieldISSNL, issnL, category).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Upsert writes fields to existingID when that topic still exists, else to
// the topic of this category holding the same ISSN-L, else to a new topic.
func (s *ContentStore) Upsert(ctx context.Context, fields internal.JournalFields, existingID *int64) (internal.UpsertOutcome, error) {
	title := util.CleanTitle(fields.Title)
	if title == "" {
		return "", &internal.ValidationError{Field: "title", Identifier: fields.Identifier}
	}

	tagIDs, err := s.tags.Ensure(ctx, fields.Tags)
	if err != nil {
		return "", fmt.Errorf("ensure tags: %w", err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	topicID, found, err := s.resolve(ctx, tx, fields, existingID)
	if err != nil {
		return "", err
	}

	body := renderSummary(fields)
	outcome := internal.UpsertUpdated
	if found {
		if _, err := tx.ExecContext(ctx, `UPDATE topics SET title = ?, body = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, title, body, topicID); err != nil {
			return "", err
		}
	} else {
		res, err := tx.ExecContext(ctx, `INSERT INTO topics (category, title, body) VALUES (?, ?, ?)`, s.category, title, body)
		if err != nil {
			return "", err
		}
		if topicID, err = res.LastInsertId(); err != nil {
			return "", err
		}
		outcome = internal.UpsertCreated
	}

	if err := storeCustomFields(ctx, tx, topicID, fields); err != nil {
		return "", err
	}
	if err := replaceTopicTags(ctx, tx, topicID, tagIDs); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *ContentStore) resolve(ctx context.Context, tx *sql.Tx, fields internal.JournalFields, existingID *int64) (int64, bool, error) {
	if existingID != nil {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM topics WHERE id = ?`, *existingID).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, err
		}
	}

	return findByIdentifier(ctx, tx, s.category, fields.Identifier)
}

func storeCustomFields(ctx context.Context, tx *sql.Tx, topicID int64, fields internal.JournalFields) error {
	values := map[string]string{}
	if fields.Identifier != "" {
		values[FieldISSNL] = fields.Identifier
	}
	if fields.Publisher != "" {
		values[FieldPublisher] = fields.Publisher
	}
	if fields.CoverURL != "" {
		values[FieldCoverURL] = fields.CoverURL
	}
	if fields.Country != "" {
		values[FieldCountry] = fields.Country
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	values[FieldData] = string(data)

	args := []any{topicID}
	for _, name := range customFieldNames {
		args = append(args, name)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topic_custom_fields WHERE topicId = ? AND name IN (`+placeholders(len(customFieldNames))+`)`, args...); err != nil {
		return err
	}

	for _, name := range customFieldNames {
		value, ok := values[name]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO topic_custom_fields (topicId, name, value) VALUES (?, ?, ?)`, topicID, name, value); err != nil {
			return err
		}
	}
	return nil
}

func replaceTopicTags(ctx context.Context, tx *sql.Tx, topicID int64, tagIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM topic_tags WHERE topicId = ?`, topicID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO topic_tags (topicId, tagId) VALUES (?, ?)`, topicID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderSummary(fields internal.JournalFields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nISSN-L: %s\n", fields.Title, fields.Identifier)
	if fields.Publisher != "" {
		fmt.Fprintf(&b, "Publisher: %s\n", fields.Publisher)
	}
	if fields.Country != "" {
		fmt.Fprintf(&b, "Country: %s\n", fields.Country)
	}
	if len(fields.Sources) > 0 {
		fmt.Fprintf(&b, "Sources: %s\n", strings.Join(sortedKeys(fields.Sources), ", "))
	}
	return b.String()
}

// Topic is a stored journal with its custom fields and tags.
type Topic struct {
	ID       int64
	Category string
	Title    string
	Body     string
	Fields   map[string]string
	Tags     []string
}

func (s *ContentStore) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	t := Topic{Fields: map[string]string{}}
	err := s.db.conn.QueryRowContext(ctx, `SELECT id, category, title, body FROM topics WHERE id = ?`, id).
		Scan(&t.ID, &t.Category, &t.Title, &t.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.conn.QueryContext(ctx, `SELECT name, value FROM topic_custom_fields WHERE topicId = ?`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.Fields[name] = value
	}
	_ = rows.Close()

	rows, err = s.db.conn.QueryContext(ctx, `
SELECT g.name FROM topic_tags tt JOIN tags g ON g.id = tt.tagId
WHERE tt.topicId = ? ORDER BY g.name ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		t.Tags = append(t.Tags, name)
	}
	return &t, rows.Err()
}

// RefreshTopicCount stores the current category size in metadata.
func (s *ContentStore) RefreshTopicCount(ctx context.Context) (int, error) {
	n, err := s.CountLocal(ctx)
	if err != nil {
		return 0, err
	}
	return n, s.db.SetMetadata("topic_count."+s.category, fmt.Sprintf("%d", n))
}

// InsertTopic adds a bare topic, used to seed a corpus.
func (s *ContentStore) InsertTopic(ctx context.Context, title string) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `INSERT INTO topics (category, title) VALUES (?, ?)`, s.category, util.CleanTitle(title))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
