package resource

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a CardStore persisted in a single SQLite database.
// Card type and workflow definitions are stored as JSON documents;
// cards are first-class rows.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	prefix string
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path, prefix string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, prefix: prefix, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		key TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		card_type TEXT NOT NULL,
		workflow_state TEXT NOT NULL,
		parent TEXT NOT NULL DEFAULT '',
		rank TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '{}',
		labels TEXT NOT NULL DEFAULT '[]',
		links TEXT NOT NULL DEFAULT '[]',
		last_updated DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cards_parent ON cards(parent);
	CREATE TABLE IF NOT EXISTS card_types (
		name TEXT PRIMARY KEY,
		definition TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS workflows (
		name TEXT PRIMARY KEY,
		definition TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO counters(name, value) VALUES('card_ordinal', 0)`)
	return err
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// AddCardType stores a card type definition document.
func (s *SQLiteStore) AddCardType(t *CardType) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT OR REPLACE INTO card_types(name, definition) VALUES(?, ?)`, t.Name, string(doc))
	return err
}

// AddWorkflow stores a workflow definition document.
func (s *SQLiteStore) AddWorkflow(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(w)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT OR REPLACE INTO workflows(name, definition) VALUES(?, ?)`, w.Name, string(doc))
	return err
}

func scanCard(scan func(dest ...any) error) (*Card, error) {
	var c Card
	var fields, labels, links string
	if err := scan(&c.Key, &c.ID, &c.Title, &c.CardType, &c.WorkflowState,
		&c.Parent, &c.Rank, &fields, &labels, &links, &c.LastUpdated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
		return nil, fmt.Errorf("card %s fields: %w", c.Key, err)
	}
	if err := json.Unmarshal([]byte(labels), &c.Labels); err != nil {
		return nil, fmt.Errorf("card %s labels: %w", c.Key, err)
	}
	if err := json.Unmarshal([]byte(links), &c.Links); err != nil {
		return nil, fmt.Errorf("card %s links: %w", c.Key, err)
	}
	return &c, nil
}

const cardColumns = `key, id, title, card_type, workflow_state, parent, rank, fields, labels, links, last_updated`

// ListCards returns all cards ordered by key ordinal.
func (s *SQLiteStore) ListCards() ([]*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT ` + cardColumns + ` FROM cards`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Card
	for rows.Next() {
		c, err := scanCard(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := keyOrdinal(s.prefix, out[i].Key)
		oj, jok := keyOrdinal(s.prefix, out[j].Key)
		if iok && jok {
			return oi < oj
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// GetCard returns the card for key.
func (s *SQLiteStore) GetCard(key string) (*Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+cardColumns+` FROM cards WHERE key = ?`, key)
	c, err := scanCard(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return c, err
}

// GetCardType returns the named card type.
func (s *SQLiteStore) GetCardType(name string) (*CardType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var doc string
	err := s.db.QueryRow(`SELECT definition FROM card_types WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card type %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t CardType
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("card type %s: %w", name, err)
	}
	return &t, nil
}

// GetWorkflow returns the named workflow.
func (s *SQLiteStore) GetWorkflow(name string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var doc string
	err := s.db.QueryRow(`SELECT definition FROM workflows WHERE name = ?`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var w Workflow
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return &w, nil
}

func (s *SQLiteStore) listDefinitions(table string, load func(doc string) error) error {
	rows, err := s.db.Query(`SELECT definition FROM ` + table + ` ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		if err := load(doc); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListCardTypes returns all card types in name order.
func (s *SQLiteStore) ListCardTypes() ([]*CardType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*CardType
	err := s.listDefinitions("card_types", func(doc string) error {
		var t CardType
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	return out, err
}

// ListWorkflows returns all workflows in name order.
func (s *SQLiteStore) ListWorkflows() ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Workflow
	err := s.listDefinitions("workflows", func(doc string) error {
		var w Workflow
		if err := json.Unmarshal([]byte(doc), &w); err != nil {
			return err
		}
		out = append(out, &w)
		return nil
	})
	return out, err
}

// PersistCardState commits a new workflow state onto a card.
func (s *SQLiteStore) PersistCardState(key, newState string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE cards SET workflow_state = ?, last_updated = ? WHERE key = ?`,
		newState, s.now().UTC(), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return nil
}

// CreateCard mints a key from the ordinal counter, resolves the
// initial workflow state when the card does not carry one, and inserts
// the card.
func (s *SQLiteStore) CreateCard(card *Card) (string, error) {
	if card.WorkflowState == "" {
		t, err := s.GetCardType(card.CardType)
		if err != nil {
			return "", err
		}
		w, err := s.GetWorkflow(t.Workflow)
		if err != nil {
			return "", err
		}
		card.WorkflowState = initialState(w)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if card.Parent != "" {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards WHERE key = ?`, card.Parent).Scan(&exists); err != nil {
			return "", err
		}
		if exists == 0 {
			return "", fmt.Errorf("parent card %s: %w", card.Parent, ErrNotFound)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var ord int
	if err := tx.QueryRow(`UPDATE counters SET value = value + 1 WHERE name = 'card_ordinal' RETURNING value`).Scan(&ord); err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s_%d", s.prefix, ord)

	card.Key = key
	card.ID = uuid.NewString()
	card.LastUpdated = s.now()
	if card.Rank == "" {
		card.Rank = fmt.Sprintf("%08d", ord)
	}

	fields, _ := json.Marshal(orEmptyMap(card.Fields))
	labels, _ := json.Marshal(orEmptySlice(card.Labels))
	links, _ := json.Marshal(orEmptyLinks(card.Links))
	_, err = tx.Exec(`INSERT INTO cards(`+cardColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		card.Key, card.ID, card.Title, card.CardType, card.WorkflowState,
		card.Parent, card.Rank, string(fields), string(labels), string(links), card.LastUpdated.UTC())
	if err != nil {
		return "", err
	}
	return key, tx.Commit()
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyLinks(l []Link) []Link {
	if l == nil {
		return []Link{}
	}
	return l
}

// DeleteCard removes a card and all of its descendants.
func (s *SQLiteStore) DeleteCard(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
	WITH RECURSIVE subtree(key) AS (
		SELECT key FROM cards WHERE key = ?
		UNION ALL
		SELECT c.key FROM cards c JOIN subtree s ON c.parent = s.key
	)
	DELETE FROM cards WHERE key IN (SELECT key FROM subtree)`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return nil
}

// MoveCard reparents a card and assigns a new rank. A card must not
// become its own ancestor.
func (s *SQLiteStore) MoveCard(key, newParent, rank string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newParent != "" {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM cards WHERE key = ?`, newParent).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("parent card %s: %w", newParent, ErrNotFound)
		}
		var inSubtree int
		err := s.db.QueryRow(`
		WITH RECURSIVE subtree(key) AS (
			SELECT key FROM cards WHERE key = ?
			UNION ALL
			SELECT c.key FROM cards c JOIN subtree s ON c.parent = s.key
		)
		SELECT COUNT(*) FROM subtree WHERE key = ?`, key, newParent).Scan(&inSubtree)
		if err != nil {
			return err
		}
		if inSubtree > 0 {
			return fmt.Errorf("cannot move %s under its own descendant %s", key, newParent)
		}
	}
	res, err := s.db.Exec(`UPDATE cards SET parent = ?, rank = COALESCE(NULLIF(?, ''), rank), last_updated = ? WHERE key = ?`,
		newParent, rank, s.now().UTC(), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return nil
}

// UpdateField sets a custom field value on a card.
func (s *SQLiteStore) UpdateField(key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE cards SET fields = json_set(fields, '$.' || ?, ?), last_updated = ? WHERE key = ?`,
		field, value, s.now().UTC(), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", key, ErrNotFound)
	}
	return nil
}
