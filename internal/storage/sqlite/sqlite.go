package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file inside the data directory
const FileName = "gossip.db"

type DB struct {
	db *sql.DB
}

func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, FileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			stanza_id TEXT,
			resource TEXT,
			body TEXT NOT NULL,
			subject TEXT,
			thread TEXT,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			outgoing INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_jid ON messages(account, jid)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,

		`CREATE TABLE IF NOT EXISTS roster_cache (
			account TEXT NOT NULL,
			jid TEXT NOT NULL,
			name TEXT,
			groups_json TEXT,
			subscription TEXT,
			last_updated INTEGER NOT NULL,
			PRIMARY KEY (account, jid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roster_cache_account ON roster_cache(account)`,

		`CREATE TABLE IF NOT EXISTS transfers (
			account TEXT NOT NULL,
			transfer_id INTEGER NOT NULL,
			peer TEXT NOT NULL,
			direction TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			mime_type TEXT,
			stream_id TEXT,
			path TEXT,
			status TEXT NOT NULL,
			reason TEXT,
			started INTEGER NOT NULL,
			finished INTEGER,
			PRIMARY KEY (account, started, transfer_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_account ON transfers(account, started)`,

		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

type Message struct {
	JID       string
	StanzaID  string
	Resource  string
	Body      string
	Subject   string
	Thread    string
	Type      string
	Timestamp time.Time
	Outgoing  bool
}

func (d *DB) SaveMessage(account string, msg Message) error {
	_, err := d.db.Exec(`
		INSERT INTO messages (account, jid, stanza_id, resource, body, subject, thread, type, timestamp, outgoing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, account, msg.JID, msg.StanzaID, msg.Resource, msg.Body, msg.Subject, msg.Thread, msg.Type,
		msg.Timestamp.Unix(), msg.Outgoing)
	return err
}

// GetMessages returns the newest messages with jid in chronological order
func (d *DB) GetMessages(account, jid string, limit, offset int) ([]Message, error) {
	rows, err := d.db.Query(`
		SELECT jid, stanza_id, resource, body, subject, thread, type, timestamp, outgoing
		FROM messages
		WHERE account = ? AND jid = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, account, jid, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var ts int64
		var stanzaID, resource, subject, thread sql.NullString

		err := rows.Scan(&msg.JID, &stanzaID, &resource, &msg.Body, &subject, &thread,
			&msg.Type, &ts, &msg.Outgoing)
		if err != nil {
			return nil, err
		}

		msg.Timestamp = time.Unix(ts, 0)
		msg.StanzaID = stanzaID.String
		msg.Resource = resource.String
		msg.Subject = subject.String
		msg.Thread = thread.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (d *DB) DeleteMessages(account, jid string) error {
	_, err := d.db.Exec("DELETE FROM messages WHERE account = ? AND jid = ?", account, jid)
	return err
}

type RosterEntry struct {
	JID          string
	Name         string
	Groups       []string
	Subscription string
}

func (d *DB) SaveRoster(account string, entries []RosterEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM roster_cache WHERE account = ?", account); err != nil {
		return err
	}

	for _, entry := range entries {
		groupsJSON := "[]"
		if len(entry.Groups) > 0 {
			encoded, err := json.Marshal(entry.Groups)
			if err != nil {
				return err
			}
			groupsJSON = string(encoded)
		}

		_, err := tx.Exec(`
			INSERT INTO roster_cache (account, jid, name, groups_json, subscription, last_updated)
			VALUES (?, ?, ?, ?, ?, ?)
		`, account, entry.JID, entry.Name, groupsJSON, entry.Subscription, time.Now().Unix())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) GetRoster(account string) ([]RosterEntry, error) {
	rows, err := d.db.Query(`
		SELECT jid, name, groups_json, subscription
		FROM roster_cache
		WHERE account = ?
		ORDER BY COALESCE(NULLIF(name, ''), jid), jid
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RosterEntry
	for rows.Next() {
		var entry RosterEntry
		var groupsJSON sql.NullString
		var name, subscription sql.NullString

		if err := rows.Scan(&entry.JID, &name, &groupsJSON, &subscription); err != nil {
			return nil, err
		}

		entry.Name = name.String
		entry.Subscription = subscription.String
		if groupsJSON.Valid && groupsJSON.String != "" {
			_ = json.Unmarshal([]byte(groupsJSON.String), &entry.Groups)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Transfer statuses
const (
	TransferPending   = "pending"
	TransferActive    = "active"
	TransferCompleted = "completed"
	TransferFailed    = "failed"
)

type Transfer struct {
	ID        uint32
	Peer      string
	Direction string
	FileName  string
	FileSize  uint64
	MimeType  string
	StreamID  string
	Path      string
	Status    string
	Reason    string
	Started   time.Time
	Finished  time.Time
}

// SaveTransfer records a transfer seen for the first time. Transfer ids
// restart with every process, so rows are keyed by start time as well.
func (d *DB) SaveTransfer(account string, t Transfer) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO transfers (account, transfer_id, peer, direction, file_name, file_size,
			mime_type, stream_id, path, status, reason, started)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, account, t.ID, t.Peer, t.Direction, t.FileName, int64(t.FileSize), t.MimeType, t.StreamID,
		t.Path, t.Status, t.Reason, t.Started.UnixNano())
	return err
}

// UpdateTransfer sets the status of the newest transfer with id. A final
// status also stamps the finish time.
func (d *DB) UpdateTransfer(account string, id uint32, status, path, reason string) error {
	var finished interface{}
	if status == TransferCompleted || status == TransferFailed {
		finished = time.Now().UnixNano()
	}
	res, err := d.db.Exec(`
		UPDATE transfers SET status = ?, path = COALESCE(NULLIF(?, ''), path), reason = ?, finished = ?
		WHERE account = ? AND transfer_id = ? AND started = (
			SELECT MAX(started) FROM transfers WHERE account = ? AND transfer_id = ?
		)
	`, status, path, reason, finished, account, id, account, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transfer %d not recorded", id)
	}
	return nil
}

// GetTransfers returns the newest transfers first
func (d *DB) GetTransfers(account string, limit int) ([]Transfer, error) {
	rows, err := d.db.Query(`
		SELECT transfer_id, peer, direction, file_name, file_size, mime_type, stream_id, path,
			status, reason, started, finished
		FROM transfers
		WHERE account = ?
		ORDER BY started DESC
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var t Transfer
		var size, started int64
		var mimeType, streamID, path, reason sql.NullString
		var finished sql.NullInt64

		err := rows.Scan(&t.ID, &t.Peer, &t.Direction, &t.FileName, &size, &mimeType, &streamID,
			&path, &t.Status, &reason, &started, &finished)
		if err != nil {
			return nil, err
		}

		t.FileSize = uint64(size)
		t.MimeType = mimeType.String
		t.StreamID = streamID.String
		t.Path = path.String
		t.Reason = reason.String
		t.Started = time.Unix(0, started)
		if finished.Valid {
			t.Finished = time.Unix(0, finished.Int64)
		}
		transfers = append(transfers, t)
	}

	return transfers, rows.Err()
}

func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO app_state (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

func (d *DB) GetAppState(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
