package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// Schema is the DDL of the audit database.
const Schema = `
CREATE TABLE IF NOT EXISTS rule_intents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	flow_id INTEGER NOT NULL,
	table_name TEXT NOT NULL,
	match_fields TEXT NOT NULL,
	target_ip TEXT NOT NULL,
	action_name TEXT NOT NULL,
	action_params TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	applied_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_intents_target ON rule_intents(target_ip);
CREATE INDEX IF NOT EXISTS idx_rule_intents_created ON rule_intents(created_at);
`

// StoredIntent is an intent read back from the audit database.
type StoredIntent struct {
	ID        int64     `json:"id"`
	Intent    Intent    `json:"intent"`
	AppliedAt time.Time `json:"applied_at"`
}

// TargetCount is one row of the per-address breakdown in Stats.
type TargetCount struct {
	TargetIP string `json:"target_ip"`
	Count    int64  `json:"count"`
}

type AuditStats struct {
	Total      int64         `json:"total"`
	Targets    int64         `json:"distinct_targets"`
	TopTargets []TargetCount `json:"top_targets"`
}

// SQLiteAudit appends every applied intent to a local SQLite database. It
// backs `flowguard rules` and the status API.
type SQLiteAudit struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSQLiteAudit(path string) (*SQLiteAudit, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info("[RULES] SQLite audit initialized at %s", path)
	return &SQLiteAudit{db: db}, nil
}

func (s *SQLiteAudit) Name() string {
	return "sqlite"
}

func (s *SQLiteAudit) Close() error {
	return s.db.Close()
}

func (s *SQLiteAudit) Apply(ctx context.Context, in Intent) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match, err := json.Marshal(in.MatchFields)
	if err != nil {
		return Ack{}, err
	}
	params, err := json.Marshal(in.ActionParams)
	if err != nil {
		return Ack{}, err
	}

	applied := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_intents (flow_id, table_name, match_fields, target_ip, action_name, action_params, created_at, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.FlowID, in.TableName, string(match), in.Target(), in.ActionName, string(params), in.CreatedAt, applied,
	)
	if err != nil {
		return Ack{}, fmt.Errorf("storing rule intent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Ack{}, err
	}

	return Ack{Installer: s.Name(), Reference: strconv.FormatInt(id, 10), AppliedAt: applied}, nil
}

// List returns the most recent intents, newest first.
func (s *SQLiteAudit) List(ctx context.Context, limit int) ([]StoredIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_id, table_name, match_fields, action_name, action_params, created_at, applied_at
		 FROM rule_intents
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredIntent
	for rows.Next() {
		var (
			si            StoredIntent
			match, params string
		)
		if err := rows.Scan(&si.ID, &si.Intent.FlowID, &si.Intent.TableName, &match, &si.Intent.ActionName, &params, &si.Intent.CreatedAt, &si.AppliedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(match), &si.Intent.MatchFields); err != nil {
			return nil, fmt.Errorf("rule %d: match_fields: %w", si.ID, err)
		}
		if err := json.Unmarshal([]byte(params), &si.Intent.ActionParams); err != nil {
			return nil, fmt.Errorf("rule %d: action_params: %w", si.ID, err)
		}
		out = append(out, si)
	}

	return out, rows.Err()
}

// Stats summarises the audit table.
func (s *SQLiteAudit) Stats(ctx context.Context) (AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st AuditStats
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT target_ip) FROM rule_intents",
	).Scan(&st.Total, &st.Targets); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_ip, COUNT(*) AS n FROM rule_intents
		 GROUP BY target_ip ORDER BY n DESC, target_ip LIMIT 10`,
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var tc TargetCount
		if err := rows.Scan(&tc.TargetIP, &tc.Count); err != nil {
			return st, err
		}
		st.TopTargets = append(st.TopTargets, tc)
	}
	return st, rows.Err()
}
