package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"meshbridge/internal/config"
	"meshbridge/internal/logger"
	"meshbridge/pkg/metrics"
)

// MessageRecord is the persisted form of one routed message, one row per
// message id.
type MessageRecord struct {
	ID         string    `json:"id"`
	SourceLink string    `json:"source_link"`
	FromNode   string    `json:"from_node"`
	ToNode     string    `json:"to_node"`
	Text       string    `json:"text"`
	Channel    int       `json:"channel"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Delivered  int       `json:"delivered"`
	ReceivedAt time.Time `json:"received_at"`
}

// LinkStatsRecord is one periodic snapshot of a link's counters.
type LinkStatsRecord struct {
	Link        string    `json:"link"`
	Received    uint64    `json:"received"`
	Sent        uint64    `json:"sent"`
	SendErrors  uint64    `json:"send_errors"`
	CollectedAt time.Time `json:"collected_at"`
}

// Store is the PostgreSQL persistence layer. All methods are safe for
// concurrent use; the pool handles connection sharing.
type Store struct {
	db            *sql.DB
	retentionDays int
	logger        logger.Logger
}

func New(cfg config.PostgresConfig, retentionDays int, log logger.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode(cfg.SSLMode),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Infow("Connected to PostgreSQL",
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	return &Store{
		db:            db,
		retentionDays: retentionDays,
		logger:        log,
	}, nil
}

func sslMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health checks and migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveMessage upserts the record; a later outcome for the same message
// id (a duplicate arriving after the original was forwarded) updates the
// delivery columns in place.
func (s *Store) SaveMessage(ctx context.Context, rec MessageRecord) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, source_link, from_node, to_node, text, channel, outcome, reason, delivered, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET outcome = EXCLUDED.outcome,
		    reason = EXCLUDED.reason,
		    delivered = EXCLUDED.delivered`,
		rec.ID, rec.SourceLink, rec.FromNode, rec.ToNode, rec.Text,
		rec.Channel, rec.Outcome, rec.Reason, rec.Delivered, rec.ReceivedAt,
	)

	metrics.ObserveStorageQuery("save_message", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit messages, most recent first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]MessageRecord, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_link, from_node, to_node, text, channel, outcome, reason, delivered, received_at
		FROM messages
		ORDER BY received_at DESC
		LIMIT $1`,
		limit,
	)

	metrics.ObserveStorageQuery("recent_messages", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessages returns messages whose text or sender matches query,
// case-insensitive, most recent first.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]MessageRecord, error) {
	start := time.Now()

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_link, from_node, to_node, text, channel, outcome, reason, delivered, received_at
		FROM messages
		WHERE text ILIKE $1 OR from_node ILIKE $1
		ORDER BY received_at DESC
		LIMIT $2`,
		pattern, limit,
	)

	metrics.ObserveStorageQuery("search_messages", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]MessageRecord, error) {
	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(
			&rec.ID, &rec.SourceLink, &rec.FromNode, &rec.ToNode, &rec.Text,
			&rec.Channel, &rec.Outcome, &rec.Reason, &rec.Delivered, &rec.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return out, nil
}

func (s *Store) RecordLinkStats(ctx context.Context, rec LinkStatsRecord) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_statistics (link, received, sent, send_errors, collected_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Link, rec.Received, rec.Sent, rec.SendErrors, rec.CollectedAt,
	)

	metrics.ObserveStorageQuery("record_link_stats", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to record link statistics: %w", err)
	}
	return nil
}

// LogEvent appends one row to the bridge event log. details must be
// valid JSON or nil.
func (s *Store) LogEvent(ctx context.Context, eventType, messageID, linkName string, details []byte) error {
	start := time.Now()

	var detailsArg interface{}
	if len(details) > 0 {
		detailsArg = details
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_events (event_type, message_id, link, details)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)`,
		eventType, messageID, linkName, detailsArg,
	)

	metrics.ObserveStorageQuery("log_event", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

// CleanupOldMessages deletes rows older than the retention window and
// returns how many were removed.
func (s *Store) CleanupOldMessages(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE received_at < $1`, cutoff)
	metrics.ObserveStorageQuery("cleanup_messages", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old messages: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}

// StartRetentionTask deletes expired rows periodically until ctx is
// done.
func (s *Store) StartRetentionTask(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := s.CleanupOldMessages(ctx)
			if err != nil {
				s.logger.Errorw("Retention cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Infow("Removed expired messages",
					"removed", removed,
					"retention_days", s.retentionDays,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}
