package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sendpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- sessions ----

func (s *sqliteStore) UpsertSession(ctx context.Context, sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, owner_id, status, phone, last_activity, created_at, reconnect_attempts, last_error)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   phone=excluded.phone,
		   last_activity=excluded.last_activity,
		   reconnect_attempts=excluded.reconnect_attempts,
		   last_error=excluded.last_error`,
		sess.ID, sess.OwnerID, sess.Status, nullStr(sess.Phone),
		tms(sess.LastActivity), tms(sess.CreatedAt),
		sess.ReconnectAttempts, nullStr(sess.LastError),
	)
	return err
}

func (s *sqliteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, status, phone, last_activity, created_at, reconnect_attempts, last_error
		 FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var phone, lastErr sql.NullString
		var lastAct, createdAt sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Status, &phone, &lastAct, &createdAt, &sess.ReconnectAttempts, &lastErr); err != nil {
			return nil, err
		}
		sess.Phone = phone.String
		sess.LastError = lastErr.String
		sess.LastActivity = fromMS(lastAct.Int64)
		sess.CreatedAt = fromMS(createdAt.Int64)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---- campaigns ----

func (s *sqliteStore) UpsertCampaign(ctx context.Context, c *Campaign) error {
	variations, err := json.Marshal(c.Variations)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return err
	}
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return err
	}
	now := time.Now()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, owner_id, name, status, template, variations, settings, filter,
		                        sent_count, delivered_count, read_count, replied_count, failed_count,
		                        daily_sent, daily_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, status = excluded.status, template = excluded.template,
		   variations = excluded.variations, settings = excluded.settings, filter = excluded.filter,
		   updated_at = excluded.updated_at`,
		c.ID, c.OwnerID, c.Name, c.Status, c.Template, string(variations), string(settings), string(filter),
		c.SentCount, c.DeliveredCount, c.ReadCount, c.RepliedCount, c.FailedCount,
		c.DailySent, c.DailyDate, tms(createdAt), tms(now))
	return err
}

func (s *sqliteStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, status, template, variations, settings, filter,
		        sent_count, delivered_count, read_count, replied_count, failed_count,
		        daily_sent, daily_date, created_at, updated_at
		 FROM campaigns WHERE id = ?`, id)

	var c Campaign
	var variations, settings, filter string
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.Template, &variations, &settings, &filter,
		&c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.RepliedCount, &c.FailedCount,
		&c.DailySent, &c.DailyDate, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variations), &c.Variations); err != nil {
		c.Variations = nil
	}
	if err := json.Unmarshal([]byte(settings), &c.Settings); err != nil {
		return nil, fmt.Errorf("campaign %s: bad settings json: %w", id, err)
	}
	if err := json.Unmarshal([]byte(filter), &c.Filter); err != nil {
		return nil, fmt.Errorf("campaign %s: bad filter json: %w", id, err)
	}
	c.CreatedAt = fromMS(createdAt)
	c.UpdatedAt = fromMS(updatedAt)
	return &c, nil
}

func (s *sqliteStore) UpdateCampaignStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		status, tms(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) BumpCampaignCounters(ctx context.Context, id string, d CounterDelta, dailyDate string) error {
	// A rolled-over daily_date resets the daily counter before adding.
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET
		   sent_count      = sent_count + ?,
		   delivered_count = delivered_count + ?,
		   read_count      = read_count + ?,
		   replied_count   = replied_count + ?,
		   failed_count    = failed_count + ?,
		   daily_sent      = CASE WHEN daily_date = ? THEN daily_sent + ? ELSE ? END,
		   daily_date      = ?,
		   updated_at      = ?
		 WHERE id = ?`,
		d.Sent, d.Delivered, d.Read, d.Replied, d.Failed,
		dailyDate, d.DailySent, d.DailySent, dailyDate,
		tms(time.Now()), id)
	return err
}

func (s *sqliteStore) ResetDailyCounters(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaigns SET daily_sent = 0`)
	return err
}

// ---- contacts ----

func (s *sqliteStore) UpsertContact(ctx context.Context, c *Contact) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return err
	}
	failed := 0
	if c.Failed {
		failed = 1
	}
	var lastContact any
	if c.LastContactAt != nil {
		lastContact = tms(*c.LastContactAt)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, owner_id, name, company, phone, email, status, source, tags,
		                       language, satisfaction, purchase_intent, last_contact_at, failed, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, company = excluded.company, phone = excluded.phone,
		   email = excluded.email, status = excluded.status, source = excluded.source,
		   tags = excluded.tags, language = excluded.language,
		   satisfaction = excluded.satisfaction, purchase_intent = excluded.purchase_intent`,
		c.ID, c.OwnerID, c.Name, c.Company, c.Phone, c.Email, c.Status, c.Source, string(tags),
		c.Language, c.Satisfaction, c.PurchaseIntent, lastContact, failed, nullStr(c.LastError))
	return err
}

func (s *sqliteStore) ListContactsByOwner(ctx context.Context, ownerID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, company, phone, email, status, source, tags,
		        language, satisfaction, purchase_intent, last_contact_at, failed, last_error
		 FROM contacts WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var tags string
		var lastErr sql.NullString
		var lastContact sql.NullInt64
		var failed int
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Company, &c.Phone, &c.Email,
			&c.Status, &c.Source, &tags, &c.Language, &c.Satisfaction, &c.PurchaseIntent,
			&lastContact, &failed, &lastErr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
			c.Tags = nil
		}
		if lastContact.Valid && lastContact.Int64 != 0 {
			t := fromMS(lastContact.Int64)
			c.LastContactAt = &t
		}
		c.Failed = failed != 0
		c.LastError = lastErr.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateContactResult(ctx context.Context, id string, at time.Time, failed bool, errMsg string) error {
	f := 0
	if failed {
		f = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_contact_at = ?, failed = ?, last_error = ? WHERE id = ?`,
		tms(at), f, nullStr(errMsg), id)
	return err
}

// ---- queue items ----

func (s *sqliteStore) InsertQueueItems(ctx context.Context, items []QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO queue_items(id, campaign_id, contact_id, owner_id, message, target,
		                         priority, scheduled_at, status, retry_count, last_error, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range items {
		it := &items[i]
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			it.ID, it.CampaignID, it.ContactID, it.OwnerID, it.Message, it.Target,
			it.Priority, tms(it.ScheduledAt), it.Status, it.RetryCount,
			nullStr(it.LastError), tms(it.CreatedAt), tms(it.UpdatedAt)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) DueQueueItems(ctx context.Context, now time.Time, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, contact_id, owner_id, message, target, priority,
		        scheduled_at, status, retry_count, last_error, created_at, updated_at
		 FROM queue_items
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY priority DESC, scheduled_at ASC
		 LIMIT ?`, ItemPending, tms(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var out []QueueItem
	for rows.Next() {
		var it QueueItem
		var schedAt, createdAt, updatedAt int64
		var lastErr sql.NullString
		if err := rows.Scan(&it.ID, &it.CampaignID, &it.ContactID, &it.OwnerID, &it.Message,
			&it.Target, &it.Priority, &schedAt, &it.Status, &it.RetryCount,
			&lastErr, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		it.ScheduledAt = fromMS(schedAt)
		it.CreatedAt = fromMS(createdAt)
		it.UpdatedAt = fromMS(updatedAt)
		it.LastError = lastErr.String
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateQueueItem(ctx context.Context, item *QueueItem) error {
	item.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET
		   status = ?, scheduled_at = ?, retry_count = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		item.Status, tms(item.ScheduledAt), item.RetryCount,
		nullStr(item.LastError), tms(item.UpdatedAt), item.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CancelPendingItems(ctx context.Context, campaignID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, updated_at = ? WHERE campaign_id = ? AND status = ?`,
		ItemCancelled, tms(time.Now()), campaignID, ItemPending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) CountQueueItems(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_items WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		ItemPending: 0, ItemProcessing: 0, ItemSent: 0, ItemFailed: 0, ItemCancelled: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *sqliteStore) PruneResolvedItems(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE status IN (?,?,?) AND updated_at < ?`,
		ItemSent, ItemFailed, ItemCancelled, tms(olderThan))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ---- helpers ----

// Timestamps are stored as Unix milliseconds so SQL comparisons and ordering
// work without string-format pitfalls.
func tms(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
