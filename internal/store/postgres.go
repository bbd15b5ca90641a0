package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const txMaxAttempts = 5

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx so the row helpers can
// serve plain reads and transactional reads alike.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RunInTx executes fn inside a serializable transaction. On write-write
// conflict the closure is re-executed up to txMaxAttempts times; domain
// errors returned by fn abort the transaction and propagate unchanged.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err := s.attemptTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction did not commit after %d attempts: %w", txMaxAttempts, lastErr)
}

func (s *PostgresStore) attemptTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure, deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isIndexRequiredError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// feature_not_supported, undefined_object: the backend classes raised
	// when a filtered+ordered query lacks its composite index.
	return pgErr.Code == "0A000" || pgErr.Code == "42704"
}

// pgTx adapts *sql.Tx to the Tx contract.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetTopic(ctx context.Context, id string) (TopicCandidate, error) {
	return getTopic(ctx, t.tx, id)
}

func (t *pgTx) SetTopicStatus(ctx context.Context, id, status string) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE topic_candidates SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("update topic status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetTopicMetadata(ctx context.Context, id string, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal topic metadata: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, `UPDATE topic_candidates SET metadata=$2 WHERE id=$1`, id, payload)
	if err != nil {
		return fmt.Errorf("update topic metadata: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetOption(ctx context.Context, id string) (ContentOption, error) {
	return getOption(ctx, t.tx, id)
}

func (t *pgTx) InsertAuditEvent(ctx context.Context, ev AuditEvent) error {
	return insertAuditEvent(ctx, t.tx, ev)
}

func (t *pgTx) InsertPublishedContent(ctx context.Context, pub PublishedContent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO published_content (id, topic_id, selected_option_id, platform, status, needs_ethics_review, scheduled_at, published_at, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, pub.ID, pub.TopicID, pub.SelectedOptionID, pub.Platform, pub.Status, pub.NeedsEthicsReview, pub.ScheduledAt, pub.PublishedAt, pub.ExternalID, pub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert published content: %w", err)
	}
	return nil
}

func (t *pgTx) ActiveWeights(ctx context.Context) (WeightsVersion, error) {
	return activeWeights(ctx, t.tx)
}

func (t *pgTx) InsertWeights(ctx context.Context, v WeightsVersion) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO scoring_weights (id, recency, velocity, audience_fit, integrity_penalty, is_manual_override, updated_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.Weights.Recency, v.Weights.Velocity, v.Weights.AudienceFit, v.Weights.IntegrityPenalty, v.IsManualOverride, v.UpdatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert weights version: %w", err)
	}
	return nil
}

// ---- Topics ----

const topicColumns = `id, source_platform, source_url, title, raw_payload, entities, topic_cluster, detected_language, status, metadata, created_at`

func (s *PostgresStore) GetTopic(ctx context.Context, id string) (TopicCandidate, error) {
	return getTopic(ctx, s.db, id)
}

func getTopic(ctx context.Context, q querier, id string) (TopicCandidate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topic_candidates WHERE id=$1`, id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TopicCandidate{}, ErrNotFound
	}
	if err != nil {
		return TopicCandidate{}, fmt.Errorf("get topic %s: %w", id, err)
	}
	return topic, nil
}

func (s *PostgresStore) InsertTopic(ctx context.Context, topic TopicCandidate) error {
	rawPayload, err := json.Marshal(orEmptyMap(topic.RawPayload))
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}
	entities, err := json.Marshal(orEmptySlice(topic.Entities))
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	metadata, err := json.Marshal(orEmptyMap(topic.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topic_candidates (`+topicColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, topic.ID, topic.SourcePlatform, topic.SourceURL, topic.Title, rawPayload, entities,
		topic.TopicCluster, topic.DetectedLanguage, topic.Status, metadata, topic.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	return nil
}

// ListTopics lists topics by status. With filter.Ordered the backend may
// reject the filter+order combination (ErrIndexRequired); callers fall back
// to an unordered query and sort in memory.
func (s *PostgresStore) ListTopics(ctx context.Context, filter TopicFilter) ([]TopicCandidate, error) {
	query := `SELECT ` + topicColumns + ` FROM topic_candidates`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status=$1`
		args = append(args, filter.Status)
	}
	if filter.Ordered {
		query += ` ORDER BY created_at DESC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if filter.Ordered && isIndexRequiredError(err) {
			return nil, ErrIndexRequired
		}
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []TopicCandidate
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

func scanTopic(row interface{ Scan(dest ...any) error }) (TopicCandidate, error) {
	var t TopicCandidate
	var rawPayload, entities, metadata []byte
	err := row.Scan(&t.ID, &t.SourcePlatform, &t.SourceURL, &t.Title, &rawPayload, &entities,
		&t.TopicCluster, &t.DetectedLanguage, &t.Status, &metadata, &t.CreatedAt)
	if err != nil {
		return TopicCandidate{}, err
	}
	if err := unmarshalInto(rawPayload, &t.RawPayload); err != nil {
		return TopicCandidate{}, fmt.Errorf("decode raw payload: %w", err)
	}
	if err := unmarshalInto(entities, &t.Entities); err != nil {
		return TopicCandidate{}, fmt.Errorf("decode entities: %w", err)
	}
	if err := unmarshalInto(metadata, &t.Metadata); err != nil {
		return TopicCandidate{}, fmt.Errorf("decode metadata: %w", err)
	}
	return t, nil
}

// ---- Score records ----

const scoreColumns = `id, topic_id, score, components, reasoning, weights, metadata, run_id, created_at`

func (s *PostgresStore) InsertScoreRecord(ctx context.Context, rec ScoreRecord) error {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	reasoning, err := json.Marshal(orEmptyStringMap(rec.Reasoning))
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}
	weights, err := json.Marshal(rec.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	metadata, err := json.Marshal(orEmptyMap(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topic_scores (`+scoreColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.TopicID, rec.Score, components, reasoning, weights, metadata, rec.RunID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert score record: %w", err)
	}
	return nil
}

// ScoresForTopics returns all score records for the given topic ids, newest
// first. At most MaxBatchIDs ids are accepted per call.
func (s *PostgresStore) ScoresForTopics(ctx context.Context, topicIDs []string) ([]ScoreRecord, error) {
	if len(topicIDs) > MaxBatchIDs {
		return nil, ErrBatchTooLarge
	}
	if len(topicIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoreColumns+` FROM topic_scores
		WHERE topic_id = ANY($1)
		ORDER BY created_at DESC
	`, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("scores for topics: %w", err)
	}
	defer rows.Close()
	return collectScores(rows)
}

// ScoresForTopic returns every scoring run for one topic, newest first.
func (s *PostgresStore) ScoresForTopic(ctx context.Context, topicID string) ([]ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoreColumns+` FROM topic_scores
		WHERE topic_id = $1
		ORDER BY created_at DESC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("scores for topic %s: %w", topicID, err)
	}
	defer rows.Close()
	return collectScores(rows)
}

func collectScores(rows *sql.Rows) ([]ScoreRecord, error) {
	var records []ScoreRecord
	for rows.Next() {
		var rec ScoreRecord
		var components, reasoning, weights, metadata []byte
		if err := rows.Scan(&rec.ID, &rec.TopicID, &rec.Score, &components, &reasoning, &weights, &metadata, &rec.RunID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score record: %w", err)
		}
		if err := unmarshalInto(components, &rec.Components); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
		if err := unmarshalInto(reasoning, &rec.Reasoning); err != nil {
			return nil, fmt.Errorf("decode reasoning: %w", err)
		}
		if err := unmarshalInto(weights, &rec.Weights); err != nil {
			return nil, fmt.Errorf("decode weights: %w", err)
		}
		if err := unmarshalInto(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ---- Content options ----

const optionColumns = `id, topic_id, option_type, content, edited_content, edited_at, editor_id, edit_history, refinement_applied, prompt_version, model, metadata, created_at`

func (s *PostgresStore) GetOption(ctx context.Context, id string) (ContentOption, error) {
	return getOption(ctx, s.db, id)
}

func getOption(ctx context.Context, q querier, id string) (ContentOption, error) {
	row := q.QueryRowContext(ctx, `SELECT `+optionColumns+` FROM content_options WHERE id=$1`, id)
	opt, err := scanOption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentOption{}, ErrNotFound
	}
	if err != nil {
		return ContentOption{}, fmt.Errorf("get option %s: %w", id, err)
	}
	return opt, nil
}

func (s *PostgresStore) InsertOption(ctx context.Context, opt ContentOption) error {
	editHistory, err := json.Marshal(opt.EditHistory)
	if err != nil {
		return fmt.Errorf("marshal edit history: %w", err)
	}
	refinements, err := json.Marshal(orEmptySlice(opt.RefinementApplied))
	if err != nil {
		return fmt.Errorf("marshal refinements: %w", err)
	}
	metadata, err := json.Marshal(orEmptyMap(opt.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_options (`+optionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, opt.ID, opt.TopicID, opt.OptionType, opt.Content, opt.EditedContent, opt.EditedAt,
		opt.EditorID, editHistory, refinements, opt.PromptVersion, opt.Model, metadata, opt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert option: %w", err)
	}
	return nil
}

// UpdateOptionEdit persists the edit-related fields after a manual edit or
// AI refinement. Each mutation appends one edit history entry upstream.
func (s *PostgresStore) UpdateOptionEdit(ctx context.Context, opt ContentOption) error {
	editHistory, err := json.Marshal(opt.EditHistory)
	if err != nil {
		return fmt.Errorf("marshal edit history: %w", err)
	}
	refinements, err := json.Marshal(orEmptySlice(opt.RefinementApplied))
	if err != nil {
		return fmt.Errorf("marshal refinements: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE content_options
		SET edited_content=$2, edited_at=$3, editor_id=$4, edit_history=$5, refinement_applied=$6
		WHERE id=$1
	`, opt.ID, opt.EditedContent, opt.EditedAt, opt.EditorID, editHistory, refinements)
	if err != nil {
		return fmt.Errorf("update option edit: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) OptionsForTopic(ctx context.Context, topicID string) ([]ContentOption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+optionColumns+` FROM content_options WHERE topic_id=$1 ORDER BY created_at ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("options for topic %s: %w", topicID, err)
	}
	defer rows.Close()
	return collectOptions(rows)
}

// OptionsForTopics is the batched variant, capped at MaxBatchIDs ids.
func (s *PostgresStore) OptionsForTopics(ctx context.Context, topicIDs []string) ([]ContentOption, error) {
	if len(topicIDs) > MaxBatchIDs {
		return nil, ErrBatchTooLarge
	}
	if len(topicIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+optionColumns+` FROM content_options WHERE topic_id = ANY($1) ORDER BY created_at ASC
	`, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("options for topics: %w", err)
	}
	defer rows.Close()
	return collectOptions(rows)
}

func collectOptions(rows *sql.Rows) ([]ContentOption, error) {
	var options []ContentOption
	for rows.Next() {
		opt, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		options = append(options, opt)
	}
	return options, rows.Err()
}

func scanOption(row interface{ Scan(dest ...any) error }) (ContentOption, error) {
	var opt ContentOption
	var editHistory, refinements, metadata []byte
	err := row.Scan(&opt.ID, &opt.TopicID, &opt.OptionType, &opt.Content, &opt.EditedContent, &opt.EditedAt,
		&opt.EditorID, &editHistory, &refinements, &opt.PromptVersion, &opt.Model, &metadata, &opt.CreatedAt)
	if err != nil {
		return ContentOption{}, err
	}
	if err := unmarshalInto(editHistory, &opt.EditHistory); err != nil {
		return ContentOption{}, fmt.Errorf("decode edit history: %w", err)
	}
	if err := unmarshalInto(refinements, &opt.RefinementApplied); err != nil {
		return ContentOption{}, fmt.Errorf("decode refinements: %w", err)
	}
	if err := unmarshalInto(metadata, &opt.Metadata); err != nil {
		return ContentOption{}, fmt.Errorf("decode metadata: %w", err)
	}
	return opt, nil
}

// ---- Published content ----

func (s *PostgresStore) PublishedForTopic(ctx context.Context, topicID string) ([]PublishedContent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic_id, selected_option_id, platform, status, needs_ethics_review, scheduled_at, published_at, external_id, created_at
		FROM published_content WHERE topic_id=$1 ORDER BY created_at ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("published for topic %s: %w", topicID, err)
	}
	defer rows.Close()

	var items []PublishedContent
	for rows.Next() {
		var pub PublishedContent
		if err := rows.Scan(&pub.ID, &pub.TopicID, &pub.SelectedOptionID, &pub.Platform, &pub.Status,
			&pub.NeedsEthicsReview, &pub.ScheduledAt, &pub.PublishedAt, &pub.ExternalID, &pub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan published content: %w", err)
		}
		items = append(items, pub)
	}
	return items, rows.Err()
}

// ---- Content metrics ----

// MetricsForContent returns metrics snapshots for the given published
// content ids, capped at MaxBatchIDs ids per call.
func (s *PostgresStore) MetricsForContent(ctx context.Context, contentIDs []string) ([]ContentMetrics, error) {
	if len(contentIDs) > MaxBatchIDs {
		return nil, ErrBatchTooLarge
	}
	if len(contentIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_id, platform, impressions, views, click_through_rate, avg_view_duration_seconds, likes, comments, shares, collected_at
		FROM content_metrics WHERE content_id = ANY($1) ORDER BY collected_at ASC
	`, contentIDs)
	if err != nil {
		return nil, fmt.Errorf("metrics for content: %w", err)
	}
	defer rows.Close()

	var metrics []ContentMetrics
	for rows.Next() {
		var m ContentMetrics
		if err := rows.Scan(&m.ID, &m.ContentID, &m.Platform, &m.Impressions, &m.Views,
			&m.ClickThroughRate, &m.AvgViewDurationSeconds, &m.Likes, &m.Comments, &m.Shares, &m.CollectedAt); err != nil {
			return nil, fmt.Errorf("scan content metrics: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// ---- Audit events ----

const auditColumns = `id, stage, topic_id, content_id, system_decision, human_action, actor, created_at`

func insertAuditEvent(ctx context.Context, q querier, ev AuditEvent) error {
	systemDecision, err := json.Marshal(orEmptyMap(ev.SystemDecision))
	if err != nil {
		return fmt.Errorf("marshal system decision: %w", err)
	}
	var humanAction any
	if ev.HumanAction != nil {
		humanAction, err = json.Marshal(ev.HumanAction)
		if err != nil {
			return fmt.Errorf("marshal human action: %w", err)
		}
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.Stage, ev.TopicID, ev.ContentID, systemDecision, humanAction, ev.Actor, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns events newest-first, starting strictly after the
// cursor event when filter.AfterID is set. The caller controls has-more
// detection by requesting one row beyond its page size.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Stage != "" {
		query += ` AND stage=` + arg(filter.Stage)
	}
	if filter.TopicID != "" {
		query += ` AND topic_id=` + arg(filter.TopicID)
	}
	if filter.DateFrom != nil {
		query += ` AND created_at >= ` + arg(*filter.DateFrom)
	}
	if filter.DateTo != nil {
		query += ` AND created_at <= ` + arg(*filter.DateTo)
	}
	if filter.AfterID != "" {
		var cursorAt time.Time
		err := s.db.QueryRowContext(ctx, `SELECT created_at FROM audit_events WHERE id=$1`, filter.AfterID).Scan(&cursorAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolve audit cursor %s: %w", filter.AfterID, err)
		}
		query += ` AND (created_at, id) < (` + arg(cursorAt) + `, ` + arg(filter.AfterID) + `)`
	}

	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func (s *PostgresStore) AuditEventsForTopic(ctx context.Context, topicID string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_events WHERE topic_id=$1 ORDER BY created_at ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("audit events for topic %s: %w", topicID, err)
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func collectAuditEvents(rows *sql.Rows) ([]AuditEvent, error) {
	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var systemDecision, humanAction []byte
		if err := rows.Scan(&ev.ID, &ev.Stage, &ev.TopicID, &ev.ContentID, &systemDecision, &humanAction, &ev.Actor, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := unmarshalInto(systemDecision, &ev.SystemDecision); err != nil {
			return nil, fmt.Errorf("decode system decision: %w", err)
		}
		if err := unmarshalInto(humanAction, &ev.HumanAction); err != nil {
			return nil, fmt.Errorf("decode human action: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ---- Scoring weights ----

func (s *PostgresStore) ActiveWeights(ctx context.Context) (WeightsVersion, error) {
	return activeWeights(ctx, s.db)
}

func activeWeights(ctx context.Context, q querier) (WeightsVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, recency, velocity, audience_fit, integrity_penalty, is_manual_override, updated_by, created_at
		FROM scoring_weights ORDER BY created_at DESC, id DESC LIMIT 1
	`)
	var v WeightsVersion
	err := row.Scan(&v.ID, &v.Weights.Recency, &v.Weights.Velocity, &v.Weights.AudienceFit,
		&v.Weights.IntegrityPenalty, &v.IsManualOverride, &v.UpdatedBy, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WeightsVersion{}, ErrNotFound
	}
	if err != nil {
		return WeightsVersion{}, fmt.Errorf("active weights: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) WeightsHistory(ctx context.Context, limit int) ([]WeightsVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recency, velocity, audience_fit, integrity_penalty, is_manual_override, updated_by, created_at
		FROM scoring_weights ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("weights history: %w", err)
	}
	defer rows.Close()

	var versions []WeightsVersion
	for rows.Next() {
		var v WeightsVersion
		if err := rows.Scan(&v.ID, &v.Weights.Recency, &v.Weights.Velocity, &v.Weights.AudienceFit,
			&v.Weights.IntegrityPenalty, &v.IsManualOverride, &v.UpdatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan weights version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// ---- Job runs ----

const jobRunColumns = `id, job_type, status, started_at, completed_at, duration_seconds, topics_ingested, topics_saved, topics_processed, error_message, error_trace, metadata`

func (s *PostgresStore) InsertJobRun(ctx context.Context, run JobRun) error {
	metadata, err := json.Marshal(orEmptyMap(run.Metadata))
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_runs (`+jobRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.JobType, run.Status, run.StartedAt, run.CompletedAt, run.DurationSeconds,
		run.TopicsIngested, run.TopicsSaved, run.TopicsProcessed, run.ErrorMessage, run.ErrorTrace, metadata)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobRun(ctx context.Context, run JobRun) error {
	metadata, err := json.Marshal(orEmptyMap(run.Metadata))
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_runs
		SET status=$2, completed_at=$3, duration_seconds=$4, topics_ingested=$5, topics_saved=$6,
			topics_processed=$7, error_message=$8, error_trace=$9, metadata=$10
		WHERE id=$1
	`, run.ID, run.Status, run.CompletedAt, run.DurationSeconds, run.TopicsIngested,
		run.TopicsSaved, run.TopicsProcessed, run.ErrorMessage, run.ErrorTrace, metadata)
	if err != nil {
		return fmt.Errorf("update job run: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) JobRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobRunColumns+` FROM job_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []JobRun
	for rows.Next() {
		var run JobRun
		var metadata []byte
		if err := rows.Scan(&run.ID, &run.JobType, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.DurationSeconds, &run.TopicsIngested, &run.TopicsSaved, &run.TopicsProcessed,
			&run.ErrorMessage, &run.ErrorTrace, &metadata); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if err := unmarshalInto(metadata, &run.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) DeleteJobRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete job run: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Operators ----

func (s *PostgresStore) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at FROM operators WHERE email=$1
	`, email)
	var op Operator
	err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("get operator by email: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) GetOperator(ctx context.Context, id string) (Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at FROM operators WHERE id=$1
	`, id)
	var op Operator
	err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) InsertOperator(ctx context.Context, op Operator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, op.ID, op.Email, op.DisplayName, op.PasswordHash, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

// ---- Refresh sessions (Postgres fallback when Redis is unconfigured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, operatorID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, operator_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET operator_id=EXCLUDED.operator_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, operatorID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.email, o.display_name, o.password_hash, o.created_at
		FROM refresh_sessions rs
		JOIN operators o ON o.id = rs.operator_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	var op Operator
	err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Operator{}, ErrNotFound
	}
	if err != nil {
		return Operator{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return op, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- helpers ----

func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyStringMap(m map[string]string) map[string]string {
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
