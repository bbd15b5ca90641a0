package store

import (
	"time"

	"masthead/api/internal/scoring"
)

// TopicCandidate statuses. A topic leaves "pending" exactly once via the
// decision state machine; "deferred" may be re-entered by repeated defers.
const (
	TopicPending  = "pending"
	TopicApproved = "approved"
	TopicRejected = "rejected"
	TopicDeferred = "deferred"
)

// Audit stages.
const (
	StageTopicSelection  = "topic_selection"
	StageOptionSelection = "option_selection"
	StageEthicsReview    = "ethics_review"
)

// ContentOption types.
const (
	OptionHook    = "hook"
	OptionScript  = "script"
	OptionOutline = "outline"
)

// TopicCandidate is an ingested item eligible for editorial review.
// Ingestion (external) creates rows; only the decision state machine
// mutates status, and integrity review may set reframe flags in Metadata.
type TopicCandidate struct {
	ID               string         `json:"id"`
	SourcePlatform   string         `json:"source_platform"`
	SourceURL        string         `json:"source_url,omitempty"`
	Title            string         `json:"title"`
	RawPayload       map[string]any `json:"raw_payload,omitempty"`
	Entities         []string       `json:"entities"`
	TopicCluster     string         `json:"topic_cluster"`
	DetectedLanguage string         `json:"detected_language,omitempty"`
	Status           string         `json:"status"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ScoreRecord is one scoring run's evaluation of a topic. Append-only; the
// "current" record for a topic is the one with the greatest created_at.
type ScoreRecord struct {
	ID         string             `json:"id"`
	TopicID    string             `json:"topic_id"`
	Score      float64            `json:"score"`
	Components scoring.Components `json:"components"`
	Reasoning  map[string]string  `json:"reasoning,omitempty"`
	Weights    scoring.Weights    `json:"weights"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	RunID      string             `json:"run_id"`
	CreatedAt  time.Time          `json:"created_at"`
}

// WeightsVersion is one append-only entry in the scoring weights history.
type WeightsVersion struct {
	ID               string          `json:"id"`
	Weights          scoring.Weights `json:"weights"`
	IsManualOverride bool            `json:"is_manual_override"`
	UpdatedBy        string          `json:"updated_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

// EditRecord is one entry in a content option's edit history.
type EditRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Editor         string    `json:"editor"`
	ChangeType     string    `json:"change_type"`
	RefinementType string    `json:"refinement_type,omitempty"`
}

// ContentOption is a generated hook/script/outline candidate for a topic.
type ContentOption struct {
	ID                string         `json:"id"`
	TopicID           string         `json:"topic_id"`
	OptionType        string         `json:"option_type"`
	Content           string         `json:"content"`
	EditedContent     *string        `json:"edited_content,omitempty"`
	EditedAt          *time.Time     `json:"edited_at,omitempty"`
	EditorID          string         `json:"editor_id,omitempty"`
	EditHistory       []EditRecord   `json:"edit_history,omitempty"`
	RefinementApplied []string       `json:"refinement_applied,omitempty"`
	PromptVersion     string         `json:"prompt_version,omitempty"`
	Model             string         `json:"model,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// PublishedContent is created only when a human marks a topic ready.
// Scheduling and publication fields are filled by downstream publishing.
type PublishedContent struct {
	ID                string     `json:"id"`
	TopicID           string     `json:"topic_id"`
	SelectedOptionID  string     `json:"selected_option_id"`
	Platform          string     `json:"platform"`
	Status            string     `json:"status"`
	NeedsEthicsReview bool       `json:"needs_ethics_review"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	ExternalID        *string    `json:"external_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// AuditEvent is an immutable record of one decision: the system proposal
// and the human action, written in the same transaction as the entity
// mutation it documents.
type AuditEvent struct {
	ID             string         `json:"id"`
	Stage          string         `json:"stage"`
	TopicID        *string        `json:"topic_id,omitempty"`
	ContentID      *string        `json:"content_id,omitempty"`
	SystemDecision map[string]any `json:"system_decision"`
	HumanAction    map[string]any `json:"human_action,omitempty"`
	Actor          string         `json:"actor"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ContentMetrics is a performance snapshot for one published content item,
// written by external collectors.
type ContentMetrics struct {
	ID                     string    `json:"id"`
	ContentID              string    `json:"content_id"`
	Platform               string    `json:"platform"`
	Impressions            int       `json:"impressions"`
	Views                  int       `json:"views"`
	ClickThroughRate       *float64  `json:"click_through_rate,omitempty"`
	AvgViewDurationSeconds *float64  `json:"avg_view_duration_seconds,omitempty"`
	Likes                  int       `json:"likes"`
	Comments               int       `json:"comments"`
	Shares                 int       `json:"shares"`
	CollectedAt            time.Time `json:"collected_at"`
}

// JobRun records one background job execution.
type JobRun struct {
	ID              string         `json:"id"`
	JobType         string         `json:"job_type"`
	Status          string         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	TopicsIngested  int            `json:"topics_ingested"`
	TopicsSaved     int            `json:"topics_saved"`
	TopicsProcessed int            `json:"topics_processed"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorTrace      string         `json:"error_trace,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Operator is a console user who can authenticate and record decisions.
type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
