package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"masthead/api/internal/audit"
	"masthead/api/internal/auth"
	"masthead/api/internal/blob"
	"masthead/api/internal/config"
	"masthead/api/internal/decision"
	"masthead/api/internal/genai"
	"masthead/api/internal/jobs"
	"masthead/api/internal/options"
	"masthead/api/internal/review"
	"masthead/api/internal/scoring"
	"masthead/api/internal/search"
	"masthead/api/internal/store"
	"masthead/api/internal/timeline"
	"masthead/api/internal/util"
)

// Session is an authenticated operator identity plus its tokens.
type Session struct {
	Token        string
	RefreshToken string
	OperatorID   string
	Email        string
	Name         string
	JTI          string
	ExpiresAt    time.Time
}

// Actor is the identity string recorded in audit events.
func (s Session) Actor() string {
	if s.Email != "" {
		return s.Email
	}
	return s.OperatorID
}

// dataStore is the full persistence surface the service composes over. The
// Postgres store satisfies it in production; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error

	GetTopic(ctx context.Context, id string) (store.TopicCandidate, error)
	InsertTopic(ctx context.Context, topic store.TopicCandidate) error
	ListTopics(ctx context.Context, filter store.TopicFilter) ([]store.TopicCandidate, error)

	InsertScoreRecord(ctx context.Context, rec store.ScoreRecord) error
	ScoresForTopics(ctx context.Context, topicIDs []string) ([]store.ScoreRecord, error)
	ScoresForTopic(ctx context.Context, topicID string) ([]store.ScoreRecord, error)

	GetOption(ctx context.Context, id string) (store.ContentOption, error)
	InsertOption(ctx context.Context, opt store.ContentOption) error
	UpdateOptionEdit(ctx context.Context, opt store.ContentOption) error
	OptionsForTopic(ctx context.Context, topicID string) ([]store.ContentOption, error)
	OptionsForTopics(ctx context.Context, topicIDs []string) ([]store.ContentOption, error)

	PublishedForTopic(ctx context.Context, topicID string) ([]store.PublishedContent, error)
	MetricsForContent(ctx context.Context, contentIDs []string) ([]store.ContentMetrics, error)

	ListAuditEvents(ctx context.Context, filter store.AuditFilter) ([]store.AuditEvent, error)
	AuditEventsForTopic(ctx context.Context, topicID string) ([]store.AuditEvent, error)

	ActiveWeights(ctx context.Context) (store.WeightsVersion, error)
	WeightsHistory(ctx context.Context, limit int) ([]store.WeightsVersion, error)

	InsertJobRun(ctx context.Context, run store.JobRun) error
	UpdateJobRun(ctx context.Context, run store.JobRun) error
	JobRuns(ctx context.Context, limit int) ([]store.JobRun, error)
	DeleteJobRun(ctx context.Context, id string) error

	GetOperatorByEmail(ctx context.Context, email string) (store.Operator, error)
	GetOperator(ctx context.Context, id string) (store.Operator, error)
	InsertOperator(ctx context.Context, op store.Operator) error

	SaveRefreshSession(ctx context.Context, tokenHash, operatorID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Operator, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// sessionStore holds refresh sessions: Redis in production, the Postgres
// fallback when Redis is unconfigured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, op store.Operator, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Operator, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessions adapts the Postgres refresh-session tables to sessionStore.
type pgSessions struct {
	db dataStore
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, op store.Operator, expiresAt time.Time) error {
	return p.db.SaveRefreshSession(ctx, tokenHash, op.ID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.Operator, error) {
	return p.db.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.db.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore

	review   *review.Service
	decision *decision.Service
	timeline *timeline.Service
	audit    *audit.Service
	exporter *audit.Exporter
	options  *options.Service
	tracker  *jobs.Tracker
	scorer   *jobs.Scorer
	search   *search.Service
}

// NewService wires the domain services over one data store. sessions may be
// nil (Postgres fallback), searchSvc may be nil (no search), blobs may be
// nil (no archive), gen may be a nil client (no generation).
func NewService(cfg config.Config, db dataStore, sessions sessionStore, searchSvc *search.Service, blobs *blob.Store, gen genai.Generator) *Service {
	if sessions == nil {
		sessions = pgSessions{db: db}
	}
	reviewSvc := review.NewService(db)
	auditSvc := audit.NewService(db)
	tracker := jobs.NewTracker(db)
	return &Service{
		cfg:      cfg,
		store:    db,
		sessions: sessions,
		review:   reviewSvc,
		decision: decision.NewService(db, reviewSvc.Resolver()),
		timeline: timeline.NewService(db),
		audit:    auditSvc,
		exporter: audit.NewExporter(auditSvc, blobs),
		options:  options.NewService(db, gen, cfg.GenModel),
		tracker:  tracker,
		scorer:   jobs.NewScorer(db, tracker),
		search:   searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- Auth ----

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	op, err := s.store.GetOperatorByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(op.PasswordHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	}
	return s.issueSession(ctx, op)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	op, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, op)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, op store.Operator) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   op.ID,
		Email: op.Email,
		Name:  op.DisplayName,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.ShortID()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), op, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		OperatorID:   op.ID,
		Email:        op.Email,
		Name:         op.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:      token,
		OperatorID: claims.Sub,
		Email:      claims.Email,
		Name:       claims.Name,
		JTI:        claims.JTI,
		ExpiresAt:  time.Unix(claims.Exp, 0),
	}, nil
}

// ---- Review reads ----

func (s *Service) TopicReviewBatch(ctx context.Context, status string, limit int) ([]review.RankedTopic, error) {
	return s.review.TopicReviewBatch(ctx, status, limit)
}

func (s *Service) TopicsWithOptions(ctx context.Context, topicID, status string) ([]review.TopicWithOptions, error) {
	return s.review.TopicsWithOptions(ctx, topicID, status)
}

func (s *Service) FlaggedItems(ctx context.Context, limit int) ([]review.FlaggedItem, error) {
	items, err := s.review.FlaggedItems(ctx, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []review.FlaggedItem{}
	}
	return items, nil
}

func (s *Service) SearchTopics(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// ---- Decisions ----

func (s *Service) DecideTopic(ctx context.Context, actor string, req decision.TopicDecision) (store.AuditEvent, error) {
	event, err := s.decision.ProcessTopicDecision(ctx, actor, req)
	if err != nil {
		return store.AuditEvent{}, err
	}
	s.reindexTopic(ctx, req.TopicID)
	return event, nil
}

// SelectOption applies the optional manual edit first, then records the
// selection decision transactionally.
func (s *Service) SelectOption(ctx context.Context, actor string, req decision.OptionSelection) (store.AuditEvent, error) {
	if req.EditedContent != nil && req.SelectedOptionID != "" {
		opt, err := s.store.GetOption(ctx, req.SelectedOptionID)
		if err == nil && *req.EditedContent != opt.Content {
			if _, err := s.options.ApplyManualEdit(ctx, req.SelectedOptionID, *req.EditedContent, actor); err != nil {
				return store.AuditEvent{}, err
			}
		}
	}
	return s.decision.ProcessOptionSelection(ctx, actor, req)
}

func (s *Service) DecideIntegrity(ctx context.Context, actor string, req decision.IntegrityDecision) (store.AuditEvent, error) {
	event, err := s.decision.ProcessIntegrityDecision(ctx, actor, req)
	if err != nil {
		return store.AuditEvent{}, err
	}
	s.reindexTopic(ctx, req.TopicID)
	return event, nil
}

func (s *Service) reindexTopic(ctx context.Context, topicID string) {
	if s.search == nil {
		return
	}
	if topic, err := s.store.GetTopic(ctx, topicID); err == nil {
		s.search.IndexTopic(topic)
	}
}

// ---- Timeline / audit ----

func (s *Service) Timeline(ctx context.Context, topicID string) ([]timeline.Entry, error) {
	return s.timeline.ForTopic(ctx, topicID)
}

func (s *Service) AuditEvents(ctx context.Context, q audit.Query) (audit.Page, error) {
	return s.audit.ListEvents(ctx, q)
}

func (s *Service) ExportAuditEvents(ctx context.Context, q audit.Query) (audit.ArchiveResult, error) {
	return s.exporter.Export(ctx, q)
}

// ---- Options ----

func (s *Service) RefineOption(ctx context.Context, actor, optionID, kind string) (options.RefineResult, error) {
	return s.options.Refine(ctx, optionID, kind, actor)
}

// ---- Weights ----

func (s *Service) Weights(ctx context.Context) (map[string]any, error) {
	active, err := s.store.ActiveWeights(ctx)
	if errors.Is(err, store.ErrNotFound) {
		active = store.WeightsVersion{Weights: scoring.DefaultWeights()}
	} else if err != nil {
		return nil, err
	}
	history, err := s.store.WeightsHistory(ctx, 20)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []store.WeightsVersion{}
	}
	return map[string]any{"active": active, "history": history}, nil
}

// UpdateWeights merges the partial update into the active weights and
// appends a new version. Merge and insert share one transaction so two
// concurrent updates cannot both base themselves on the same version.
func (s *Service) UpdateWeights(ctx context.Context, actor string, update scoring.WeightsUpdate) (store.WeightsVersion, error) {
	versionID := util.NewID("wts")
	now := time.Now().UTC()

	var version store.WeightsVersion
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current := scoring.DefaultWeights()
		if active, err := tx.ActiveWeights(ctx); err == nil {
			current = active.Weights
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		merged, err := scoring.Merge(current, update)
		if err != nil {
			return err
		}
		version = store.WeightsVersion{
			ID:               versionID,
			Weights:          merged,
			IsManualOverride: true,
			UpdatedBy:        actor,
			CreatedAt:        now,
		}
		return tx.InsertWeights(ctx, version)
	})
	if err != nil {
		return store.WeightsVersion{}, err
	}
	return version, nil
}

// ---- Jobs ----

// RunScoring triggers one scoring pass. A job failure is reported through
// the returned run record rather than an error; only a tracking failure
// propagates.
func (s *Service) RunScoring(ctx context.Context) (store.JobRun, error) {
	run, err := s.scorer.Run(ctx)
	if err != nil && run.ID == "" {
		return store.JobRun{}, err
	}
	return run, nil
}

func (s *Service) JobRuns(ctx context.Context, limit int) ([]store.JobRun, error) {
	runs, err := s.tracker.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []store.JobRun{}
	}
	return runs, nil
}

func (s *Service) DeleteJobRun(ctx context.Context, id string) error {
	return s.tracker.Delete(ctx, id)
}
