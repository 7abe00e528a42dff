package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veritas-engine/veritas/pkg/errkind"
	"github.com/veritas-engine/veritas/pkg/models"
)

const defaultListLimit = 100

// PostgresStore is the primary persistence backend.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens the database, applies migrations, and returns the
// ready store.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "database unavailable", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already open handle (useful for tests).
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the underlying handle so the retrieval backends can share the
// connection pool.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

type corpusRow struct {
	ChunkID    string          `db:"chunk_id"`
	DocumentID string          `db:"document_id"`
	Content    string          `db:"content"`
	Metadata   json.RawMessage `db:"metadata"`
}

// EvidenceChunks loads the whole chunk corpus. Used once at startup to
// hydrate the in-memory sparse index.
func (s *PostgresStore) EvidenceChunks(ctx context.Context) ([]models.EvidenceChunk, error) {
	var rows []corpusRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chunk_id, document_id, content, metadata FROM evidence_chunks`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "failed to load evidence chunks", err)
	}
	chunks := make([]models.EvidenceChunk, 0, len(rows))
	for _, r := range rows {
		c := models.EvidenceChunk{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
		}
		if len(r.Metadata) > 0 {
			_ = json.Unmarshal(r.Metadata, &c.Metadata)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

type planRow struct {
	PlanID             string          `db:"plan_id"`
	RequestID          string          `db:"request_id"`
	SessionID          string          `db:"session_id"`
	UserIdentity       string          `db:"user_identity"`
	ResearchQuestion   string          `db:"research_question"`
	QueryLanguage      string          `db:"query_language"`
	Status             string          `db:"status"`
	Databases          json.RawMessage `db:"databases"`
	SecurityLevel      string          `db:"security_level"`
	ProgressPercentage float64         `db:"progress_percentage"`
	TotalSteps         int             `db:"total_steps"`
	CompletedSteps     int             `db:"completed_steps"`
	PlanDocument       json.RawMessage `db:"plan_document"`
	ErrorMessage       string          `db:"error_message"`
	CreatedAt          time.Time       `db:"created_at"`
	StartedAt          *time.Time      `db:"started_at"`
	CompletedAt        *time.Time      `db:"completed_at"`
}

func toPlanRow(p *models.ResearchPlan) (*planRow, error) {
	row := &planRow{
		PlanID:             p.PlanID,
		RequestID:          p.RequestID,
		SessionID:          p.SessionID,
		UserIdentity:       p.UserIdentity,
		ResearchQuestion:   p.ResearchQuestion,
		QueryLanguage:      p.QueryLanguage,
		Status:             string(p.Status),
		SecurityLevel:      string(p.SecurityLevel),
		ProgressPercentage: p.ProgressPercentage,
		TotalSteps:         p.TotalSteps,
		CompletedSteps:     p.CompletedSteps,
		PlanDocument:       p.PlanDocument,
		ErrorMessage:       p.ErrorMessage,
		CreatedAt:          p.CreatedAt,
		StartedAt:          p.StartedAt,
		CompletedAt:        p.CompletedAt,
	}
	if len(p.Databases) > 0 {
		raw, err := json.Marshal(p.Databases)
		if err != nil {
			return nil, err
		}
		row.Databases = raw
	}
	return row, nil
}

func (r *planRow) toModel() (*models.ResearchPlan, error) {
	p := &models.ResearchPlan{
		PlanID:             r.PlanID,
		RequestID:          r.RequestID,
		SessionID:          r.SessionID,
		UserIdentity:       r.UserIdentity,
		ResearchQuestion:   r.ResearchQuestion,
		QueryLanguage:      r.QueryLanguage,
		Status:             models.PlanStatus(r.Status),
		SecurityLevel:      models.SecurityLevel(r.SecurityLevel),
		ProgressPercentage: r.ProgressPercentage,
		TotalSteps:         r.TotalSteps,
		CompletedSteps:     r.CompletedSteps,
		PlanDocument:       r.PlanDocument,
		ErrorMessage:       r.ErrorMessage,
		CreatedAt:          r.CreatedAt,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
	}
	if len(r.Databases) > 0 {
		if err := json.Unmarshal(r.Databases, &p.Databases); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SavePlan inserts the plan or replaces its mutable fields.
func (s *PostgresStore) SavePlan(ctx context.Context, plan *models.ResearchPlan, _ Consistency) error {
	row, err := toPlanRow(plan)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, "encode plan", err)
	}
	const q = `
		INSERT INTO research_plans (
			plan_id, request_id, session_id, user_identity, research_question,
			query_language, status, databases, security_level,
			progress_percentage, total_steps, completed_steps, plan_document,
			error_message, created_at, started_at, completed_at
		) VALUES (
			:plan_id, :request_id, :session_id, :user_identity, :research_question,
			:query_language, :status, :databases, :security_level,
			:progress_percentage, :total_steps, :completed_steps, :plan_document,
			:error_message, :created_at, :started_at, :completed_at
		)
		ON CONFLICT (plan_id) DO UPDATE SET
			status              = EXCLUDED.status,
			progress_percentage = EXCLUDED.progress_percentage,
			total_steps         = EXCLUDED.total_steps,
			completed_steps     = EXCLUDED.completed_steps,
			plan_document       = EXCLUDED.plan_document,
			error_message       = EXCLUDED.error_message,
			started_at          = EXCLUDED.started_at,
			completed_at        = EXCLUDED.completed_at`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "save plan", err)
	}
	return nil
}

// GetPlan loads one plan by ID.
func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*models.ResearchPlan, error) {
	var row planRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM research_plans WHERE plan_id = $1`, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "load plan", err)
	}
	plan, err := row.toModel()
	if err != nil {
		return nil, errkind.Wrap(errkind.KindDataIntegrity, "decode plan", err)
	}
	return plan, nil
}

// ListPlans returns plans matching the filters, newest first.
func (s *PostgresStore) ListPlans(ctx context.Context, filters models.PlanFilters) ([]models.ResearchPlan, error) {
	query := `SELECT * FROM research_plans WHERE 1=1`
	var args []any

	if filters.Status != "" {
		args = append(args, filters.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.SessionID != "" {
		args = append(args, filters.SessionID)
		query += ` AND session_id = $` + strconv.Itoa(len(args))
	}
	if filters.UserIdentity != "" {
		args = append(args, filters.UserIdentity)
		query += ` AND user_identity = $` + strconv.Itoa(len(args))
	}
	if filters.CreatedAfter != nil {
		args = append(args, *filters.CreatedAfter)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if filters.CreatedBefore != nil {
		args = append(args, *filters.CreatedBefore)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)
	if filters.Offset > 0 {
		query += ` OFFSET ` + strconv.Itoa(filters.Offset)
	}

	var rows []planRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "list plans", err)
	}
	plans := make([]models.ResearchPlan, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, errkind.Wrap(errkind.KindDataIntegrity, "decode plan", err)
		}
		plans = append(plans, *p)
	}
	return plans, nil
}

type stepRow struct {
	PlanID        string          `db:"plan_id"`
	StepID        string          `db:"step_id"`
	StepIndex     int             `db:"step_index"`
	Name          string          `db:"name"`
	StepType      string          `db:"step_type"`
	Capabilities  json.RawMessage `db:"capabilities"`
	Status        string          `db:"status"`
	Dependencies  json.RawMessage `db:"dependencies"`
	ParallelGroup string          `db:"parallel_group"`
	InputRef      string          `db:"input_ref"`
	Result        json.RawMessage `db:"result"`
	Confidence    float64         `db:"confidence"`
	QualityScore  float64         `db:"quality_score"`
	Error         string          `db:"error"`
	Attempts      int             `db:"attempts"`
	StartedAt     *time.Time      `db:"started_at"`
	CompletedAt   *time.Time      `db:"completed_at"`
	ExecutionMS   int64           `db:"execution_ms"`
}

func toStepRow(step *models.PlanStep) (*stepRow, error) {
	row := &stepRow{
		PlanID:        step.PlanID,
		StepID:        step.StepID,
		StepIndex:     step.Index,
		Name:          step.Name,
		StepType:      string(step.Type),
		Status:        string(step.Status),
		ParallelGroup: step.ParallelGroup,
		InputRef:      step.InputRef,
		Result:        step.Result,
		Confidence:    step.Confidence,
		QualityScore:  step.QualityScore,
		Error:         step.Error,
		Attempts:      step.Attempts,
		StartedAt:     step.StartedAt,
		CompletedAt:   step.CompletedAt,
		ExecutionMS:   step.ExecutionMS,
	}
	if len(step.Capabilities) > 0 {
		raw, err := json.Marshal(step.Capabilities)
		if err != nil {
			return nil, err
		}
		row.Capabilities = raw
	}
	if len(step.Dependencies) > 0 {
		raw, err := json.Marshal(step.Dependencies)
		if err != nil {
			return nil, err
		}
		row.Dependencies = raw
	}
	return row, nil
}

func (r *stepRow) toModel() (*models.PlanStep, error) {
	step := &models.PlanStep{
		PlanID:        r.PlanID,
		StepID:        r.StepID,
		Index:         r.StepIndex,
		Name:          r.Name,
		Type:          models.StepType(r.StepType),
		Status:        models.StepStatus(r.Status),
		ParallelGroup: r.ParallelGroup,
		InputRef:      r.InputRef,
		Result:        r.Result,
		Confidence:    r.Confidence,
		QualityScore:  r.QualityScore,
		Error:         r.Error,
		Attempts:      r.Attempts,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		ExecutionMS:   r.ExecutionMS,
	}
	if len(r.Capabilities) > 0 {
		if err := json.Unmarshal(r.Capabilities, &step.Capabilities); err != nil {
			return nil, err
		}
	}
	if len(r.Dependencies) > 0 {
		if err := json.Unmarshal(r.Dependencies, &step.Dependencies); err != nil {
			return nil, err
		}
	}
	return step, nil
}

// SaveStep inserts or replaces one step of a plan.
func (s *PostgresStore) SaveStep(ctx context.Context, step *models.PlanStep, _ Consistency) error {
	row, err := toStepRow(step)
	if err != nil {
		return errkind.Wrap(errkind.KindInternal, "encode step", err)
	}
	const q = `
		INSERT INTO research_plan_steps (
			plan_id, step_id, step_index, name, step_type, capabilities,
			status, dependencies, parallel_group, input_ref, result,
			confidence, quality_score, error, attempts,
			started_at, completed_at, execution_ms
		) VALUES (
			:plan_id, :step_id, :step_index, :name, :step_type, :capabilities,
			:status, :dependencies, :parallel_group, :input_ref, :result,
			:confidence, :quality_score, :error, :attempts,
			:started_at, :completed_at, :execution_ms
		)
		ON CONFLICT (plan_id, step_id) DO UPDATE SET
			status        = EXCLUDED.status,
			result        = EXCLUDED.result,
			confidence    = EXCLUDED.confidence,
			quality_score = EXCLUDED.quality_score,
			error         = EXCLUDED.error,
			attempts      = EXCLUDED.attempts,
			started_at    = EXCLUDED.started_at,
			completed_at  = EXCLUDED.completed_at,
			execution_ms  = EXCLUDED.execution_ms`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "save step", err)
	}
	return nil
}

// GetSteps returns the steps of a plan ordered by index.
func (s *PostgresStore) GetSteps(ctx context.Context, planID string) ([]models.PlanStep, error) {
	var rows []stepRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM research_plan_steps WHERE plan_id = $1 ORDER BY step_index`, planID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "load steps", err)
	}
	steps := make([]models.PlanStep, 0, len(rows))
	for i := range rows {
		st, err := rows[i].toModel()
		if err != nil {
			return nil, errkind.Wrap(errkind.KindDataIntegrity, "decode step", err)
		}
		steps = append(steps, *st)
	}
	return steps, nil
}

type resultRow struct {
	PlanID     string          `db:"plan_id"`
	StepID     string          `db:"step_id"`
	ResultData json.RawMessage `db:"result_data"`
	Summary    string          `db:"summary"`
	Confidence float64         `db:"confidence"`
	Quality    float64         `db:"quality"`
	Sources    json.RawMessage `db:"sources"`
	AgentID    string          `db:"agent_id"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// SaveStepResult replaces a step's result atomically; a retried step simply
// overwrites the previous attempt.
func (s *PostgresStore) SaveStepResult(ctx context.Context, result *models.StepResult, _ Consistency) error {
	row := &resultRow{
		PlanID:     result.PlanID,
		StepID:     result.StepID,
		ResultData: result.ResultData,
		Summary:    result.Summary,
		Confidence: result.Confidence,
		Quality:    result.Quality,
		AgentID:    result.AgentID,
		UpdatedAt:  time.Now(),
	}
	if len(result.Sources) > 0 {
		raw, err := json.Marshal(result.Sources)
		if err != nil {
			return errkind.Wrap(errkind.KindInternal, "encode step result", err)
		}
		row.Sources = raw
	}
	const q = `
		INSERT INTO step_results (
			plan_id, step_id, result_data, summary, confidence, quality,
			sources, agent_id, updated_at
		) VALUES (
			:plan_id, :step_id, :result_data, :summary, :confidence, :quality,
			:sources, :agent_id, :updated_at
		)
		ON CONFLICT (plan_id, step_id) DO UPDATE SET
			result_data = EXCLUDED.result_data,
			summary     = EXCLUDED.summary,
			confidence  = EXCLUDED.confidence,
			quality     = EXCLUDED.quality,
			sources     = EXCLUDED.sources,
			agent_id    = EXCLUDED.agent_id,
			updated_at  = EXCLUDED.updated_at`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "save step result", err)
	}
	return nil
}

// GetStepResults returns all step results of a plan.
func (s *PostgresStore) GetStepResults(ctx context.Context, planID string) ([]models.StepResult, error) {
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM step_results WHERE plan_id = $1 ORDER BY step_id`, planID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "load step results", err)
	}
	results := make([]models.StepResult, 0, len(rows))
	for _, r := range rows {
		res := models.StepResult{
			PlanID:     r.PlanID,
			StepID:     r.StepID,
			ResultData: r.ResultData,
			Summary:    r.Summary,
			Confidence: r.Confidence,
			Quality:    r.Quality,
			AgentID:    r.AgentID,
		}
		if len(r.Sources) > 0 {
			if err := json.Unmarshal(r.Sources, &res.Sources); err != nil {
				return nil, errkind.Wrap(errkind.KindDataIntegrity, "decode step result sources", err)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// AppendLog inserts one execution log row.
func (s *PostgresStore) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_log (plan_id, step_id, event_type, agent_id, payload, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.PlanID, entry.StepID, entry.EventType, entry.AgentID,
		entry.Payload, entry.Error, createdAt)
	if err != nil {
		return errkind.Wrap(errkind.KindResourceUnavailable, "append execution log", err)
	}
	return nil
}

type logRow struct {
	ID        int64           `db:"id"`
	PlanID    string          `db:"plan_id"`
	StepID    string          `db:"step_id"`
	EventType string          `db:"event_type"`
	AgentID   string          `db:"agent_id"`
	Payload   json.RawMessage `db:"payload"`
	Error     string          `db:"error"`
	CreatedAt time.Time       `db:"created_at"`
}

// GetLog returns the execution log of a plan in insertion order.
func (s *PostgresStore) GetLog(ctx context.Context, planID string) ([]models.ExecutionLogEntry, error) {
	var rows []logRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM execution_log WHERE plan_id = $1 ORDER BY id`, planID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindResourceUnavailable, "load execution log", err)
	}
	entries := make([]models.ExecutionLogEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, models.ExecutionLogEntry{
			ID:        r.ID,
			PlanID:    r.PlanID,
			StepID:    r.StepID,
			EventType: r.EventType,
			AgentID:   r.AgentID,
			Payload:   r.Payload,
			Error:     r.Error,
			CreatedAt: r.CreatedAt,
		})
	}
	return entries, nil
}
