package prompts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

// Registry is the repository-backed store of PromptTemplates, in the style
// of the teacher's repository constructors: NewX(db, logger).
type Registry struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRegistry(db *sqlx.DB, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

// GetActive resolves the single active version for (task-type, name).
func (r *Registry) GetActive(ctx context.Context, taskType models.TaskType, name string) (*models.PromptTemplate, error) {
	var t models.PromptTemplate
	err := r.db.GetContext(ctx, &t, `
		SELECT id, task_type, name, version, system_text, user_template, active,
		       model_name, temperature, max_tokens, created_at, created_by, description
		FROM prompt_templates
		WHERE task_type = $1 AND name = $2 AND active = true`, taskType, name)
	if err == sql.ErrNoRows {
		return nil, apperrors.FailedToWithDetails("resolve active prompt", "prompts", name, fmt.Errorf("no active version for %s/%s", taskType, name))
	}
	if err != nil {
		return nil, apperrors.DatabaseError("get active prompt", err)
	}
	return &t, nil
}

// CreateNewVersion inserts a new, inactive version. Editors never mutate an
// existing row; they always copy-on-edit.
func (r *Registry) CreateNewVersion(ctx context.Context, t models.PromptTemplate) (*models.PromptTemplate, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.ID = uuid.NewString()
	t.Active = false
	t.CreatedAt = time.Now().UTC()

	var nextVersion int
	err := r.db.GetContext(ctx, &nextVersion, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_templates WHERE task_type = $1 AND name = $2`,
		t.TaskType, t.Name)
	if err != nil {
		return nil, apperrors.DatabaseError("determine next prompt version", err)
	}
	t.Version = nextVersion

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO prompt_templates
			(id, task_type, name, version, system_text, user_template, active, model_name, temperature, max_tokens, created_at, created_by, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.TaskType, t.Name, t.Version, t.SystemText, t.UserTemplate, t.Active,
		t.ModelName, t.Temperature, t.MaxTokens, t.CreatedAt, t.CreatedBy, t.Description)
	if err != nil {
		return nil, apperrors.DatabaseError("insert prompt template", err)
	}
	return &t, nil
}

// Activate atomically deactivates the current active version (if any) and
// activates the target, inside a single transaction.
func (r *Registry) Activate(ctx context.Context, taskType models.TaskType, name string, version int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("begin activate transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE prompt_templates SET active = false WHERE task_type = $1 AND name = $2 AND active = true`,
		taskType, name); err != nil {
		return apperrors.DatabaseError("deactivate current prompt version", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE prompt_templates SET active = true WHERE task_type = $1 AND name = $2 AND version = $3`,
		taskType, name, version)
	if err != nil {
		return apperrors.DatabaseError("activate prompt version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.FailedToWithDetails("activate prompt version", "prompts", name, fmt.Errorf("version %d does not exist", version))
	}

	return tx.Commit()
}

// Rollback is exactly Activate against an arbitrary prior version.
func (r *Registry) Rollback(ctx context.Context, taskType models.TaskType, name string, version int) error {
	return r.Activate(ctx, taskType, name, version)
}

// RenderActive resolves the active template for (taskType, name) and
// renders it with variables in one call, the common path extractors use.
func (r *Registry) RenderActive(ctx context.Context, taskType models.TaskType, name string, variables map[string]interface{}) (string, *models.PromptTemplate, error) {
	tmpl, err := r.GetActive(ctx, taskType, name)
	if err != nil {
		return "", nil, err
	}
	rendered, err := Render(tmpl.UserTemplate, variables)
	if err != nil {
		return "", tmpl, err
	}
	return rendered, tmpl, nil
}
