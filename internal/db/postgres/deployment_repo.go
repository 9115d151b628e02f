package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/slipway/internal/core/domain"
)

type DeploymentRepo struct {
	pool *pgxpool.Pool
}

func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

// Create inserts the deployment and its server-group selections in one
// transaction, preserving selection order.
func (r *DeploymentRepo) Create(ctx context.Context, d *domain.Deployment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO deployments (project_id, branch, deployment_type, status, progress, environment, rollback_from, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		d.ProjectID, d.Branch, d.Kind, d.Status, d.Status.Progress(),
		d.Environment, d.RollbackFrom, d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}

	for i, groupID := range d.ServerGroupIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO deployment_server_groups (deployment_id, group_id, position)
			VALUES ($1, $2, $3)
		`, d.ID, groupID, i)
		if err != nil {
			return fmt.Errorf("insert server group selection: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const deploymentColumns = `
	id, project_id, branch, deployment_type, status, progress, current_step,
	commit_hash, commit_message, rollback_from, environment, error_message,
	created_at, created_by
`

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.Branch, &d.Kind, &d.Status, &d.Progress,
		&d.CurrentStep, &d.CommitHash, &d.CommitMessage, &d.RollbackFrom,
		&d.Environment, &d.ErrorMessage, &d.CreatedAt, &d.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DeploymentRepo) GetByID(ctx context.Context, id int64) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT group_id FROM deployment_server_groups
		WHERE deployment_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var groupID int64
		if err := rows.Scan(&groupID); err != nil {
			return nil, err
		}
		d.ServerGroupIDs = append(d.ServerGroupIDs, groupID)
	}
	return d, rows.Err()
}

// List returns the most recent deployments matching the filter, newest
// first.
func (r *DeploymentRepo) List(ctx context.Context, f domain.DeploymentFilter) ([]domain.Deployment, error) {
	var conds []string
	var args []any
	if f.ProjectID != 0 {
		args = append(args, f.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if f.Environment != "" {
		args = append(args, f.Environment)
		conds = append(conds, fmt.Sprintf("environment = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM deployments %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d
	`, deploymentColumns, where, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateStatus persists the status with its derived progress and step label.
// The error message is only written when non-empty so stage transitions do
// not erase an earlier failure note. Terminal rows are never overwritten: a
// transition racing a just-finished deployment is a no-op, keeping the
// status machine monotonic.
func (r *DeploymentRepo) UpdateStatus(ctx context.Context, id int64, status domain.DeploymentStatus, errorMessage string) error {
	step := strings.ToUpper(string(status))
	var err error
	if errorMessage != "" {
		_, err = r.pool.Exec(ctx, `
			UPDATE deployments
			SET status = $1, progress = $2, current_step = $3, error_message = $4
			WHERE id = $5 AND status NOT IN ('success', 'failed', 'cancelled')
		`, status, status.Progress(), step, errorMessage, id)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE deployments
			SET status = $1, progress = $2, current_step = $3
			WHERE id = $4 AND status NOT IN ('success', 'failed', 'cancelled')
		`, status, status.Progress(), step, id)
	}
	return err
}

func (r *DeploymentRepo) SetCommit(ctx context.Context, id int64, hash, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deployments SET commit_hash = $1, commit_message = $2 WHERE id = $3
	`, hash, message, id)
	return err
}

// FailNonTerminal marks every non-terminal deployment FAILED; the startup
// reconcile pass uses it to close out work orphaned by a restart.
func (r *DeploymentRepo) FailNonTerminal(ctx context.Context, errorMessage string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deployments
		SET status = 'failed', progress = 0, error_message = $1
		WHERE status NOT IN ('success', 'failed', 'cancelled')
	`, errorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *DeploymentRepo) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	query := `
		INSERT INTO deployment_artifacts (deployment_id, file_path, file_size, checksum)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.pool.QueryRow(ctx, query,
		a.DeploymentID, a.FilePath, a.FileSize, a.Checksum,
	).Scan(&a.ID, &a.CreatedAt)
}

func (r *DeploymentRepo) GetArtifact(ctx context.Context, deploymentID int64) (*domain.Artifact, error) {
	query := `
		SELECT id, deployment_id, file_path, file_size, checksum, created_at
		FROM deployment_artifacts WHERE deployment_id = $1
	`
	var a domain.Artifact
	err := r.pool.QueryRow(ctx, query, deploymentID).Scan(
		&a.ID, &a.DeploymentID, &a.FilePath, &a.FileSize, &a.Checksum, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListArtifactPathsByProject returns every artifact file path recorded for
// the project, newest first. The reaper consumes this.
func (r *DeploymentRepo) ListArtifactPathsByProject(ctx context.Context, projectID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.file_path
		FROM deployment_artifacts a
		INNER JOIN deployments d ON a.deployment_id = d.id
		WHERE d.project_id = $1
		ORDER BY a.created_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
