package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/slipway/internal/core/domain"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	hc, err := json.Marshal(p.HealthCheck)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO projects (
			name, description, git_url, git_token, git_username, git_password, git_ssh_key,
			project_type, build_command, install_command, auto_install, output_dir,
			upload_path, restart_script_path, restart_only_script_path, environment, health_check
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		p.Name, p.Description, p.GitURL, p.GitToken, p.GitUsername, p.GitPassword, p.GitSSHKey,
		p.Kind, p.BuildCommand, p.InstallCommand, p.AutoInstall, p.OutputDir,
		p.UploadPath, p.RestartScriptPath, p.RestartOnlyScriptPath, p.Environment, hc,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

const projectColumns = `
	id, name, description, git_url, git_token, git_username, git_password, git_ssh_key,
	project_type, build_command, install_command, auto_install, output_dir,
	upload_path, restart_script_path, restart_only_script_path, environment, health_check,
	created_at, updated_at
`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var hc []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.GitURL, &p.GitToken, &p.GitUsername,
		&p.GitPassword, &p.GitSSHKey, &p.Kind, &p.BuildCommand, &p.InstallCommand,
		&p.AutoInstall, &p.OutputDir, &p.UploadPath, &p.RestartScriptPath,
		&p.RestartOnlyScriptPath, &p.Environment, &hc, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(hc) > 0 {
		if err := json.Unmarshal(hc, &p.HealthCheck); err != nil {
			return nil, fmt.Errorf("decode health check config: %w", err)
		}
	}
	return &p, nil
}

func (r *ProjectRepo) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, id))
}

func (r *ProjectRepo) List(ctx context.Context) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *ProjectRepo) Update(ctx context.Context, p *domain.Project) error {
	hc, err := json.Marshal(p.HealthCheck)
	if err != nil {
		return err
	}
	query := `
		UPDATE projects SET
			name = $1, description = $2, git_url = $3, git_token = $4, git_username = $5,
			git_password = $6, git_ssh_key = $7, project_type = $8, build_command = $9,
			install_command = $10, auto_install = $11, output_dir = $12, upload_path = $13,
			restart_script_path = $14, restart_only_script_path = $15, environment = $16,
			health_check = $17, updated_at = NOW()
		WHERE id = $18
	`
	tag, err := r.pool.Exec(ctx, query,
		p.Name, p.Description, p.GitURL, p.GitToken, p.GitUsername, p.GitPassword,
		p.GitSSHKey, p.Kind, p.BuildCommand, p.InstallCommand, p.AutoInstall,
		p.OutputDir, p.UploadPath, p.RestartScriptPath, p.RestartOnlyScriptPath,
		p.Environment, hc, p.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProjectRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
