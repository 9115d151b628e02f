package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/slipway/internal/core/domain"
)

type ServerRepo struct {
	pool *pgxpool.Pool
}

func NewServerRepo(pool *pgxpool.Pool) *ServerRepo {
	return &ServerRepo{pool: pool}
}

func (r *ServerRepo) Create(ctx context.Context, s *domain.Server) error {
	query := `
		INSERT INTO servers (name, host, port, username, auth_kind, auth_secret, is_active, reachability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query,
		s.Name, s.Host, s.Port, s.Username, s.AuthKind, s.AuthSecret,
		s.Active, domain.ReachabilityUntested,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

const serverColumns = `
	id, name, host, port, username, auth_kind, auth_secret, is_active, reachability,
	created_at, updated_at
`

func scanServer(row pgx.Row) (*domain.Server, error) {
	var s domain.Server
	err := row.Scan(
		&s.ID, &s.Name, &s.Host, &s.Port, &s.Username, &s.AuthKind, &s.AuthSecret,
		&s.Active, &s.Reachability, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *ServerRepo) GetByID(ctx context.Context, id int64) (*domain.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`
	return scanServer(r.pool.QueryRow(ctx, query, id))
}

func (r *ServerRepo) List(ctx context.Context) ([]domain.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *ServerRepo) Update(ctx context.Context, s *domain.Server) error {
	query := `
		UPDATE servers SET
			name = $1, host = $2, port = $3, username = $4, auth_kind = $5,
			auth_secret = $6, is_active = $7, updated_at = NOW()
		WHERE id = $8
	`
	tag, err := r.pool.Exec(ctx, query,
		s.Name, s.Host, s.Port, s.Username, s.AuthKind, s.AuthSecret, s.Active, s.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ServerRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ServerRepo) UpdateReachability(ctx context.Context, id int64, reachability domain.Reachability) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE servers SET reachability = $1, updated_at = NOW() WHERE id = $2
	`, reachability, id)
	return err
}

// CreateGroup inserts the group and its ordered memberships in one
// transaction.
func (r *ServerRepo) CreateGroup(ctx context.Context, g *domain.ServerGroup, memberIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO server_groups (name, description, environment)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, g.Name, g.Description, g.Environment).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert server group: %w", err)
	}

	if err := insertMembers(ctx, tx, g.ID, memberIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertMembers(ctx context.Context, tx pgx.Tx, groupID int64, memberIDs []int64) error {
	for i, serverID := range memberIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO server_group_members (group_id, server_id, position)
			VALUES ($1, $2, $3)
		`, groupID, serverID, i)
		if err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	return nil
}

// GetGroup loads the group with its servers in membership order.
func (r *ServerRepo) GetGroup(ctx context.Context, id int64) (*domain.ServerGroup, error) {
	var g domain.ServerGroup
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, environment, created_at
		FROM server_groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.Environment, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+serverColumns+`
		FROM servers s
		INNER JOIN server_group_members m ON m.server_id = s.id
		WHERE m.group_id = $1
		ORDER BY m.position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		g.Servers = append(g.Servers, *s)
	}
	return &g, rows.Err()
}

func (r *ServerRepo) ListGroups(ctx context.Context) ([]domain.ServerGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, environment, created_at
		FROM server_groups ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ServerGroup
	for rows.Next() {
		var g domain.ServerGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Environment, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGroup rewrites the group row and replaces its memberships.
func (r *ServerRepo) UpdateGroup(ctx context.Context, g *domain.ServerGroup, memberIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE server_groups SET name = $1, description = $2, environment = $3
		WHERE id = $4
	`, g.Name, g.Description, g.Environment, g.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM server_group_members WHERE group_id = $1`, g.ID); err != nil {
		return err
	}
	if err := insertMembers(ctx, tx, g.ID, memberIDs); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *ServerRepo) DeleteGroup(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM server_groups WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
