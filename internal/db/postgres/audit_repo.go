package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/irgordon/slipway/internal/core/domain"
)

type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	query := `
		INSERT INTO audit_logs (user_id, action, resource_type, resource_id, details, ip_address, user_agent)
		VALUES (:user_id, :action, :resource_type, :resource_id, :details, :ip_address, :user_agent)
	`
	_, err := r.db.NamedExecContext(ctx, query, entry)
	return err
}

func (r *AuditRepo) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []domain.AuditLog
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM audit_logs ORDER BY created_at DESC LIMIT $1
	`, limit)
	return entries, err
}
