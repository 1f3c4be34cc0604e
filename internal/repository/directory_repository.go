package repository

import (
	"context"

	"github.com/segyhp/reminder-engine/internal/domain"

	"github.com/jmoiron/sqlx"
)

type directoryRepository struct {
	db *sqlx.DB
}

func NewDirectoryRepository(db *sqlx.DB) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetEntitas(ctx context.Context, code string) (*domain.Entitas, error) {
	query := `
		SELECT code, name, emails
		FROM entitas
		WHERE code = $1
	`

	var entitas domain.Entitas
	err := r.db.GetContext(ctx, &entitas, query, code)
	if err != nil {
		return nil, err
	}

	return &entitas, nil
}

func (r *directoryRepository) GetCompanies(ctx context.Context, codes []string) ([]*domain.Company, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT code, name, emails
		FROM companies
		WHERE code IN (?)
	`, codes)
	if err != nil {
		return nil, err
	}

	query = r.db.Rebind(query)

	var companies []*domain.Company
	err = r.db.SelectContext(ctx, &companies, query, args...)
	if err != nil {
		return nil, err
	}

	return companies, nil
}
