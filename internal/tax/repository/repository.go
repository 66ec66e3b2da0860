package repository

import (
	"context"
	"errors"

	taxdomain "github.com/smallbiznis/payrail/internal/tax/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) taxdomain.Repository {
	return &repo{db: db}
}

func (r *repo) GetActiveTaxDefinition(ctx context.Context) (*taxdomain.TaxDefinition, error) {
	var def taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("created_at ASC").
		First(&def).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (r *repo) Create(ctx context.Context, def *taxdomain.TaxDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(def).Error
}
