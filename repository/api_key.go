package repository

import (
	"errors"

	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"gorm.io/gorm"
)

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindActiveByKey(key string) (*entity.APIKey, error) {
	var apiKey entity.APIKey
	err := r.db.Where("key = ? AND is_active = ?", key, true).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &apiKey, nil
}
