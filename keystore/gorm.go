package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/budget/crypto"
	"example.com/backstage/budget/models"
)

// GormKeyStore persists subject keys in the subject_keys table
type GormKeyStore struct {
	db *gorm.DB
}

func NewGormKeyStore(db *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: db}
}

// GenerateKey creates the subject's key. When another writer created one
// first, that key wins and is returned.
func (s *GormKeyStore) GenerateKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	key, err := crypto.NewKey()
	if err != nil {
		return nil, err
	}

	row := models.SubjectKey{SubjectID: subjectID, KeyMaterial: key}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	return s.GetKey(ctx, subjectID)
}

func (s *GormKeyStore) GetKey(ctx context.Context, subjectID uuid.UUID) ([]byte, error) {
	var row models.SubjectKey
	err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, crypto.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	return row.KeyMaterial, nil
}

func (s *GormKeyStore) DeleteKey(ctx context.Context, subjectID uuid.UUID) error {
	err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).Delete(&models.SubjectKey{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}
