package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

type PlatformSettingsStore struct {
	db DB
}

func NewPlatformSettingsStore(db DB) *PlatformSettingsStore {
	return &PlatformSettingsStore{db: db}
}

// GetBool reads a boolean platform flag, falling back when the key is unset.
func (s *PlatformSettingsStore) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `
		SELECT value FROM platform_settings WHERE key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return parsed, nil
}
