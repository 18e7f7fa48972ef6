/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Keys look like hd_<48 hex chars>; the stored prefix is "hd_" plus
// the first 8, enough to recognize a key without revealing it.
const (
	apiKeyPrefix      = "hd_"
	apiKeyRandomBytes = 24
	apiKeyPrefixLen   = 11
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyExpired  = errors.New("api key expired")
	ErrAPIKeyRevoked  = errors.New("api key revoked")
	ErrUserNotFound   = errors.New("user not found")
)

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a key for a user. The plaintext is returned for
// one-time display; only its hash goes into the returned model.
func GenerateAPIKey(userID, name string, expiresIn time.Duration) (string, *models.APIKey, error) {
	raw := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := apiKeyPrefix + hex.EncodeToString(raw)

	key := &models.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashAPIKey(plaintext),
		KeyPrefix: plaintext[:apiKeyPrefixLen],
		ExpiresAt: time.Now().Add(expiresIn),
	}
	return plaintext, key, nil
}

// ValidateAPIKey resolves a presented key to claims, rejecting revoked
// and expired keys. The last-used stamp refreshes at most once a
// minute so hot integrations do not write on every request.
func ValidateAPIKey(db *gorm.DB, plaintext string) (*Claims, error) {
	var key models.APIKey
	result := db.Where("key_hash = ?", hashAPIKey(plaintext)).First(&key)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	now := time.Now()
	if key.Revoked() {
		return nil, ErrAPIKeyRevoked
	}
	if key.ExpiredAt(now) {
		return nil, ErrAPIKeyExpired
	}

	var user models.User
	result = db.First(&user, "id = ?", key.UserID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}

	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) > time.Minute {
		db.Model(&key).Update("last_used_at", now)
	}

	return &Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, nil
}

// RevokeAPIKey disables a key. Keys belong to their creator; revoking
// someone else's key reports not found.
func RevokeAPIKey(db *gorm.DB, keyID, userID string) error {
	result := db.Model(&models.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// ListAPIKeys returns a user's keys, newest first.
func ListAPIKeys(db *gorm.DB, userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}
