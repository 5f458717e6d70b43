package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

const saltBytes = 32

type saltStore interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, key, value string) error
	InsertIfAbsent(ctx context.Context, key, value string) (bool, error)
}

// SaltProvider owns the process-wide anonymization salt. The salt is loaded or created
// on first use, then served from memory until Regenerate replaces it.
type SaltProvider struct {
	store  saltStore
	key    string
	logger *zap.Logger

	mu     sync.Mutex
	cached string
}

// NewSaltProvider constructs a provider persisting the salt under key.
func NewSaltProvider(store saltStore, key string, logger *zap.Logger) *SaltProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(key) == "" {
		key = "anonymization_salt"
	}
	return &SaltProvider{store: store, key: key, logger: logger}
}

// Get returns the active salt.
func (p *SaltProvider) Get(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" {
		return p.cached, nil
	}

	salt, err := p.load(ctx)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrSaltUnavailable.Code, appErrors.ErrSaltUnavailable.Status, appErrors.ErrSaltUnavailable.Message)
	}
	p.cached = salt
	return salt, nil
}

// Regenerate replaces the active salt. Every pseudonym issued under the previous salt
// stops matching new computations.
func (p *SaltProvider) Regenerate(ctx context.Context) (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrSaltUnavailable.Code, appErrors.ErrSaltUnavailable.Status, "failed to generate salt")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.Upsert(ctx, p.key, salt); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrSaltUnavailable.Code, appErrors.ErrSaltUnavailable.Status, "failed to persist salt")
	}
	p.cached = salt
	p.logger.Warn("anonymization salt regenerated", zap.String("setting", p.key))
	return salt, nil
}

func (p *SaltProvider) load(ctx context.Context) (string, error) {
	setting, err := p.store.Get(ctx, p.key)
	switch {
	case err == nil && setting != nil && setting.Value != "":
		return setting.Value, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	salt, err := GenerateSalt()
	if err != nil {
		return "", err
	}
	created, err := p.store.InsertIfAbsent(ctx, p.key, salt)
	if err != nil {
		return "", err
	}
	if created {
		p.logger.Info("anonymization salt created", zap.String("setting", p.key))
		return salt, nil
	}

	// Another process created the salt first.
	setting, err = p.store.Get(ctx, p.key)
	if err != nil {
		return "", err
	}
	if setting == nil || setting.Value == "" {
		return "", fmt.Errorf("setting %s is empty", p.key)
	}
	return setting.Value, nil
}

// GenerateSalt returns 256 bits of randomness, hex encoded.
func GenerateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
