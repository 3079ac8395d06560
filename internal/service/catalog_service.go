package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

const testDefinitionTTL = 10 * time.Minute

// CatalogService serves test definitions with a Redis cache-aside layer. The
// cached definition includes answer keys and never leaves the server; the
// participant sees Paper only.
type CatalogService struct {
	testRepo *repository.TestRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(testRepo *repository.TestRepository, rdb *redis.Client, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		testRepo: testRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "catalog_service").Logger(),
	}
}

// GetTest returns the full definition of a test.
func (s *CatalogService) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestDefinitionKey(id.String())

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var t model.Test
		if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
			return &t, nil
		}
		s.log.Warn().Str("test_id", id.String()).Msg("Corrupt test cache entry, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Test cache unavailable, reading from database")
	}

	t, err := s.testRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}

	if encoded, err := json.Marshal(t); err == nil {
		if err := s.rdb.Set(ctx, key, encoded, testDefinitionTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache test definition")
		}
	}
	return t, nil
}

// Paper returns the participant-facing view of a test.
func (s *CatalogService) Paper(ctx context.Context, id uuid.UUID) (*model.TestPaper, error) {
	t, err := s.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	p := t.Paper()
	return &p, nil
}

// Invalidate drops the cached definition, used after seeding.
func (s *CatalogService) Invalidate(ctx context.Context, id uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.TestDefinitionKey(id.String())).Err()
}
