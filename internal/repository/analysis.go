package repository

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"city-vibe/internal/models"
	"city-vibe/pkg/database"
)

// AnalysisStore persists vibe analysis results as an append-only cache.
type AnalysisStore interface {
	InsertAnalysis(ctx context.Context, result *models.AnalysisResult) error
	LatestAnalysis(ctx context.Context, cityID string) (*models.AnalysisResult, error)
	RecentAnalyses(ctx context.Context, limit int) ([]*models.AnalysisResult, error)
}

type analysisStore struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAnalysisStore creates a new analysis result store.
func NewAnalysisStore(db *database.DB, logger *zap.Logger) AnalysisStore {
	return &analysisStore{db: db, logger: logger}
}

func (s *analysisStore) InsertAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	res, err := s.db.ExecContext(ctx, "insert_analysis", `
		INSERT INTO analysis_results (city_id, computed_at, category, status, description, metrics_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		result.CityID,
		result.ComputedAt.UTC().Truncate(time.Second),
		result.Category,
		result.Status,
		result.Description,
		result.MetricsJSON,
	)
	if err != nil {
		return unavailable("insert analysis", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		result.ID = id
	}
	return nil
}

func (s *analysisStore) LatestAnalysis(ctx context.Context, cityID string) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	err := s.db.GetContext(ctx, "latest_analysis", &result, `
		SELECT id, city_id, computed_at, category, status, description, metrics_json
		FROM analysis_results
		WHERE city_id = ?
		ORDER BY computed_at DESC, id DESC
		LIMIT 1
	`, cityID)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "analysis_result", ID: cityID}
	}
	if err != nil {
		return nil, unavailable("latest analysis", err)
	}
	return &result, nil
}

func (s *analysisStore) RecentAnalyses(ctx context.Context, limit int) ([]*models.AnalysisResult, error) {
	var results []*models.AnalysisResult
	err := s.db.SelectContext(ctx, "recent_analyses", &results, `
		SELECT id, city_id, computed_at, category, status, description, metrics_json
		FROM analysis_results
		ORDER BY computed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, unavailable("recent analyses", err)
	}
	return results, nil
}
