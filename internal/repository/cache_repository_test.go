package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "insights")

	var dest map[string]interface{}
	err := repo.Get(context.Background(), "course:7", &dest)
	require.ErrorIs(t, err, appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(context.Background(), "course:7", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, repo.Delete(context.Background(), "course:7"))
	require.NoError(t, repo.Close())
}

func TestCacheRepositoryKeyNamespace(t *testing.T) {
	require.Equal(t, "insights:course:7", NewCacheRepository(nil, "insights").key("course:7"))
	require.Equal(t, "course:7", NewCacheRepository(nil, "").key("course:7"))
}
