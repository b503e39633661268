package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/store"
)

func seed(t *testing.T) (*store.SQLiteStore, *domain.Project) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	p := &domain.Project{UserID: "u1", Title: "Bread", RawIdea: "Sell surplus bread", Status: domain.ProjectReady}
	require.NoError(t, repo.CreateProject(ctx, p))
	return repo, p
}

func TestBuildSummaryWithoutSessions(t *testing.T) {
	repo, p := seed(t)

	got, err := BuildSummary(context.Background(), repo, p, 10)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ProjectID)
	assert.Nil(t, got.ViabilityScore)
	assert.Empty(t, got.Sessions)
}

func TestBuildSummaryAndExport(t *testing.T) {
	repo, p := seed(t)
	ctx := context.Background()

	sess, err := repo.CreateSession(ctx, &domain.Session{
		ProjectID: p.ID, UserID: p.UserID, Kind: domain.KindAnalysis, RawIdea: p.RawIdea,
	})
	require.NoError(t, err)
	sess.Phase = domain.PhaseBlueprintReady
	require.NoError(t, repo.SaveTurn(ctx, sess,
		&domain.ChatMessage{Role: domain.RoleUser, Content: "Here is my idea"},
		&domain.ChatMessage{Role: domain.RoleAssistant, Content: "Viability report: 72/100"},
	))
	require.NoError(t, repo.UpsertPlan(ctx, p.ID, &domain.BusinessPlan{
		ProblemStatement: "Waste", ViabilityScore: 72, Recommendation: domain.RecommendViable,
	}))

	summary, err := BuildSummary(ctx, repo, p, 10)
	require.NoError(t, err)
	require.NotNil(t, summary.ViabilityScore)
	assert.Equal(t, 72, *summary.ViabilityScore)
	assert.Equal(t, domain.RecommendViable, summary.Recommendation)
	require.Len(t, summary.Sessions, 1)
	assert.Equal(t, SessionSummary{
		Kind:           domain.KindAnalysis,
		Phase:          domain.PhaseBlueprintReady,
		UserTurnCount:  1,
		RemainingTurns: 9,
		UpdatedAt:      summary.Sessions[0].UpdatedAt,
	}, summary.Sessions[0])

	exp, err := BuildExport(ctx, repo, p)
	require.NoError(t, err)
	require.NotNil(t, exp.Plan)
	require.Len(t, exp.Sessions, 1)
	assert.Len(t, exp.Sessions[0].Messages, 2)
	assert.Equal(t, domain.RoleUser, exp.Sessions[0].Messages[0].Role)
	assert.Equal(t, 1, exp.Sessions[0].UserTurnCount)
}
