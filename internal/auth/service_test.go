package auth_test

import (
	"testing"

	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/testutil"
	"github.com/hugh/quanty/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterAndLogin(t *testing.T) {
	setup := testutil.NewTestContext(t)
	defer setup.Cleanup()
	ctx := testutil.TestContext(t)

	dir := workspace.NewDirectory(setup.DB, audit.NewRecorder(setup.DB, testutil.Logger()), nil, testutil.Logger())
	svc := auth.NewService(setup.DB, setup.JWTService, dir)

	resp, err := svc.Register(ctx, auth.RegisterInput{Email: "New@X.com", Password: "password123", Name: "New"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "new@x.com", resp.User.Email)
	assert.NotEqual(t, "password123", resp.User.PasswordHash)

	personal := testutil.PersonalWorkspace(t, setup.DB, resp.User)
	assert.Equal(t, models.WorkspaceKindPersonal, personal.Kind)

	claims, err := setup.JWTService.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, auth.RegisterInput{Email: "new@x.com", Password: "password123"})
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, "email_taken", apperr.ReasonOf(err))

		var n int64
		setup.DB.Model(&models.Workspace{}).Where("kind = ?", models.WorkspaceKindPersonal).Count(&n)
		assert.Equal(t, int64(2), n)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := svc.Register(ctx, auth.RegisterInput{Email: "nope", Password: "password123"})
		assert.Equal(t, "email", apperr.ReasonOf(err))
		_, err = svc.Register(ctx, auth.RegisterInput{Email: "ok@x.com", Password: "short"})
		assert.Equal(t, "password", apperr.ReasonOf(err))
	})

	t.Run("login", func(t *testing.T) {
		got, err := svc.Login(ctx, auth.LoginInput{Email: "new@x.com", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, got.User.ID)
	})

	t.Run("login failures are uniform", func(t *testing.T) {
		_, err := svc.Login(ctx, auth.LoginInput{Email: "new@x.com", Password: "wrong-password"})
		assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
		_, err = svc.Login(ctx, auth.LoginInput{Email: "ghost@x.com", Password: "password123"})
		assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	})
}
