package invitation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/apperr"
	"github.com/hugh/quanty/internal/audit"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/internal/invitation"
	"github.com/hugh/quanty/internal/policy"
	"github.com/hugh/quanty/internal/testutil"
	"github.com/hugh/quanty/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeNotifier struct {
	mu     sync.Mutex
	tokens []string
}

func (n *fakeNotifier) InvitationIssued(ctx context.Context, inv *models.Invitation, workspaceName, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, token)
	return nil
}

type fixture struct {
	db       *gorm.DB
	dir      *workspace.Directory
	manager  *invitation.Manager
	notifier *fakeNotifier
	clock    *time.Time
	owner    *models.User
	ws       *models.Workspace
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{db: db, notifier: &fakeNotifier{}, clock: &now}

	recorder := audit.NewRecorder(db, testutil.Logger())
	f.dir = workspace.NewDirectory(db, recorder, nil, testutil.Logger())
	f.manager = invitation.NewManager(db, recorder, f.notifier, nil, testutil.Logger(),
		invitation.WithClock(func() time.Time { return *f.clock }),
	)
	f.owner = testutil.CreateTestUser(t, db, "a@x.com")
	f.ws = testutil.CreateTestWorkspace(t, db, f.owner, "Sales")
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestInvite(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "  B@X.com ", "editor")
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", issued.Invitation.Email)
	assert.Equal(t, models.RoleEditor, issued.Invitation.Role)
	assert.Equal(t, f.clock.Add(invitation.DefaultTTL), issued.Invitation.ExpiresAt)
	assert.GreaterOrEqual(t, len(issued.Token), 43)

	t.Run("only the token hash is stored", func(t *testing.T) {
		var stored models.Invitation
		require.NoError(t, f.db.First(&stored, "id = ?", issued.Invitation.ID).Error)
		assert.Equal(t, invitation.HashToken(issued.Token), stored.TokenHash)
		assert.NotEqual(t, issued.Token, stored.TokenHash)
	})

	t.Run("notifier receives the token", func(t *testing.T) {
		require.Len(t, f.notifier.tokens, 1)
		assert.Equal(t, issued.Token, f.notifier.tokens[0])
	})

	t.Run("second pending invite conflicts", func(t *testing.T) {
		_, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "viewer")
		require.Error(t, err)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, "invitation_pending", apperr.ReasonOf(err))
	})

	t.Run("existing member conflicts", func(t *testing.T) {
		_, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "a@x.com", "viewer")
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, "already_member", apperr.ReasonOf(err))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "not-an-email", "viewer")
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

		_, err = f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "c@x.com", "owner")
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
		assert.Equal(t, "role", apperr.ReasonOf(err))
	})

	t.Run("editor cannot invite", func(t *testing.T) {
		editor := testutil.CreateTestUser(t, f.db, "e@x.com")
		testutil.AddTestMember(t, f.db, f.ws, editor, models.RoleEditor)

		_, err := f.manager.Invite(ctx, editor.ID, f.ws.ID, "c@x.com", "viewer")
		assert.Equal(t, apperr.KindDenied, apperr.KindOf(err))
		assert.Equal(t, "insufficient_role", apperr.ReasonOf(err))
	})

	t.Run("outsider sees not found", func(t *testing.T) {
		outsider := testutil.CreateTestUser(t, f.db, "z@x.com")
		_, err := f.manager.Invite(ctx, outsider.ID, f.ws.ID, "c@x.com", "viewer")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("personal workspace takes no invitations", func(t *testing.T) {
		personal := testutil.PersonalWorkspace(t, f.db, f.owner)
		_, err := f.manager.Invite(ctx, f.owner.ID, personal.ID, "c@x.com", "viewer")
		assert.Equal(t, apperr.KindDenied, apperr.KindOf(err))
		assert.Equal(t, "personal_workspace", apperr.ReasonOf(err))
	})
}

func TestInvite_AfterExpiryReissues(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	first, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "viewer")
	require.NoError(t, err)

	f.advance(invitation.DefaultTTL + time.Minute)

	second, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "editor")
	require.NoError(t, err)
	assert.NotEqual(t, first.Invitation.ID, second.Invitation.ID)

	pending, err := f.manager.ListPending(ctx, f.owner.ID, f.ws.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.Invitation.ID, pending[0].ID)
}

// A invites b@x.com as editor; B signs in under a different identity with
// the same email and accepts.
func TestAccept_EndToEnd(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "editor")
	require.NoError(t, err)

	b := testutil.CreateTestUser(t, f.db, "b@x.com")

	member, err := f.manager.Accept(ctx, issued.Token, b)
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, member.Role)
	assert.Equal(t, f.ws.ID, member.WorkspaceID)

	var inv models.Invitation
	require.NoError(t, f.db.First(&inv, "id = ?", issued.Invitation.ID).Error)
	assert.False(t, inv.IsActive)
	require.NotNil(t, inv.AcceptedAt)
	assert.Nil(t, inv.PendingKey)

	_, _, err = f.dir.Authorize(ctx, b.ID, f.ws.ID, policy.ManageMembers())
	assert.Equal(t, apperr.KindDenied, apperr.KindOf(err))

	t.Run("second accept is invalid and adds nothing", func(t *testing.T) {
		_, err := f.manager.Accept(ctx, issued.Token, b)
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))

		var n int64
		f.db.Model(&models.Membership{}).Where("workspace_id = ? AND user_id = ?", f.ws.ID, b.ID).Count(&n)
		assert.Equal(t, int64(1), n)
	})
}

func TestAccept_ConcurrentDoubleAccept(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "viewer")
	require.NoError(t, err)
	b := testutil.CreateTestUser(t, f.db, "b@x.com")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Accept(ctx, issued.Token, b)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
	}
	assert.Equal(t, 1, ok)

	var count int64
	f.db.Model(&models.Membership{}).Where("workspace_id = ? AND user_id = ?", f.ws.ID, b.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAccept_Failures(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)
	b := testutil.CreateTestUser(t, f.db, "b@x.com")

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.manager.Accept(ctx, "nope", b)
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
	})

	t.Run("email mismatch", func(t *testing.T) {
		issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "c@x.com", "viewer")
		require.NoError(t, err)

		_, err = f.manager.Accept(ctx, issued.Token, b)
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
	})

	t.Run("expired", func(t *testing.T) {
		issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "viewer")
		require.NoError(t, err)

		f.advance(invitation.DefaultTTL + time.Second)
		_, err = f.manager.Accept(ctx, issued.Token, b)
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))
	})

	t.Run("revoked", func(t *testing.T) {
		d := testutil.CreateTestUser(t, f.db, "d@x.com")
		issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "d@x.com", "viewer")
		require.NoError(t, err)

		require.NoError(t, f.manager.Revoke(ctx, f.owner.ID, f.ws.ID, issued.Invitation.ID))
		_, err = f.manager.Accept(ctx, issued.Token, d)
		assert.Equal(t, apperr.KindInvalidOrExpired, apperr.KindOf(err))

		err = f.manager.Revoke(ctx, f.owner.ID, f.ws.ID, issued.Invitation.ID)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})
}

func TestAccept_ExistingMemberIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)

	issued, err := f.manager.Invite(ctx, f.owner.ID, f.ws.ID, "b@x.com", "editor")
	require.NoError(t, err)

	// b joins by another route before accepting.
	b := testutil.CreateTestUser(t, f.db, "b@x.com")
	testutil.AddTestMember(t, f.db, f.ws, b, models.RoleViewer)

	member, err := f.manager.Accept(ctx, issued.Token, b)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, member.Role)
}

func TestListPending_RequiresManageMembers(t *testing.T) {
	f := setup(t)
	ctx := testutil.TestContext(t)
	viewer := testutil.CreateTestUser(t, f.db, "v@x.com")
	testutil.AddTestMember(t, f.db, f.ws, viewer, models.RoleViewer)

	_, err := f.manager.ListPending(ctx, viewer.ID, f.ws.ID)
	assert.Equal(t, apperr.KindDenied, apperr.KindOf(err))

	_, err = f.manager.ListPending(ctx, f.owner.ID, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
