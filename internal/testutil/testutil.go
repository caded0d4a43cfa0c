package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/quanty/internal/auth"
	"github.com/hugh/quanty/internal/database"
	"github.com/hugh/quanty/internal/database/models"
	"github.com/hugh/quanty/pkg/util"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing. The pool is
// limited to one connection so goroutines in concurrency tests share the same
// database and serialize on it.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.Options(logger.Default.LogMode(logger.Silent)))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// CleanupTestDB closes the test database connection
func CleanupTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Logf("warning: failed to get sql.DB: %v", err)
		return
	}
	sqlDB.Close()
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return util.Discard()
}

// CreateTestUser creates a user with email and the personal workspace every
// user owns.
func CreateTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Base:         models.Base{ID: uuid.New()},
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}

	personalFor := user.ID
	personal := &models.Workspace{
		Name:        "Personal",
		Slug:        "personal-" + user.ID.String(),
		Kind:        models.WorkspaceKindPersonal,
		OwnerID:     user.ID,
		IsActive:    true,
		PersonalFor: &personalFor,
	}
	if err := db.Create(personal).Error; err != nil {
		t.Fatalf("failed to create personal workspace: %v", err)
	}
	AddTestMember(t, db, personal, user, models.RoleOwner)

	return user
}

// RandomEmail returns a unique address for tests that do not care about it.
func RandomEmail() string {
	return "test-" + uuid.New().String()[:8] + "@example.com"
}

// CreateTestWorkspace creates a team workspace owned by owner.
func CreateTestWorkspace(t *testing.T, db *gorm.DB, owner *models.User, name string) *models.Workspace {
	t.Helper()

	ws := &models.Workspace{
		Name:     name,
		Slug:     "test-ws-" + uuid.New().String()[:8],
		Kind:     models.WorkspaceKindTeam,
		OwnerID:  owner.ID,
		IsActive: true,
	}
	if err := db.Create(ws).Error; err != nil {
		t.Fatalf("failed to create test workspace: %v", err)
	}
	AddTestMember(t, db, ws, owner, models.RoleOwner)
	return ws
}

// PersonalWorkspace returns the personal workspace of user.
func PersonalWorkspace(t *testing.T, db *gorm.DB, user *models.User) *models.Workspace {
	t.Helper()

	var ws models.Workspace
	if err := db.Where("personal_for = ?", user.ID).First(&ws).Error; err != nil {
		t.Fatalf("failed to load personal workspace: %v", err)
	}
	return &ws
}

func AddTestMember(t *testing.T, db *gorm.DB, ws *models.Workspace, user *models.User, role models.Role) *models.Membership {
	t.Helper()

	m := &models.Membership{
		WorkspaceID: ws.ID,
		UserID:      user.ID,
		Role:        role,
		JoinedAt:    time.Now(),
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("failed to add test member: %v", err)
	}
	return m
}

// OwnerCount returns the number of owner memberships of a workspace.
func OwnerCount(t *testing.T, db *gorm.DB, workspaceID uuid.UUID) int64 {
	t.Helper()

	var n int64
	if err := db.Model(&models.Membership{}).
		Where("workspace_id = ? AND role = ?", workspaceID, models.RoleOwner).
		Count(&n).Error; err != nil {
		t.Fatalf("failed to count owners: %v", err)
	}
	return n
}

// CreateTestJWTService creates a JWT service for testing
func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour, "quanty")
}

// GenerateTestToken generates a valid JWT token for the given user
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}

	return token
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UnauthenticatedRequest creates an HTTP request without authentication
func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext returns a context that is cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB         *gorm.DB
	JWTService *auth.JWTService
	User       *models.User
	Token      string
}

// NewTestContext creates a complete test setup with DB, user, and token
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	user := CreateTestUser(t, db, RandomEmail())
	token := GenerateTestToken(t, jwtService, user)

	return &TestSetup{
		DB:         db,
		JWTService: jwtService,
		User:       user,
		Token:      token,
	}
}

// Cleanup closes the test database
func (ts *TestSetup) Cleanup() {
	if ts.DB != nil {
		sqlDB, err := ts.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}
