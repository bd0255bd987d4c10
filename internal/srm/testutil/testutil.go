package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitfantasy/nimo-srm/internal/middleware"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
)

const JWTSecret = "nimo-srm-jwt-secret-key-2024"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

var testDBSeq atomic.Int64

// SetupTestDB creates an isolated in-memory database per test
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// 每个测试一个独立命名库；cache=shared 让连接池里的所有连接看到同一份数据
	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&entity.Approver{},
		&entity.WorkflowTemplate{},
		&entity.ApprovalStepDef{},
		&entity.ApprovalRun{},
		&entity.ApprovalStep{},
		&entity.BRFQ{},
		&entity.RFQSupplier{},
		&entity.Supplier{},
		&entity.FieldRule{},
		&entity.ModificationPolicy{},
		&entity.ModificationRequest{},
		&entity.ActivityLog{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-srm",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken(
		"test-user-001",
		"Test Admin",
		"admin@test.com",
		[]string{"srm_admin"},
		[]string{"*"},
	)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedApprover creates a test approver in the database
func SeedApprover(t *testing.T, db *gorm.DB, id, name, email, role string) *entity.Approver {
	t.Helper()
	approver := &entity.Approver{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      role,
		Status:    entity.ApproverStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(approver).Error; err != nil {
		t.Fatalf("Failed to seed approver: %v", err)
	}
	return approver
}

// SeedBRFQ creates a test BRFQ in the database
func SeedBRFQ(t *testing.T, db *gorm.DB, id, code, title string, budget float64) *entity.BRFQ {
	t.Helper()
	brfq := &entity.BRFQ{
		ID:                id,
		Code:              code,
		Title:             title,
		Budget:            budget,
		Currency:          "CNY",
		ApprovalStatus:    entity.BRFQApprovalNone,
		PublishOnApproval: true,
		CreatedBy:         "test-user-001",
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := db.Create(brfq).Error; err != nil {
		t.Fatalf("Failed to seed BRFQ: %v", err)
	}
	return brfq
}
