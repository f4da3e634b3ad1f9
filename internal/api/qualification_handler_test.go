package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"hireTrack/internal/cascade"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
	"hireTrack/internal/reconcile"
)

type fakeRemover struct {
	deleted []string
}

func (f *fakeRemover) DeleteObject(_ context.Context, objectKey string) error {
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := database.SeedRoles(db); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	return db
}

// fakeAuth 直接把 userID 写入上下文，绕开 JWT 校验。
func fakeAuth(userID uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	}
}

func newLinksRouter(t *testing.T, db *gorm.DB, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	evaluator := permission.NewEvaluator(db)
	cascades := cascade.NewEngine(db, &fakeRemover{}, nil)
	reconciler := reconcile.NewReconciler(db)
	handler := NewQualificationHandler(db, evaluator, cascades, reconciler)

	router := gin.New()
	router.PUT("/positions/:id/links", fakeAuth(userID), handler.ReconcileLinks)
	return router
}

func seedLinkFixture(t *testing.T, db *gorm.DB, status string) (chair database.User, position database.Position, qualification database.Qualification, round database.Round) {
	t.Helper()

	chair = database.User{Username: "chair", PasswordHash: "x"}
	if err := db.Create(&chair).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	position = database.Position{Title: "Staff Engineer", Status: status}
	if err := db.Create(&position).Error; err != nil {
		t.Fatalf("create position: %v", err)
	}
	assignment := database.RoleAssignment{UserID: chair.ID, PositionID: position.ID, RoleID: database.RoleIDSearchChair}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	qualification = database.Qualification{PositionID: position.ID, Level: database.QualificationMinimum, Description: "distributed systems"}
	if err := db.Create(&qualification).Error; err != nil {
		t.Fatalf("create qualification: %v", err)
	}
	round = database.Round{PositionID: position.ID, Title: "onsite"}
	if err := db.Create(&round).Error; err != nil {
		t.Fatalf("create round: %v", err)
	}
	return chair, position, qualification, round
}

func putLinks(t *testing.T, router *gin.Engine, positionID uint, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/positions/"+strconv.FormatUint(uint64(positionID), 10)+"/links", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestReconcileLinks_CreateThenIdempotent(t *testing.T) {
	db := newTestDB(t)
	chair, position, qualification, round := seedLinkFixture(t, db, database.PositionOpen)
	router := newLinksRouter(t, db, chair.ID)

	body := map[string]any{
		"links": []map[string]any{
			{"qualification_id": qualification.ID, "round_id": round.ID, "present": true},
		},
	}

	rec := putLinks(t, router, position.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("first reconcile status = %d, body %s", rec.Code, rec.Body.String())
	}
	var first Result
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if first.Code != CodeOK {
		t.Fatalf("first reconcile code = %s", first.Code)
	}

	rec = putLinks(t, router, position.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("second reconcile status = %d", rec.Code)
	}
	var envelope struct {
		Code    string           `json:"code"`
		Content reconcile.Result `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Content.Created != 0 || envelope.Content.Skipped != 1 {
		t.Fatalf("second reconcile not idempotent: %+v", envelope.Content)
	}
}

func TestReconcileLinks_RemovalLockedMapsToBadRequest(t *testing.T) {
	db := newTestDB(t)
	chair, position, qualification, round := seedLinkFixture(t, db, database.PositionInterviewing)
	router := newLinksRouter(t, db, chair.ID)

	link := database.QualificationForRound{QualificationID: qualification.ID, RoundID: round.ID}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("create link: %v", err)
	}

	body := map[string]any{
		"links": []map[string]any{
			{"qualification_id": qualification.ID, "round_id": round.ID, "present": false},
		},
	}
	rec := putLinks(t, router, position.ID, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Code != CodeBadRequest {
		t.Fatalf("code = %s, want %s", result.Code, CodeBadRequest)
	}
}

func TestReconcileLinks_NonMemberUnauthorized(t *testing.T) {
	db := newTestDB(t)
	_, position, qualification, round := seedLinkFixture(t, db, database.PositionOpen)

	outsider := database.User{Username: "outsider", PasswordHash: "x"}
	if err := db.Create(&outsider).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	router := newLinksRouter(t, db, outsider.ID)

	body := map[string]any{
		"links": []map[string]any{
			{"qualification_id": qualification.ID, "round_id": round.ID, "present": true},
		},
	}
	rec := putLinks(t, router, position.ID, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body %s", rec.Code, rec.Body.String())
	}
	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Code != CodeUnauthorized {
		t.Fatalf("code = %s, want %s", result.Code, CodeUnauthorized)
	}
}
