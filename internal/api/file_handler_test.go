package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/permission"
)

func newFeedbackFileRouter(t *testing.T, db *gorm.DB, userID uint) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	evaluator := permission.NewEvaluator(db)
	handler := NewFileHandler(db, evaluator, nil, "", 0)

	router := gin.New()
	router.GET("/positions/:id/feedback-files/:fileID/download-link", fakeAuth(userID), handler.FeedbackFileURL)
	router.DELETE("/positions/:id/feedback-files/:fileID", fakeAuth(userID), handler.DeleteFeedbackFile)
	return router
}

// seedForeignFeedbackFile 造一个成员只参与 mine、而反馈附件挂在另一个职位下的局面。
func seedForeignFeedbackFile(t *testing.T, db *gorm.DB) (member database.User, mine database.Position, file database.FeedbackFile) {
	t.Helper()

	member = database.User{Username: "member", PasswordHash: "x"}
	if err := db.Create(&member).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}
	mine = database.Position{Title: "Mine", Status: database.PositionOpen}
	if err := db.Create(&mine).Error; err != nil {
		t.Fatalf("create position: %v", err)
	}
	assignment := database.RoleAssignment{UserID: member.ID, PositionID: mine.ID, RoleID: database.RoleIDMember}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	other := database.Position{Title: "Other", Status: database.PositionInterviewing}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("create other position: %v", err)
	}
	owner := database.User{Username: "owner", PasswordHash: "x"}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("create owner: %v", err)
	}
	candidate := database.Candidate{PositionID: other.ID, Name: "Ada"}
	if err := db.Create(&candidate).Error; err != nil {
		t.Fatalf("create candidate: %v", err)
	}
	round := database.Round{PositionID: other.ID, Title: "screen"}
	if err := db.Create(&round).Error; err != nil {
		t.Fatalf("create round: %v", err)
	}
	feedback := database.Feedback{UserID: owner.ID, CandidateID: candidate.ID, RoundID: round.ID, Notes: "solid"}
	if err := db.Create(&feedback).Error; err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	file = database.FeedbackFile{FeedbackID: feedback.ID, Name: "notes.pdf", ObjectKey: "feedback/1/notes.pdf"}
	if err := db.Create(&file).Error; err != nil {
		t.Fatalf("create feedback file: %v", err)
	}
	return member, mine, file
}

func feedbackFilePath(positionID, fileID uint) string {
	return "/positions/" + strconv.FormatUint(uint64(positionID), 10) +
		"/feedback-files/" + strconv.FormatUint(uint64(fileID), 10)
}

func TestFeedbackFileURL_CrossPositionNotFound(t *testing.T) {
	db := newTestDB(t)
	member, mine, file := seedForeignFeedbackFile(t, db)
	router := newFeedbackFileRouter(t, db, member.ID)

	req := httptest.NewRequest(http.MethodGet, feedbackFilePath(mine.ID, file.ID)+"/download-link", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body.String())
	}
	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Code != CodeNotFound {
		t.Fatalf("code = %s, want %s", result.Code, CodeNotFound)
	}

	var count int64
	if err := db.Model(&database.FeedbackFile{}).Count(&count).Error; err != nil {
		t.Fatalf("count files: %v", err)
	}
	if count != 1 {
		t.Fatalf("file row must survive, got %d rows", count)
	}
}

func TestDeleteFeedbackFile_CrossPositionNotFound(t *testing.T) {
	db := newTestDB(t)
	member, mine, file := seedForeignFeedbackFile(t, db)
	router := newFeedbackFileRouter(t, db, member.ID)

	req := httptest.NewRequest(http.MethodDelete, feedbackFilePath(mine.ID, file.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body.String())
	}

	var count int64
	if err := db.Model(&database.FeedbackFile{}).Count(&count).Error; err != nil {
		t.Fatalf("count files: %v", err)
	}
	if count != 1 {
		t.Fatalf("file row must survive, got %d rows", count)
	}
}
