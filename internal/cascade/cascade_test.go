package cascade

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"hireTrack/internal/database"
)

type fakeStore struct {
	deleted []string
	failOn  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{failOn: map[string]error{}}
}

func (s *fakeStore) DeleteObject(_ context.Context, objectKey string) error {
	if err, ok := s.failOn[objectKey]; ok {
		return err
	}
	s.deleted = append(s.deleted, objectKey)
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
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, value any) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("create %T: %v", value, err)
	}
}

func count[T any](t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var model T
	var n int64
	q := db.Model(&model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

// 搭一个带两个轮次的 Position，供轮次级联范围测试使用。
func seedPositionWithRounds(t *testing.T, db *gorm.DB) (position database.Position, keep, doomed database.Round) {
	t.Helper()
	position = database.Position{Title: "Staff Engineer", Status: database.PositionInterviewing}
	mustCreate(t, db, &position)

	doomed = database.Round{PositionID: position.ID, Title: "phone screen"}
	keep = database.Round{PositionID: position.ID, Title: "onsite"}
	mustCreate(t, db, &doomed)
	mustCreate(t, db, &keep)
	return position, keep, doomed
}

func TestDeleteRound_ScopedToRound(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	engine := NewEngine(db, store, nil)
	ctx := context.Background()

	position, keep, doomed := seedPositionWithRounds(t, db)

	candidate := database.Candidate{PositionID: position.ID, Name: "Ada"}
	mustCreate(t, db, &candidate)
	qualification := database.Qualification{PositionID: position.ID, Level: database.QualificationMinimum}
	mustCreate(t, db, &qualification)

	for _, round := range []database.Round{doomed, keep} {
		mustCreate(t, db, &database.QualificationForRound{QualificationID: qualification.ID, RoundID: round.ID})
		feedback := database.Feedback{UserID: 1, CandidateID: candidate.ID, RoundID: round.ID, Notes: "ok"}
		mustCreate(t, db, &feedback)
		mustCreate(t, db, &database.FeedbackForQualification{
			FeedbackID:      feedback.ID,
			QualificationID: qualification.ID,
			RoundID:         round.ID,
			Score:           3,
		})
		mustCreate(t, db, &database.FeedbackFile{FeedbackID: feedback.ID, Name: "notes.pdf", ObjectKey: "feedback/k" + round.Title})
		mustCreate(t, db, &database.CandidateRoundNote{CandidateID: candidate.ID, RoundID: round.ID, Note: "note"})
	}

	if err := engine.DeleteRound(ctx, doomed.ID); err != nil {
		t.Fatalf("delete round: %v", err)
	}

	if n := count[database.Round](t, db, "id = ?", doomed.ID); n != 0 {
		t.Fatalf("round row should be gone, got %d", n)
	}
	if n := count[database.Feedback](t, db, "round_id = ?", doomed.ID); n != 0 {
		t.Fatalf("feedback for deleted round should be gone, got %d", n)
	}
	if n := count[database.FeedbackForQualification](t, db, "round_id = ?", doomed.ID); n != 0 {
		t.Fatalf("scores for deleted round should be gone, got %d", n)
	}
	if n := count[database.CandidateRoundNote](t, db, "round_id = ?", doomed.ID); n != 0 {
		t.Fatalf("notes for deleted round should be gone, got %d", n)
	}
	if n := count[database.QualificationForRound](t, db, "round_id = ?", doomed.ID); n != 0 {
		t.Fatalf("links for deleted round should be gone, got %d", n)
	}

	// 另一个轮次的数据完好。
	if n := count[database.Feedback](t, db, "round_id = ?", keep.ID); n != 1 {
		t.Fatalf("sibling round feedback touched, got %d", n)
	}
	if n := count[database.FeedbackForQualification](t, db, "round_id = ?", keep.ID); n != 1 {
		t.Fatalf("sibling round scores touched, got %d", n)
	}
	if n := count[database.CandidateRoundNote](t, db, "round_id = ?", keep.ID); n != 1 {
		t.Fatalf("sibling round notes touched, got %d", n)
	}

	if len(store.deleted) != 1 || store.deleted[0] != "feedback/kphone screen" {
		t.Fatalf("expected exactly the doomed round's file unlinked, got %v", store.deleted)
	}
}

func TestDeleteCandidate_RemovesFilesAndDependents(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	engine := NewEngine(db, store, nil)
	ctx := context.Background()

	position := database.Position{Title: "Lecturer", Status: database.PositionOpen}
	mustCreate(t, db, &position)
	round := database.Round{PositionID: position.ID, Title: "screen"}
	mustCreate(t, db, &round)

	candidate := database.Candidate{PositionID: position.ID, Name: "Grace"}
	mustCreate(t, db, &candidate)
	mustCreate(t, db, &database.CandidateFile{CandidateID: candidate.ID, Name: "cv.pdf", ObjectKey: "candidate/1/cv.pdf"})
	mustCreate(t, db, &database.CandidateStatus{CandidateID: candidate.ID, Decision: "hired"})
	mustCreate(t, db, &database.CandidateRoundNote{CandidateID: candidate.ID, RoundID: round.ID, Note: "strong"})

	feedback := database.Feedback{UserID: 2, CandidateID: candidate.ID, RoundID: round.ID}
	mustCreate(t, db, &feedback)
	mustCreate(t, db, &database.FeedbackForQualification{FeedbackID: feedback.ID, QualificationID: 9, RoundID: round.ID})
	mustCreate(t, db, &database.FeedbackFile{FeedbackID: feedback.ID, Name: "scan.png", ObjectKey: "feedback/2/scan.png"})

	if err := engine.DeleteCandidate(ctx, candidate.ID); err != nil {
		t.Fatalf("delete candidate: %v", err)
	}

	for _, check := range []struct {
		name string
		n    int64
	}{
		{"candidate", count[database.Candidate](t, db, "id = ?", candidate.ID)},
		{"candidate files", count[database.CandidateFile](t, db, "candidate_id = ?", candidate.ID)},
		{"candidate status", count[database.CandidateStatus](t, db, "candidate_id = ?", candidate.ID)},
		{"round notes", count[database.CandidateRoundNote](t, db, "candidate_id = ?", candidate.ID)},
		{"feedback", count[database.Feedback](t, db, "candidate_id = ?", candidate.ID)},
		{"scores", count[database.FeedbackForQualification](t, db, "feedback_id = ?", feedback.ID)},
		{"feedback files", count[database.FeedbackFile](t, db, "feedback_id = ?", feedback.ID)},
	} {
		if check.n != 0 {
			t.Fatalf("%s not cleaned up: %d rows left", check.name, check.n)
		}
	}

	if len(store.deleted) != 2 {
		t.Fatalf("expected 2 objects unlinked, got %v", store.deleted)
	}
}

func TestDeleteCandidate_FileRemovalFailureReported(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	store.failOn["candidate/1/cv.pdf"] = errors.New("backend down")
	engine := NewEngine(db, store, nil)

	position := database.Position{Title: "TA", Status: database.PositionOpen}
	mustCreate(t, db, &position)
	candidate := database.Candidate{PositionID: position.ID, Name: "Linus"}
	mustCreate(t, db, &candidate)
	mustCreate(t, db, &database.CandidateFile{CandidateID: candidate.ID, Name: "cv.pdf", ObjectKey: "candidate/1/cv.pdf"})

	err := engine.DeleteCandidate(context.Background(), candidate.ID)
	if !errors.Is(err, ErrCascadeFailed) {
		t.Fatalf("expected ErrCascadeFailed, got %v", err)
	}

	// 行删除已提交：失败只可能留下孤儿对象，不会留下悬挂外键。
	if n := count[database.Candidate](t, db, "id = ?", candidate.ID); n != 0 {
		t.Fatalf("rows must be committed before unlink, candidate still present")
	}
}

func TestDeleteQualification_ScopedToQualification(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newFakeStore(), nil)
	ctx := context.Background()

	position := database.Position{Title: "Researcher", Status: database.PositionOpen}
	mustCreate(t, db, &position)
	doomed := database.Qualification{PositionID: position.ID, Level: database.QualificationMinimum}
	keep := database.Qualification{PositionID: position.ID, Level: database.QualificationPreferred}
	mustCreate(t, db, &doomed)
	mustCreate(t, db, &keep)

	mustCreate(t, db, &database.QualificationForRound{QualificationID: doomed.ID, RoundID: 1})
	mustCreate(t, db, &database.QualificationForRound{QualificationID: keep.ID, RoundID: 1})
	mustCreate(t, db, &database.FeedbackForQualification{FeedbackID: 1, QualificationID: doomed.ID, RoundID: 1})
	mustCreate(t, db, &database.FeedbackForQualification{FeedbackID: 1, QualificationID: keep.ID, RoundID: 1})

	if err := engine.DeleteQualification(ctx, doomed.ID); err != nil {
		t.Fatalf("delete qualification: %v", err)
	}

	if n := count[database.Qualification](t, db, "id = ?", doomed.ID); n != 0 {
		t.Fatalf("qualification row should be gone")
	}
	if n := count[database.QualificationForRound](t, db, "qualification_id = ?", doomed.ID); n != 0 {
		t.Fatalf("links should be gone")
	}
	if n := count[database.FeedbackForQualification](t, db, "qualification_id = ?", keep.ID); n != 1 {
		t.Fatalf("sibling qualification scores touched")
	}
}

func TestDeletePosition_RemovesWholeSubtree(t *testing.T) {
	db := newTestDB(t)
	store := newFakeStore()
	engine := NewEngine(db, store, nil)
	ctx := context.Background()

	position := database.Position{Title: "Example", Status: database.PositionOpen, IsExample: true}
	mustCreate(t, db, &position)
	other := database.Position{Title: "Other", Status: database.PositionOpen}
	mustCreate(t, db, &other)

	round := database.Round{PositionID: position.ID, Title: "r1"}
	mustCreate(t, db, &round)
	qualification := database.Qualification{PositionID: position.ID, Level: database.QualificationMinimum}
	mustCreate(t, db, &qualification)
	candidate := database.Candidate{PositionID: position.ID, Name: "Ada"}
	mustCreate(t, db, &candidate)
	mustCreate(t, db, &database.CandidateFile{CandidateID: candidate.ID, Name: "cv", ObjectKey: "candidate/1/cv"})
	mustCreate(t, db, &database.RoleAssignment{UserID: 1, PositionID: position.ID, RoleID: database.RoleIDSearchChair})

	otherCandidate := database.Candidate{PositionID: other.ID, Name: "Sam"}
	mustCreate(t, db, &otherCandidate)

	if err := engine.DeletePosition(ctx, position.ID); err != nil {
		t.Fatalf("delete position: %v", err)
	}

	if n := count[database.Position](t, db, "id = ?", position.ID); n != 0 {
		t.Fatalf("position row should be gone")
	}
	if n := count[database.Round](t, db, "position_id = ?", position.ID); n != 0 {
		t.Fatalf("rounds should be gone")
	}
	if n := count[database.Qualification](t, db, "position_id = ?", position.ID); n != 0 {
		t.Fatalf("qualifications should be gone")
	}
	if n := count[database.Candidate](t, db, "position_id = ?", position.ID); n != 0 {
		t.Fatalf("candidates should be gone")
	}
	if n := count[database.RoleAssignment](t, db, "position_id = ?", position.ID); n != 0 {
		t.Fatalf("role assignments should be gone")
	}
	if n := count[database.Candidate](t, db, "position_id = ?", other.ID); n != 1 {
		t.Fatalf("unrelated position must be untouched")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "candidate/1/cv" {
		t.Fatalf("expected candidate file unlinked, got %v", store.deleted)
	}
}

func TestDeleteRound_MissingRoundReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(db, newFakeStore(), nil)

	err := engine.DeleteRound(context.Background(), 4242)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found, got %v", err)
	}
}
