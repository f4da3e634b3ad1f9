package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"hireTrack/internal/database"
)

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

func seedPosition(t *testing.T, db *gorm.DB, status string) (database.Position, database.Qualification, database.Round) {
	t.Helper()
	position := database.Position{Title: "Professor", Status: status}
	mustCreate(t, db, &position)
	qualification := database.Qualification{PositionID: position.ID, Level: database.QualificationMinimum}
	mustCreate(t, db, &qualification)
	round := database.Round{PositionID: position.ID, Title: "screen"}
	mustCreate(t, db, &round)
	return position, qualification, round
}

func TestReconcile_CreateAndIdempotence(t *testing.T) {
	db := newTestDB(t)
	r := NewReconciler(db)
	ctx := context.Background()

	position, qualification, round := seedPosition(t, db, database.PositionOpen)
	desired := []Link{{QualificationID: qualification.ID, RoundID: round.ID, Present: true}}

	first, err := r.Reconcile(ctx, position.ID, desired)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.Created != 1 || first.Removed != 0 || first.Skipped != 0 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	// 第二次应用同样的期望集合：零写入。
	second, err := r.Reconcile(ctx, position.ID, desired)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Created != 0 || second.Removed != 0 || second.Skipped != 1 {
		t.Fatalf("reconcile not idempotent: %+v", second)
	}
}

func TestReconcile_UnlinkCascadesOnlyMatchingScores(t *testing.T) {
	db := newTestDB(t)
	r := NewReconciler(db)
	ctx := context.Background()

	position, qualification, round := seedPosition(t, db, database.PositionOpen)
	otherRound := database.Round{PositionID: position.ID, Title: "onsite"}
	mustCreate(t, db, &otherRound)

	// 同一 qualification 绑到两个轮次，各有评分行。
	mustCreate(t, db, &database.QualificationForRound{QualificationID: qualification.ID, RoundID: round.ID})
	mustCreate(t, db, &database.QualificationForRound{QualificationID: qualification.ID, RoundID: otherRound.ID})
	mustCreate(t, db, &database.FeedbackForQualification{FeedbackID: 1, QualificationID: qualification.ID, RoundID: round.ID})
	mustCreate(t, db, &database.FeedbackForQualification{FeedbackID: 2, QualificationID: qualification.ID, RoundID: otherRound.ID})

	result, err := r.Reconcile(ctx, position.ID, []Link{
		{QualificationID: qualification.ID, RoundID: round.ID, Present: false},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected one removal, got %+v", result)
	}

	var n int64
	if err := db.Model(&database.FeedbackForQualification{}).
		Where("round_id = ?", round.ID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("scores for the cut link should be gone, got %d", n)
	}

	if err := db.Model(&database.FeedbackForQualification{}).
		Where("round_id = ?", otherRound.ID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("scores for the surviving link must be untouched, got %d", n)
	}
}

func TestReconcile_RemovalLockedAfterInterviewingStarted(t *testing.T) {
	db := newTestDB(t)
	r := NewReconciler(db)
	ctx := context.Background()

	position, qualification, round := seedPosition(t, db, database.PositionInterviewing)
	mustCreate(t, db, &database.QualificationForRound{QualificationID: qualification.ID, RoundID: round.ID})

	_, err := r.Reconcile(ctx, position.ID, []Link{
		{QualificationID: qualification.ID, RoundID: round.ID, Present: false},
	})
	if !errors.Is(err, ErrRemovalLocked) {
		t.Fatalf("expected removal lock, got %v", err)
	}

	// 新建绑定不受该限制（保留既有的不对称行为）。
	otherRound := database.Round{PositionID: position.ID, Title: "onsite"}
	mustCreate(t, db, &otherRound)
	result, err := r.Reconcile(ctx, position.ID, []Link{
		{QualificationID: qualification.ID, RoundID: otherRound.ID, Present: true},
	})
	if err != nil {
		t.Fatalf("creating links should stay unguarded: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected creation, got %+v", result)
	}
}

func TestReconcile_CrossPositionRejected(t *testing.T) {
	db := newTestDB(t)
	r := NewReconciler(db)
	ctx := context.Background()

	position, qualification, _ := seedPosition(t, db, database.PositionOpen)
	foreign := database.Position{Title: "Other", Status: database.PositionOpen}
	mustCreate(t, db, &foreign)
	foreignRound := database.Round{PositionID: foreign.ID, Title: "screen"}
	mustCreate(t, db, &foreignRound)

	_, err := r.Reconcile(ctx, position.ID, []Link{
		{QualificationID: qualification.ID, RoundID: foreignRound.ID, Present: true},
	})
	if !errors.Is(err, ErrCrossPosition) {
		t.Fatalf("expected cross-position rejection, got %v", err)
	}
}

func TestReconcile_FailFastReportsAppliedCount(t *testing.T) {
	db := newTestDB(t)
	r := NewReconciler(db)
	ctx := context.Background()

	position, qualification, round := seedPosition(t, db, database.PositionOpen)

	_, err := r.Reconcile(ctx, position.ID, []Link{
		{QualificationID: qualification.ID, RoundID: round.ID, Present: true},
		{QualificationID: 9999, RoundID: round.ID, Present: true},
	})
	if err == nil {
		t.Fatal("expected failure on missing qualification")
	}
	if got := err.Error(); !errors.Is(err, gorm.ErrRecordNotFound) || !strings.Contains(got, "1 of 2 applied") {
		t.Fatalf("error should carry applied count, got %q", got)
	}
}
