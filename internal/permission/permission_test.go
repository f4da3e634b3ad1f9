package permission

import (
	"context"
	"errors"
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
	if err := database.SeedRoles(db); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	return db
}

func seedAssignment(t *testing.T, db *gorm.DB, userID, positionID, roleID uint) {
	t.Helper()
	if err := db.Create(&database.RoleAssignment{UserID: userID, PositionID: positionID, RoleID: roleID}).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
}

func TestAuthorize_GlobalAdminSentinel(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	ctx := context.Background()

	admin := database.User{Model: gorm.Model{ID: 1}, IsAdmin: true}
	plain := database.User{Model: gorm.Model{ID: 2}}
	positionID := uint(7)

	if err := e.Authorize(ctx, admin, RequireGlobalAdmin, &positionID); err != nil {
		t.Fatalf("admin with position: %v", err)
	}
	if err := e.Authorize(ctx, admin, RequireGlobalAdmin, nil); err != nil {
		t.Fatalf("admin with nil position: %v", err)
	}
	if err := e.Authorize(ctx, plain, RequireGlobalAdmin, &positionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin should fail sentinel, got %v", err)
	}
}

func TestAuthorize_AdminBypassesOrdinaryRoles(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	admin := database.User{Model: gorm.Model{ID: 1}, IsAdmin: true}
	positionID := uint(3)

	// 没有任何分配也放行。
	for _, required := range []Role{RoleSearchChair, RoleSearchAdvocate, RoleMember, RoleAny} {
		if err := e.Authorize(context.Background(), admin, required, &positionID); err != nil {
			t.Fatalf("admin bypass for %s: %v", required, err)
		}
	}
}

func TestAuthorize_ExactRoleMatch(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	ctx := context.Background()
	user := database.User{Model: gorm.Model{ID: 5}}
	positionID := uint(9)
	seedAssignment(t, db, 5, 9, database.RoleIDMember)

	if err := e.Authorize(ctx, user, RoleMember, &positionID); err != nil {
		t.Fatalf("member should pass member requirement: %v", err)
	}
	if err := e.Authorize(ctx, user, RoleSearchChair, &positionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("member must not pass chair requirement, got %v", err)
	}

	otherPosition := uint(10)
	if err := e.Authorize(ctx, user, RoleMember, &otherPosition); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("assignment is scoped per position, got %v", err)
	}
}

func TestAuthorize_InactiveExcludedFromAny(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	ctx := context.Background()
	user := database.User{Model: gorm.Model{ID: 6}}
	positionID := uint(4)
	seedAssignment(t, db, 6, 4, database.RoleIDInactive)

	if err := e.Authorize(ctx, user, RoleAny, &positionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("inactive must not satisfy any, got %v", err)
	}
	if err := e.Authorize(ctx, user, RoleInactive, &positionID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("inactive never satisfies a requirement, got %v", err)
	}
}

func TestResolveRole_DuplicateAssignmentsLowestIDWins(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	ctx := context.Background()

	// 同一 (user, position) 插入角色 1 与 3，裁决必须返回 ID 1 的角色。
	seedAssignment(t, db, 8, 2, database.RoleIDMember)
	seedAssignment(t, db, 8, 2, database.RoleIDSearchChair)

	role, err := e.ResolveRole(ctx, 8, 2)
	if err != nil {
		t.Fatalf("resolve role: %v", err)
	}
	if role != RoleSearchChair {
		t.Fatalf("expected search_chair (lowest id), got %s", role)
	}
}

func TestAuthorize_Deterministic(t *testing.T) {
	db := newTestDB(t)
	e := NewEvaluator(db)
	ctx := context.Background()
	user := database.User{Model: gorm.Model{ID: 11}}
	positionID := uint(12)
	seedAssignment(t, db, 11, 12, database.RoleIDSearchAdvocate)
	seedAssignment(t, db, 11, 12, database.RoleIDInactive)

	first := e.Authorize(ctx, user, RoleSearchAdvocate, &positionID)
	for i := 0; i < 10; i++ {
		if got := e.Authorize(ctx, user, RoleSearchAdvocate, &positionID); (got == nil) != (first == nil) {
			t.Fatalf("authorize is not deterministic: run %d got %v, first %v", i, got, first)
		}
	}
	if first != nil {
		t.Fatalf("advocate assignment (lower id than inactive) should win: %v", first)
	}
}
