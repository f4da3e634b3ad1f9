package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"hireTrack/internal/cascade"
	"hireTrack/internal/cloner"
	"hireTrack/internal/database"
	"hireTrack/internal/lifecycle"
	"hireTrack/internal/permission"
)

// failingCounter 模拟 redis 不可用：任何自增都报错。
type failingCounter struct{}

func (failingCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "incr", key)
	cmd.SetErr(errors.New("connection refused"))
	return cmd
}

func (failingCounter) Expire(ctx context.Context, key string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolCmd(ctx, "expire", key)
}

type countingQueue struct {
	enqueued int
}

func (q *countingQueue) Enqueue(_ *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.enqueued++
	return &asynq.TaskInfo{}, nil
}

func TestRemind_RateCounterFailureFailsClosed(t *testing.T) {
	db := newTestDB(t)
	chair, position, _, _ := seedLinkFixture(t, db, database.PositionInterviewing)

	gin.SetMode(gin.TestMode)
	evaluator := permission.NewEvaluator(db)
	queue := &countingQueue{}
	handler := NewPositionHandler(db, evaluator, lifecycle.NewMachine(db, nil), cloner.NewCloner(db),
		cascade.NewEngine(db, &fakeRemover{}, nil), queue, failingCounter{}, 1)

	router := gin.New()
	router.POST("/positions/:id/remind", fakeAuth(chair.ID), handler.Remind)

	req := httptest.NewRequest(http.MethodPost, "/positions/"+strconv.FormatUint(uint64(position.ID), 10)+"/remind", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body %s", rec.Code, rec.Body.String())
	}
	if queue.enqueued != 0 {
		t.Fatalf("batch must not be enqueued when the quota counter is unavailable, got %d", queue.enqueued)
	}
}
