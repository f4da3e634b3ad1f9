package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeKV 用 map 模拟 Redis 的 Get/Set/Del，复用 go-redis 的结果类型。
type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestMasquerade_StartStop(t *testing.T) {
	m := NewManager(newFakeKV(), 0)
	ctx := context.Background()

	stack, err := m.Start(ctx, 1, 42, "member")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !stack.Active || stack.UserID != 42 || stack.SavedPreviousUser != 1 {
		t.Fatalf("unexpected stack: %+v", stack)
	}
	if got := stack.EffectiveUserID(1); got != 42 {
		t.Fatalf("effective user should be the target, got %d", got)
	}

	// 跨请求仍然生效。
	current, err := m.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if !current.Active || current.UserID != 42 {
		t.Fatalf("stack should persist across requests: %+v", current)
	}

	restored, err := m.Stop(ctx, 1)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if restored != 1 {
		t.Fatalf("stop must restore the original identity, got %d", restored)
	}

	current, err = m.Current(ctx, 1)
	if err != nil {
		t.Fatalf("current after stop: %v", err)
	}
	if current.Active {
		t.Fatalf("stack should be cleared: %+v", current)
	}
}

func TestMasquerade_SecondStartReplacesFirst(t *testing.T) {
	m := NewManager(newFakeKV(), 0)
	ctx := context.Background()

	if _, err := m.Start(ctx, 1, 42, "member"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	// 只支持一层嵌套：第二次 Start 静默结束第一次，保存的原始身份不变。
	stack, err := m.Start(ctx, 1, 77, "search_chair")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if stack.UserID != 77 || stack.SavedPreviousUser != 1 {
		t.Fatalf("second start must keep original identity saved: %+v", stack)
	}

	restored, err := m.Stop(ctx, 1)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if restored != 1 {
		t.Fatalf("stop after nested start must restore the first identity, got %d", restored)
	}
}

func TestMasquerade_StopWithoutStart(t *testing.T) {
	m := NewManager(newFakeKV(), 0)
	if _, err := m.Stop(context.Background(), 5); !errors.Is(err, ErrNotMasquerading) {
		t.Fatalf("expected ErrNotMasquerading, got %v", err)
	}
}

func TestMasquerade_InactiveStackKeepsSessionUser(t *testing.T) {
	var s Stack
	if got := s.EffectiveUserID(9); got != 9 {
		t.Fatalf("inactive stack must keep session user, got %d", got)
	}
}
