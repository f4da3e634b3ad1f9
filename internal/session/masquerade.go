package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotMasquerading 表示会话当前没有生效的身份替换。
var ErrNotMasquerading = errors.New("not masquerading")

// Stack 是显式的身份替换栈：只支持一层嵌套，再次 Start 会静默结束上一次。
// 之前用零散的会话键表达这组状态，这里收拢为一个值对象。
type Stack struct {
	Active            bool   `json:"active"`
	SavedPreviousUser uint   `json:"saved_previous_user"`
	UserID            uint   `json:"user_id"`
	AccessLevel       string `json:"access_level"`
}

// EffectiveUserID 返回应当作为操作者的用户：替换生效时为目标用户。
func (s Stack) EffectiveUserID(sessionUserID uint) uint {
	if s.Active {
		return s.UserID
	}
	return sessionUserID
}

type kvStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Manager 把 masquerade 栈持久化到 Redis，跨请求保持生效直到显式 Stop。
type Manager struct {
	kv  kvStore
	ttl time.Duration
}

// NewManager 构造 Manager；ttl 为 0 表示栈永不过期。
func NewManager(kv kvStore, ttl time.Duration) *Manager {
	return &Manager{kv: kv, ttl: ttl}
}

func stackKey(sessionUserID uint) string {
	return fmt.Sprintf("masquerade:%d", sessionUserID)
}

// Current 返回会话当前的栈；没有栈时返回零值（Active=false）。
func (m *Manager) Current(ctx context.Context, sessionUserID uint) (Stack, error) {
	raw, err := m.kv.Get(ctx, stackKey(sessionUserID)).Result()
	if errors.Is(err, redis.Nil) {
		return Stack{}, nil
	}
	if err != nil {
		return Stack{}, fmt.Errorf("load masquerade stack: %w", err)
	}

	var stack Stack
	if err := json.Unmarshal([]byte(raw), &stack); err != nil {
		return Stack{}, fmt.Errorf("decode masquerade stack: %w", err)
	}
	return stack, nil
}

// Start 让 sessionUserID 以 targetUserID 的身份继续操作。
// 已处于替换状态时，旧目标被静默丢弃，保存的原始身份保持不变。
func (m *Manager) Start(ctx context.Context, sessionUserID, targetUserID uint, accessLevel string) (Stack, error) {
	current, err := m.Current(ctx, sessionUserID)
	if err != nil {
		return Stack{}, err
	}

	saved := sessionUserID
	if current.Active {
		saved = current.SavedPreviousUser
	}

	stack := Stack{
		Active:            true,
		SavedPreviousUser: saved,
		UserID:            targetUserID,
		AccessLevel:       accessLevel,
	}

	raw, err := json.Marshal(stack)
	if err != nil {
		return Stack{}, fmt.Errorf("encode masquerade stack: %w", err)
	}
	if err := m.kv.Set(ctx, stackKey(sessionUserID), raw, m.ttl).Err(); err != nil {
		return Stack{}, fmt.Errorf("store masquerade stack: %w", err)
	}
	return stack, nil
}

// Stop 结束身份替换并返回恢复后的用户 ID。
func (m *Manager) Stop(ctx context.Context, sessionUserID uint) (uint, error) {
	current, err := m.Current(ctx, sessionUserID)
	if err != nil {
		return 0, err
	}
	if !current.Active {
		return 0, ErrNotMasquerading
	}

	if err := m.kv.Del(ctx, stackKey(sessionUserID)).Err(); err != nil {
		return 0, fmt.Errorf("clear masquerade stack: %w", err)
	}
	return current.SavedPreviousUser, nil
}
