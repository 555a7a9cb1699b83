package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	// 创建 miniredis 实例
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// 创建 Manager
	logger := zap.NewNop()
	config := Config{
		Addr:       mr.Addr(),
		Password:   "",
		DB:         0,
		DefaultTTL: 1 * time.Minute,
		KeyPrefix:  "mf-test",
	}

	manager, err := NewManager(config, logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		manager.Close()
		mr.Close()
	})

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.redis)
	assert.NotNil(t, manager.logger)
}

func TestNewManager_ConnectFailure(t *testing.T) {
	// 无法连接时应返回错误
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx := context.Background()

	// 设置值
	err := manager.Set(ctx, "research:topic", "cached-result", 1*time.Minute)
	require.NoError(t, err)

	// 获取值
	value, err := manager.Get(ctx, "research:topic")
	require.NoError(t, err)
	assert.Equal(t, "cached-result", value)
}

func TestManager_KeyPrefixApplied(t *testing.T) {
	mr, manager := setupTestRedis(t)

	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "abc", "v", time.Minute))

	// Redis 中的实际键应带前缀
	assert.True(t, mr.Exists("mf-test:abc"))
	assert.False(t, mr.Exists("abc"))
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx := context.Background()

	// 获取不存在的键
	value, err := manager.Get(ctx, "non-existent")
	assert.Equal(t, "", value)
	require.Error(t, err)
	assert.True(t, IsCacheMiss(err))
}

func TestManager_SetDefaultTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)

	ctx := context.Background()
	// ttl=0 时使用默认 TTL
	require.NoError(t, manager.Set(ctx, "ttl-key", "v", 0))

	ttl := mr.TTL("mf-test:ttl-key")
	assert.Equal(t, 1*time.Minute, ttl)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx := context.Background()

	type research struct {
		Topic    string   `json:"topic"`
		Keywords []string `json:"keywords"`
	}
	in := research{Topic: "email automation", Keywords: []string{"drip", "segmentation"}}

	require.NoError(t, manager.SetJSON(ctx, "research:json", in, time.Minute))

	var out research
	require.NoError(t, manager.GetJSON(ctx, "research:json", &out))
	assert.Equal(t, in, out)
}

func TestManager_GetJSON_Miss(t *testing.T) {
	_, manager := setupTestRedis(t)

	var out map[string]any
	err := manager.GetJSON(context.Background(), "missing", &out)
	assert.True(t, IsCacheMiss(err))
}

func TestManager_Delete(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "k1", "v1", time.Minute))
	require.NoError(t, manager.Set(ctx, "k2", "v2", time.Minute))

	require.NoError(t, manager.Delete(ctx, "k1", "k2"))

	_, err := manager.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_DeleteNoKeys(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.NoError(t, manager.Delete(context.Background()))
}

func TestManager_Exists(t *testing.T) {
	_, manager := setupTestRedis(t)

	ctx := context.Background()
	require.NoError(t, manager.Set(ctx, "present", "v", time.Minute))

	count, err := manager.Exists(ctx, "present", "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestManager_Ping(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestManager_ClosedOperations(t *testing.T) {
	_, manager := setupTestRedis(t)

	require.NoError(t, manager.Close())
	// 重复关闭是幂等的
	require.NoError(t, manager.Close())

	ctx := context.Background()
	_, err := manager.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, manager.Set(ctx, "k", "v", time.Minute))
	assert.Error(t, manager.Ping(ctx))
}
