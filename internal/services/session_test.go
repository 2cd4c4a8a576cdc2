package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
)

// setupSessionManager 创建只依赖会话仓储的管理器
func setupSessionManager(t *testing.T) *SessionManager {
	dbName := fmt.Sprintf("file:sessdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ResearchSession{}, &models.ResearchTurn{}))

	repo := repository.NewSessionRepositoryWithDB(db)

	return NewSessionManager(repo, vectordb.Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: vectordb.Cosine,
	}, WithMaxTurns(5))
}

// TestCreateSession 测试创建会话并初始化运行时状态
func TestCreateSession(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	session, err := m.CreateSession(ctx, "reading notes")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "reading notes", session.Title)
	assert.Equal(t, 1, m.ActiveSessions())

	// 空标题使用默认值
	session, err = m.CreateSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Untitled research", session.Title)
}

// TestGetContextUnknownSession 测试获取不存在会话的运行时状态
func TestGetContextUnknownSession(t *testing.T) {
	m := setupSessionManager(t)

	_, err := m.GetContext(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

// TestGetContextRebuild 测试运行时状态被释放后按需重建
func TestGetContextRebuild(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	session, err := m.CreateSession(ctx, "survey")
	require.NoError(t, err)

	rc, err := m.GetContext(ctx, session.ID)
	require.NoError(t, err)
	rc.Memory.Append("q", "a")

	// 全部释放后重建，记忆从空开始
	evicted := m.EvictIdleContexts(0)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, m.ActiveSessions())

	rebuilt, err := m.GetContext(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, rebuilt.Memory.Len())
	assert.Equal(t, 1, m.ActiveSessions())
}

// TestEvictionPreservesMemory 测试配置持久化目录时记忆在释放和重建之间保留
func TestEvictionPreservesMemory(t *testing.T) {
	dbName := fmt.Sprintf("file:sessdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ResearchSession{}, &models.ResearchTurn{}))

	dir := t.TempDir()
	m := NewSessionManager(repository.NewSessionRepositoryWithDB(db), vectordb.Config{
		Type:         "memory",
		Dimension:    4,
		DistanceType: vectordb.Cosine,
		Path:         dir,
	})
	ctx := context.Background()

	session, err := m.CreateSession(ctx, "long running")
	require.NoError(t, err)

	rc, err := m.GetContext(ctx, session.ID)
	require.NoError(t, err)
	rc.Memory.Append("what is attention", "a weighting mechanism")

	evicted := m.EvictIdleContexts(0)
	require.Equal(t, 1, evicted)

	rebuilt, err := m.GetContext(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, rebuilt.Memory.Len())
	assert.Contains(t, rebuilt.Memory.History(), "Human: what is attention")

	// 删除会话后记忆文件也被清理，重建时记忆为空
	require.NoError(t, m.DeleteSession(ctx, session.ID))
	_, err = os.Stat(filepath.Join(dir, session.ID+".memory"))
	assert.True(t, os.IsNotExist(err))
}

// TestDeleteSession 测试删除会话释放运行时状态并清除记录
func TestDeleteSession(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	session, err := m.CreateSession(ctx, "to delete")
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(ctx, session.ID))
	assert.Equal(t, 0, m.ActiveSessions())

	_, err = m.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = m.GetContext(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

// TestListSessions 测试分页列出会话
func TestListSessions(t *testing.T) {
	m := setupSessionManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.CreateSession(ctx, fmt.Sprintf("session %d", i))
		require.NoError(t, err)
	}

	sessions, total, err := m.ListSessions(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, sessions, 2)
}
