package repository

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB 创建内存SQLite数据库用于测试
func setupTestDB(t *testing.T) *gorm.DB {
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	err = db.AutoMigrate(&models.ResearchSession{}, &models.ResearchTurn{}, &models.Document{})
	require.NoError(t, err, "Failed to run migrations")

	return db
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepositoryWithDB(db)

	session := &models.ResearchSession{
		Title: "测试会话",
	}
	require.NoError(t, repo.CreateSession(session))
	assert.NotEmpty(t, session.ID, "Should generate session ID")

	saved, err := repo.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "测试会话", saved.Title)

	// 不存在的会话
	_, err = repo.GetSession("missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionRepository_Turns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepositoryWithDB(db)

	session := &models.ResearchSession{Title: "会话"}
	require.NoError(t, repo.CreateSession(session))

	// 记录两轮问答
	sources, err := json.Marshal([]models.Source{
		{FileName: "cats.md", Score: 0.92},
	})
	require.NoError(t, err)

	turn1 := &models.ResearchTurn{
		SessionID: session.ID,
		Question:  "第一个问题",
		Answer:    "第一个回答",
		Sources:   datatypes.JSON(sources),
	}
	turn2 := &models.ResearchTurn{
		SessionID: session.ID,
		Question:  "第二个问题",
		Answer:    "第二个回答",
	}
	require.NoError(t, repo.CreateTurn(turn1))
	require.NoError(t, repo.CreateTurn(turn2))

	count, err := repo.CountTurns(session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// 轮次按时间升序返回
	turns, total, err := repo.GetTurns(session.ID, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, turns, 2)
	assert.Equal(t, "第一个问题", turns[0].Question)
	assert.Equal(t, "第二个问题", turns[1].Question)

	// 未知会话
	_, _, err = repo.GetTurns("missing", 0, 10)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionRepository_DeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepositoryWithDB(db)

	session := &models.ResearchSession{Title: "待删除"}
	require.NoError(t, repo.CreateSession(session))
	require.NoError(t, repo.CreateTurn(&models.ResearchTurn{
		SessionID: session.ID,
		Question:  "q",
		Answer:    "a",
	}))

	require.NoError(t, repo.DeleteSession(session.ID))

	_, err := repo.GetSession(session.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	count, err := repo.CountTurns(session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestSessionRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepositoryWithDB(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateSession(&models.ResearchSession{
			Title:  fmt.Sprintf("会话%d", i),
			UserID: "user-1",
		}))
	}
	require.NoError(t, repo.CreateSession(&models.ResearchSession{
		Title:  "其他用户",
		UserID: "user-2",
	}))

	sessions, total, err := repo.ListSessions(0, 10, map[string]interface{}{"user_id": "user-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, sessions, 3)

	// 分页
	sessions, total, err = repo.ListSessions(0, 2, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Len(t, sessions, 2)
}

func TestDocumentRepository_CRUD(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	doc := &models.Document{
		ID:        "doc-1",
		SessionID: "session-1",
		FileName:  "paper.pdf",
		FileType:  "pdf",
		FilePath:  "/data/uploads/paper.pdf",
		FileSize:  2048,
	}
	require.NoError(t, repo.Create(doc))
	assert.Equal(t, models.DocStatusUploaded, doc.Status)

	saved, err := repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", saved.FileName)

	// 状态流转
	require.NoError(t, repo.UpdateStage("doc-1", models.StageChunking))
	require.NoError(t, repo.UpdateStatus("doc-1", models.DocStatusCompleted, ""))

	saved, err = repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, saved.Status)
	assert.Equal(t, models.StageCompleted, saved.CurrentStage)
	assert.NotNil(t, saved.ProcessedAt)

	// 失败状态携带错误信息
	require.NoError(t, repo.UpdateStatus("doc-1", models.DocStatusFailed, "parse error"))
	saved, err = repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "parse error", saved.Error)

	// 删除
	require.NoError(t, repo.Delete("doc-1"))
	_, err = repo.GetByID("doc-1")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	assert.ErrorIs(t, repo.Delete("doc-1"), models.ErrDocumentNotFound)
}

func TestDocumentRepository_ListBySession(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDocumentRepositoryWithDB(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(&models.Document{
			ID:        fmt.Sprintf("doc-%d", i),
			SessionID: "session-1",
			FileName:  fmt.Sprintf("file%d.txt", i),
			FileType:  "txt",
			FilePath:  "/tmp",
		}))
	}
	require.NoError(t, repo.Create(&models.Document{
		ID:        "doc-other",
		SessionID: "session-2",
		FileName:  "other.txt",
		FileType:  "txt",
		FilePath:  "/tmp",
	}))

	docs, total, err := repo.ListBySession("session-1", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, docs, 3)

	// 按会话删除
	require.NoError(t, repo.DeleteBySession("session-1"))
	_, total, err = repo.ListBySession("session-1", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}
