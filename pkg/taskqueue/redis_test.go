package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueueTest 创建一个基于miniredis的队列实例
func setupQueueTest(t *testing.T) Queue {
	mr := miniredis.RunT(t)

	cfg := &Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
		Queues:      map[string]int{"ingest": 6, "default": 3, "low": 1},
	}

	queue, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { queue.Close() })

	return queue
}

// TestEnqueueAndGetTask 测试任务入队与查询
func TestEnqueueAndGetTask(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	payload := IngestPayload{
		DocumentID: "doc-1",
		SessionID:  "session-1",
		FileName:   "paper.pdf",
		Kind:       "pdf",
		MaxChars:   800,
	}

	taskID, err := queue.Enqueue(ctx, TaskDocumentIngest, "session-1", payload)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskDocumentIngest, task.Type)
	assert.Equal(t, "session-1", task.SessionID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)

	var decoded IngestPayload
	require.NoError(t, UnmarshalPayload(task.Payload, &decoded))
	assert.Equal(t, "doc-1", decoded.DocumentID)
	assert.Equal(t, "paper.pdf", decoded.FileName)
}

// TestGetTaskNotFound 测试查询不存在的任务
func TestGetTaskNotFound(t *testing.T) {
	queue := setupQueueTest(t)

	_, err := queue.GetTask(context.Background(), "missing-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// TestGetTasksBySession 测试按会话查询任务
func TestGetTasksBySession(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, TaskDocumentIngest, "s1", IngestPayload{DocumentID: "d1"})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, TaskIndexPersist, "s1", PersistPayload{SessionID: "s1"})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, TaskDocumentIngest, "s2", IngestPayload{DocumentID: "d2"})
	require.NoError(t, err)

	tasks, err := queue.GetTasksBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = queue.GetTasksBySession(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestUpdateTaskStatus 测试任务状态流转
func TestUpdateTaskStatus(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentIngest, "s1", IngestPayload{DocumentID: "d1"})
	require.NoError(t, err)

	// 状态更新为处理中
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, 1, task.Attempts)
	assert.Nil(t, task.CompletedAt)

	// 状态更新为完成并附带结果
	result := IngestResult{DocumentID: "d1", SegmentCount: 4, Dimension: 768}
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))

	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)

	var decoded IngestResult
	require.NoError(t, UnmarshalPayload(task.Result, &decoded))
	assert.Equal(t, 4, decoded.SegmentCount)
	assert.Equal(t, 768, decoded.Dimension)
}

// TestUpdateTaskStatusFailed 测试失败状态记录错误信息
func TestUpdateTaskStatusFailed(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentIngest, "s1", IngestPayload{DocumentID: "d1"})
	require.NoError(t, err)

	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "parse error"))

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "parse error", task.Error)
}

// TestWaitForTaskCompleted 测试等待已完成的任务立即返回
func TestWaitForTaskCompleted(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentIngest, "s1", IngestPayload{DocumentID: "d1"})
	require.NoError(t, err)
	require.NoError(t, queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, ""))

	task, err := queue.WaitForTask(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
}

// TestDeleteTask 测试删除任务
func TestDeleteTask(t *testing.T) {
	queue := setupQueueTest(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskDocumentIngest, "s1", IngestPayload{DocumentID: "d1"})
	require.NoError(t, err)

	require.NoError(t, queue.DeleteTask(ctx, taskID))

	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := queue.GetTasksBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestQueueForType 测试任务类型到队列的映射
func TestQueueForType(t *testing.T) {
	assert.Equal(t, "ingest", queueForType(TaskDocumentIngest))
	assert.Equal(t, "low", queueForType(TaskIndexPersist))
	assert.Equal(t, "low", queueForType(TaskSessionCleanup))
	assert.Equal(t, "default", queueForType(TaskType("other")))
}

// TestNewTaskInfo 测试任务元信息转换
func TestNewTaskInfo(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:        "t1",
		Type:      TaskDocumentIngest,
		SessionID: "s1",
		Status:    StatusCompleted,
		CreatedAt: now,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, "t1", info.ID)
	assert.Equal(t, "s1", info.SessionID)
	assert.Equal(t, 100.0, info.Progress)

	task.Status = StatusPending
	assert.Equal(t, 0.0, NewTaskInfo(task).Progress)
}
