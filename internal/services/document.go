package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/research-assistant/internal/document"
	"github.com/fyerfyer/research-assistant/internal/embedding"
	"github.com/fyerfyer/research-assistant/internal/models"
	"github.com/fyerfyer/research-assistant/internal/ocr"
	"github.com/fyerfyer/research-assistant/internal/repository"
	"github.com/fyerfyer/research-assistant/internal/vectordb"
	"github.com/fyerfyer/research-assistant/pkg/storage"
	"github.com/fyerfyer/research-assistant/pkg/taskqueue"
)

// ocrTextPrefix OCR提取文本的标记前缀
const ocrTextPrefix = "Image description from OCR: "

// IngestionService 文档摄取服务
// 负责协调文件存储、解析、分块、向量化和索引写入
type IngestionService struct {
	storage       storage.Storage               // 文件存储服务
	sessions      *SessionManager               // 会话管理器
	chunker       *document.Chunker             // 文本分块器
	embedder      embedding.Client              // 嵌入模型客户端
	ocrEngine     ocr.Engine                    // OCR引擎，图片上传时使用
	repo          repository.DocumentRepository // 文档元数据存储
	statusManager *DocumentStatusManager        // 文档状态管理器
	taskQueue     taskqueue.Queue               // 任务队列
	asyncEnabled  bool                          // 是否启用异步摄取
	batchSize     int                           // 嵌入批处理大小
	maxWorkers    int                           // 嵌入并发数
	timeout       time.Duration                 // 单个文档处理超时时间
	logger        *logrus.Logger                // 日志记录器
}

// IngestionOption 摄取服务配置选项
type IngestionOption func(*IngestionService)

// NewIngestionService 创建文档摄取服务
func NewIngestionService(
	store storage.Storage,
	sessions *SessionManager,
	chunker *document.Chunker,
	embedder embedding.Client,
	repo repository.DocumentRepository,
	opts ...IngestionOption,
) *IngestionService {
	srv := &IngestionService{
		storage:    store,
		sessions:   sessions,
		chunker:    chunker,
		embedder:   embedder,
		repo:       repo,
		batchSize:  16,
		maxWorkers: 4,
		timeout:    5 * time.Minute,
		logger:     logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.statusManager == nil {
		srv.statusManager = NewDocumentStatusManager(srv.repo, srv.logger)
	}

	return srv
}

// WithOCREngine 设置OCR引擎
func WithOCREngine(engine ocr.Engine) IngestionOption {
	return func(s *IngestionService) {
		s.ocrEngine = engine
	}
}

// WithIngestionLogger 设置日志记录器
func WithIngestionLogger(logger *logrus.Logger) IngestionOption {
	return func(s *IngestionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBatchSize 设置嵌入批处理大小
func WithBatchSize(size int) IngestionOption {
	return func(s *IngestionService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithMaxWorkers 设置嵌入并发数
func WithMaxWorkers(n int) IngestionOption {
	return func(s *IngestionService) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithIngestionTimeout 设置单个文档处理超时时间
func WithIngestionTimeout(timeout time.Duration) IngestionOption {
	return func(s *IngestionService) {
		s.timeout = timeout
	}
}

// WithTaskQueue 设置任务队列并启用异步摄取
func WithTaskQueue(queue taskqueue.Queue) IngestionOption {
	return func(s *IngestionService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithStatusManager 设置文档状态管理器
func WithStatusManager(manager *DocumentStatusManager) IngestionOption {
	return func(s *IngestionService) {
		s.statusManager = manager
	}
}

// IngestDocument 接收上传内容并摄取到会话索引
// 上传会清空该会话已有的索引和对话记忆，新文档成为会话的全部语料
func (s *IngestionService) IngestDocument(ctx context.Context, sessionID string, reader io.Reader, filename string) (*models.Document, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}

	rc, err := s.sessions.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// 保存原始文件
	info, err := s.storage.Save(reader, sessionID, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	kind := string(document.DetectContentType(filename))
	doc := &models.Document{
		ID:        info.ID,
		SessionID: sessionID,
		FileName:  filename,
		FileType:  kind,
		FilePath:  info.Path,
		FileSize:  info.Size,
		Status:    models.DocStatusUploaded,
	}

	if err := s.repo.WithContext(ctx).Create(doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"file_id":    info.ID,
		"file_name":  filename,
		"kind":       kind,
	}).Info("Document uploaded")

	if s.asyncEnabled && s.taskQueue != nil {
		return s.ingestAsync(ctx, doc)
	}

	if err := s.processDocument(ctx, rc, doc); err != nil {
		return doc, err
	}

	return doc, nil
}

// ingestAsync 将摄取任务加入队列并立即返回
func (s *IngestionService) ingestAsync(ctx context.Context, doc *models.Document) (*models.Document, error) {
	payload := taskqueue.IngestPayload{
		DocumentID: doc.ID,
		SessionID:  doc.SessionID,
		FileID:     doc.ID,
		FileName:   doc.FileName,
		Kind:       doc.FileType,
		MaxChars:   s.chunker.MaxChars,
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskDocumentIngest, doc.SessionID, payload)
	if err != nil {
		s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to enqueue ingest task: %v", err))
		return doc, fmt.Errorf("failed to enqueue ingest task: %w", err)
	}

	doc.TaskID = taskID
	if err := s.repo.WithContext(ctx).Update(doc); err != nil {
		s.logger.WithError(err).WithField("file_id", doc.ID).Warn("Failed to record task id on document")
	}

	s.logger.WithFields(logrus.Fields{
		"file_id": doc.ID,
		"task_id": taskID,
	}).Info("Ingest task enqueued")

	return doc, nil
}

// processDocument 执行完整的摄取流水线
func (s *IngestionService) processDocument(ctx context.Context, rc *ResearchContext, doc *models.Document) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc.Lock()
	defer rc.Unlock()

	if err := s.statusManager.MarkProcessing(ctx, doc.ID); err != nil {
		s.logger.WithError(err).Warn("Failed to mark document as processing")
	}

	// 解析阶段
	// 解码成功之前不动会话已有语料，无效上传不破坏现有状态
	s.statusManager.SetStage(ctx, doc.ID, models.StageParsing)
	text, kind, err := s.extractText(ctx, doc)
	if err != nil {
		s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to extract text: %v", err))
		return fmt.Errorf("failed to extract text: %w", err)
	}

	// 新上传取代会话原有语料，索引和记忆一并清空
	if err := rc.Index.Reset(); err != nil {
		s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to reset index: %v", err))
		return fmt.Errorf("failed to reset index: %w", err)
	}
	rc.Memory.Reset()
	if err := rc.PersistMemory(); err != nil {
		s.logger.WithError(err).WithField("session_id", doc.SessionID).Warn("Failed to persist session memory")
	}

	// 分块阶段
	s.statusManager.SetStage(ctx, doc.ID, models.StageChunking)
	contents := s.chunker.Contents(text)
	if len(contents) == 0 {
		// 空文档也占一个片段，会话进入"空语料"状态
		contents = []document.Content{{Text: "", Index: 0}}
	}

	// 向量化阶段
	s.statusManager.SetStage(ctx, doc.ID, models.StageVectorizing)
	texts := make([]string, len(contents))
	for i, c := range contents {
		texts[i] = c.Text
	}

	processor := embedding.NewBatchProcessor(s.embedder, s.batchSize, s.maxWorkers)
	vectors, err := processor.Process(ctx, texts)
	if err != nil {
		s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to embed chunks: %v", err))
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	// 批处理器会跳过空文本，空片段在这里单独嵌入
	for i := range vectors {
		if vectors[i] == nil {
			vec, err := s.embedder.Embed(ctx, texts[i])
			if err != nil {
				s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to embed chunks: %v", err))
				return fmt.Errorf("failed to embed chunks: %w", err)
			}
			vectors[i] = vec
		}
	}

	segments := make([]vectordb.Segment, len(contents))
	for i, c := range contents {
		segments[i] = vectordb.Segment{
			ID:        fmt.Sprintf("%s_%d", doc.ID, c.Index),
			Source:    doc.FileName,
			Kind:      kind,
			Position:  c.Index,
			Text:      c.Text,
			Vector:    vectors[i],
			CreatedAt: time.Now(),
			Metadata: map[string]interface{}{
				"document_id": doc.ID,
				"session_id":  doc.SessionID,
			},
		}
	}

	if err := rc.Index.AddBatch(segments); err != nil {
		s.statusManager.MarkFailed(ctx, doc.ID, fmt.Sprintf("failed to index segments: %v", err))
		return fmt.Errorf("failed to index segments: %w", err)
	}

	if err := rc.Index.Persist(); err != nil {
		s.logger.WithError(err).WithField("session_id", doc.SessionID).Warn("Failed to persist session index")
	}

	doc.SegmentCount = len(segments)
	if err := s.statusManager.MarkCompleted(ctx, doc.ID, len(segments)); err != nil {
		s.logger.WithError(err).Warn("Failed to mark document as completed")
	}

	s.logger.WithFields(logrus.Fields{
		"file_id":       doc.ID,
		"session_id":    doc.SessionID,
		"segment_count": len(segments),
		"kind":          kind,
	}).Info("Document ingested")

	return nil
}

// extractText 从存储的文件中提取文本
// 图片先做解码校验再走OCR，其余类型走对应的文本解析器。
// 图片字节无法解码是硬错误（无效上传），OCR识别和文本解析失败降级为空文本
func (s *IngestionService) extractText(ctx context.Context, doc *models.Document) (string, string, error) {
	reader, err := s.storage.Get(doc.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to get file from storage: %w", err)
	}
	defer reader.Close()

	if document.DetectContentType(doc.FileName) == document.Image {
		if s.ocrEngine == nil {
			return "", "", errors.New("ocr engine not configured")
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return "", "", fmt.Errorf("failed to read image: %w", err)
		}

		if _, err := document.DecodeImage(data, doc.FileName); err != nil {
			return "", "", err
		}

		text, err := s.ocrEngine.ExtractText(ctx, data)
		if err != nil {
			s.logger.WithError(err).WithField("file_id", doc.ID).Warn("OCR extraction failed, indexing empty text")
			return "", "ocr", nil
		}
		if text == "" {
			return "", "ocr", nil
		}

		return ocrTextPrefix + text, "ocr", nil
	}

	parser, err := document.ParserFactory(doc.FileName)
	if err != nil {
		return "", "", err
	}

	text, err := parser.ParseReader(reader, doc.FileName)
	if err != nil {
		s.logger.WithError(err).WithField("file_id", doc.ID).Warn("Failed to parse document, indexing empty text")
		return "", "text", nil
	}

	return text, "text", nil
}

// ProcessIngestTask 处理队列中的摄取任务
// 由任务队列工作者调用
func (s *IngestionService) ProcessIngestTask(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.IngestPayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal ingest payload: %w", err)
	}

	doc, err := s.repo.WithContext(ctx).GetByID(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", payload.DocumentID, err)
	}

	rc, err := s.sessions.GetContext(ctx, payload.SessionID)
	if err != nil {
		return err
	}

	if err := s.processDocument(ctx, rc, doc); err != nil {
		return err
	}

	// 回写任务结果，供状态查询使用
	result := taskqueue.IngestResult{
		DocumentID:   doc.ID,
		SegmentCount: doc.SegmentCount,
		Dimension:    rc.Index.Dimension(),
		OCRUsed:      document.DetectContentType(doc.FileName) == document.Image,
	}
	if err := s.taskQueue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		s.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to record ingest result")
	}

	return nil
}

// RegisterHandlers 将摄取任务处理器挂到工作者
func (s *IngestionService) RegisterHandlers(worker taskqueue.Worker) {
	worker.RegisterHandler(taskqueue.TaskDocumentIngest, taskqueue.HandlerFunc{
		Types: []taskqueue.TaskType{taskqueue.TaskDocumentIngest},
		Fn:    s.ProcessIngestTask,
	})
}

// GetDocument 获取文档记录
func (s *IngestionService) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	return s.repo.WithContext(ctx).GetByID(docID)
}

// ListDocuments 列出会话下的文档
func (s *IngestionService) ListDocuments(ctx context.Context, sessionID string, offset, limit int) ([]*models.Document, int64, error) {
	return s.repo.WithContext(ctx).ListBySession(sessionID, offset, limit)
}

// DeleteDocument 删除文档及其索引数据
func (s *IngestionService) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := s.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return err
	}

	rc, err := s.sessions.GetContext(ctx, doc.SessionID)
	if err != nil {
		return err
	}

	rc.Lock()
	if err := rc.Index.DeleteBySource(doc.FileName); err != nil {
		s.logger.WithError(err).WithField("file_id", docID).Warn("Failed to delete document segments from index")
	}
	rc.Unlock()

	if err := s.storage.Delete(docID); err != nil {
		// 文件可能已被删除，记录但不中断
		s.logger.WithError(err).WithField("file_id", docID).Warn("Failed to delete file from storage")
	}

	if err := s.repo.WithContext(ctx).Delete(docID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}

	s.logger.WithField("file_id", docID).Info("Document deleted")
	return nil
}

// WaitForIngestion 等待异步摄取完成
func (s *IngestionService) WaitForIngestion(ctx context.Context, docID string, timeout time.Duration) error {
	doc, err := s.repo.WithContext(ctx).GetByID(docID)
	if err != nil {
		return err
	}

	if !s.asyncEnabled || s.taskQueue == nil || doc.TaskID == "" {
		switch doc.Status {
		case models.DocStatusCompleted:
			return nil
		case models.DocStatusFailed:
			return fmt.Errorf("document ingestion failed: %s", doc.Error)
		default:
			return errors.New("document not ingested")
		}
	}

	task, err := s.taskQueue.WaitForTask(ctx, doc.TaskID, timeout)
	if err != nil {
		return fmt.Errorf("failed to wait for ingestion: %w", err)
	}

	if task.Status == taskqueue.StatusFailed {
		return fmt.Errorf("document ingestion failed: %s", task.Error)
	}

	return nil
}
