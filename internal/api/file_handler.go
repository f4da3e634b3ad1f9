package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"hireTrack/internal/api/middleware"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
	"hireTrack/internal/storage"
)

// FileHandler 管理候选人材料与反馈附件：上传前病毒扫描，下载走预签名 URL。
type FileHandler struct {
	db             *gorm.DB
	evaluator      *permission.Evaluator
	store          *storage.Client
	clamdAddr      string
	maxUploadBytes int64
}

// NewFileHandler 构造文件处理器。
func NewFileHandler(db *gorm.DB, evaluator *permission.Evaluator, store *storage.Client, clamdAddr string, maxUploadBytes int64) *FileHandler {
	return &FileHandler{
		db:             db,
		evaluator:      evaluator,
		store:          store,
		clamdAddr:      clamdAddr,
		maxUploadBytes: maxUploadBytes,
	}
}

// scanAndUpload 对上传内容做病毒扫描，干净则写入对象存储。
func (h *FileHandler) scanAndUpload(c *gin.Context, objectKey string) bool {
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return false
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		BadRequest(c, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
		return false
	}

	logger := middleware.LoggerFromContext(c)
	clamdClient := clamd.NewClamd(h.clamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return false
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		logger.Error("scan file", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return false
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return false
		}
	}

	fileReader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return false
	}
	defer fileReader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := h.store.UploadFile(c.Request.Context(), objectKey, fileReader, file.Size, contentType); err != nil {
		logger.Error("upload file", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to upload file")
		return false
	}
	return true
}

// loadFeedbackInPosition 加载反馈并经由候选人确认其归属于路径上的职位。
// 跨职位的 fileID 一律按不存在处理。
func (h *FileHandler) loadFeedbackInPosition(c *gin.Context, feedbackID, positionID uint) (database.Feedback, bool) {
	ctx := c.Request.Context()

	var feedback database.Feedback
	if err := h.db.WithContext(ctx).First(&feedback, feedbackID).Error; err != nil {
		EngineError(c, err)
		return database.Feedback{}, false
	}
	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, feedback.CandidateID).Error; err != nil {
		EngineError(c, err)
		return database.Feedback{}, false
	}
	if candidate.PositionID != positionID {
		NotFound(c, "feedback not found in this position")
		return database.Feedback{}, false
	}
	return feedback, true
}

// UploadCandidateFile 上传候选人材料。
func (h *FileHandler) UploadCandidateFile(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidateID, ok := pathID(c, "candidateID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}
	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if candidate.PositionID != positionID {
		NotFound(c, "candidate not found in this position")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	objectKey := storage.CandidateObjectKey(candidateID, uuid.NewString()+"-"+file.Filename)

	if !h.scanAndUpload(c, objectKey) {
		return
	}

	row := database.CandidateFile{
		CandidateID: candidateID,
		Name:        file.Filename,
		ObjectKey:   objectKey,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"id": row.ID, "object_key": objectKey})
}

// UploadFeedbackFile 上传反馈附件（仅反馈作者本人）。
func (h *FileHandler) UploadFeedbackFile(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	feedbackID, ok := pathID(c, "feedbackID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}
	feedback, ok := h.loadFeedbackInPosition(c, feedbackID, positionID)
	if !ok {
		return
	}
	if feedback.UserID != user.ID && !user.IsAdmin {
		Unauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	objectKey := storage.FeedbackObjectKey(feedbackID, uuid.NewString()+"-"+file.Filename)

	if !h.scanAndUpload(c, objectKey) {
		return
	}

	row := database.FeedbackFile{
		FeedbackID: feedbackID,
		Name:       file.Filename,
		ObjectKey:  objectKey,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"id": row.ID, "object_key": objectKey})
}

// CandidateFileURL 返回候选人材料的限时下载链接。
func (h *FileHandler) CandidateFileURL(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var row database.CandidateFile
	if err := h.db.WithContext(ctx).First(&row, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, row.CandidateID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if candidate.PositionID != positionID {
		NotFound(c, "file not found in this position")
		return
	}

	signedURL, err := h.store.GeneratePresignedURL(ctx, row.ObjectKey, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	OK(c, gin.H{"url": signedURL, "name": row.Name})
}

// FeedbackFileURL 返回反馈附件的限时下载链接。
func (h *FileHandler) FeedbackFileURL(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var row database.FeedbackFile
	if err := h.db.WithContext(ctx).First(&row, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if _, ok := h.loadFeedbackInPosition(c, row.FeedbackID, positionID); !ok {
		return
	}

	signedURL, err := h.store.GeneratePresignedURL(ctx, row.ObjectKey, 15*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	OK(c, gin.H{"url": signedURL, "name": row.Name})
}

// DeleteFeedbackFile 删除单个反馈附件（仅反馈作者或管理员）。
func (h *FileHandler) DeleteFeedbackFile(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var row database.FeedbackFile
	if err := h.db.WithContext(ctx).First(&row, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	feedback, ok := h.loadFeedbackInPosition(c, row.FeedbackID, positionID)
	if !ok {
		return
	}
	if feedback.UserID != user.ID && !user.IsAdmin {
		Unauthorized(c)
		return
	}

	if err := h.store.DeleteObject(ctx, row.ObjectKey); err != nil {
		middleware.LoggerFromContext(c).Error("delete object", slog.String("object_key", row.ObjectKey), slog.Any("error", err))
		Internal(c, "failed to delete file")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.FeedbackFile{}, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}

// DeleteCandidateFile 删除单个候选人材料。
// 单文件删除先删对象再删行：对象删除失败时行保留，可重试。
func (h *FileHandler) DeleteCandidateFile(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathID(c, "fileID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleSearchChair, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var row database.CandidateFile
	if err := h.db.WithContext(ctx).First(&row, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, row.CandidateID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if candidate.PositionID != positionID {
		NotFound(c, "file not found in this position")
		return
	}

	if err := h.store.DeleteObject(ctx, row.ObjectKey); err != nil {
		middleware.LoggerFromContext(c).Error("delete object", slog.String("object_key", row.ObjectKey), slog.Any("error", err))
		Internal(c, "failed to delete file")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.CandidateFile{}, fileID).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}
