// Package handler 包含了所有 Gin 的 HTTP 处理函数。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"insight-vault-go/internal/middleware"
	"insight-vault-go/internal/repository"
	"insight-vault-go/internal/service"
	"insight-vault-go/pkg/log"
)

// SourceHandler 结构体定义了源文档相关的处理器。
type SourceHandler struct {
	sourceService service.SourceService
}

// NewSourceHandler 创建一个新的 SourceHandler 实例。
func NewSourceHandler(sourceService service.SourceService) *SourceHandler {
	return &SourceHandler{sourceService: sourceService}
}

// Upload 处理音频/PDF 源文件的上传请求。
func (h *SourceHandler) Upload(c *gin.Context) {
	actorID := middleware.ActorID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}
	log.Infof("[SourceHandler] 收到上传请求, actor: %s, file: %s", actorID, fileHeader.Filename)

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}

	doc, err := h.sourceService.UploadSource(c.Request.Context(), actorID, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedSourceType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[SourceHandler] 上传处理失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": doc, "message": "已接收，处理中"})
}

// List 返回操作者的全部源文档。
func (h *SourceHandler) List(c *gin.Context) {
	docs, err := h.sourceService.ListSources(middleware.ActorID(c))
	if err != nil {
		log.Errorf("[SourceHandler] 查询源文档列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": docs, "message": "success"})
}

// Get 返回单个源文档及其处理状态。
func (h *SourceHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.sourceService.GetSource(middleware.ActorID(c), id)
	if err != nil {
		respondSourceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": doc, "message": "success"})
}

// Segments 返回文档的全部分段。
func (h *SourceHandler) Segments(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	segments, err := h.sourceService.Segments(middleware.ActorID(c), id)
	if err != nil {
		respondSourceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": segments, "message": "success"})
}

// Reprocess 显式重新触发文档的处理流程。
func (h *SourceHandler) Reprocess(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.sourceService.Reprocess(c.Request.Context(), middleware.ActorID(c), id); err != nil {
		respondSourceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "message": "已重新触发处理"})
}

// DownloadURL 为原始文件生成临时下载链接。
func (h *SourceHandler) DownloadURL(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	url, err := h.sourceService.DownloadURL(c.Request.Context(), middleware.ActorID(c), id)
	if err != nil {
		respondSourceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"url": url}, "message": "success"})
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的文档 ID"})
		return 0, false
	}
	return uint(id), true
}

func respondSourceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
	case errors.Is(err, service.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "无权访问该资源"})
	default:
		log.Errorf("[SourceHandler] 请求处理失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "请求处理失败"})
	}
}
