package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"insight-vault-go/internal/middleware"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/service"
	"insight-vault-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressHandler 通过 WebSocket 向前端推送文档处理进度。
type ProgressHandler struct {
	sourceService service.SourceService
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(sourceService service.SourceService) *ProgressHandler {
	return &ProgressHandler{sourceService: sourceService}
}

// Watch 升级为 WebSocket 连接并周期性推送进度帧，
// 文档进入终态（两个阶段都 completed，或任一阶段 failed）后推送最后一帧并关闭。
func (h *ProgressHandler) Watch(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	actorID := middleware.ActorID(c)

	// 先做一次权限校验，再升级连接
	if _, err := h.sourceService.GetSource(actorID, id); err != nil {
		respondSourceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ProgressHandler] WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()
	log.Infof("[ProgressHandler] 进度通道已建立, actor: %s, DocumentID: %d", actorID, id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		doc, err := h.sourceService.GetSource(actorID, id)
		if err != nil {
			log.Warnf("[ProgressHandler] 查询进度失败, DocumentID: %d: %v", id, err)
			return
		}

		frame := progressFrame(doc)
		if err := conn.WriteJSON(frame); err != nil {
			// 客户端断开，正常退出
			return
		}

		if isTerminal(doc) {
			log.Infof("[ProgressHandler] 文档进入终态，关闭进度通道, DocumentID: %d", id)
			return
		}
	}
}

// progressFrame 把文档状态折算为一个粗粒度的进度帧。
// 提取阶段占 0-50%，向量化阶段按已处理分段数折算 50-100%。
func progressFrame(doc *model.SourceDocument) model.ProgressDTO {
	var percent float64
	switch {
	case doc.EmbeddingStatus == model.StatusCompleted:
		percent = 100
	case doc.EmbeddingStatus == model.StatusProcessing && doc.SegmentCount > 0:
		percent = 50 + 50*float64(doc.ProcessedSegments)/float64(doc.SegmentCount)
	case doc.EmbeddingStatus == model.StatusProcessing:
		percent = 50
	case doc.ExtractionStatus == model.StatusCompleted:
		percent = 50
	case doc.ExtractionStatus == model.StatusProcessing:
		percent = 10
	}

	return model.ProgressDTO{
		DocumentID:        doc.ID,
		ExtractionStatus:  doc.ExtractionStatus,
		EmbeddingStatus:   doc.EmbeddingStatus,
		SegmentCount:      doc.SegmentCount,
		ProcessedSegments: doc.ProcessedSegments,
		Percent:           percent,
		ErrorMessage:      doc.ErrorMessage,
	}
}

func isTerminal(doc *model.SourceDocument) bool {
	if doc.ExtractionStatus == model.StatusFailed || doc.EmbeddingStatus == model.StatusFailed {
		return true
	}
	return doc.EmbeddingStatus == model.StatusCompleted
}
