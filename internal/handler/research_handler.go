package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"insight-vault-go/internal/middleware"
	"insight-vault-go/internal/repository"
	"insight-vault-go/internal/service"
	"insight-vault-go/pkg/log"
)

// ResearchHandler 结构体定义了研究批次相关的处理器。
type ResearchHandler struct {
	researchService service.ResearchService
}

// NewResearchHandler 创建一个新的 ResearchHandler 实例。
func NewResearchHandler(researchService service.ResearchService) *ResearchHandler {
	return &ResearchHandler{researchService: researchService}
}

type createBatchRequest struct {
	Name    string                        `json:"name" binding:"required"`
	Reports []service.ResearchReportInput `json:"reports" binding:"required"`
}

// CreateBatch 处理研究报告批量摄取请求。
func (h *ResearchHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体: " + err.Error()})
		return
	}

	actorID := middleware.ActorID(c)
	log.Infof("[ResearchHandler] 收到创建批次请求, actor: %s, 报告数: %d", actorID, len(req.Reports))

	batch, err := h.researchService.CreateBatch(c.Request.Context(), actorID, req.Name, req.Reports)
	if err != nil {
		log.Errorf("[ResearchHandler] 创建批次失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"code": 202, "data": batch, "message": "已接收，处理中"})
}

// BatchStatus 返回批次的整体进度汇总。
func (h *ResearchHandler) BatchStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的批次 ID"})
		return
	}

	status, err := h.researchService.BatchStatus(middleware.ActorID(c), uint(id))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrBatchNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "批次不存在"})
		case errors.Is(err, service.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "无权访问该资源"})
		default:
			log.Errorf("[ResearchHandler] 查询批次状态失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": status, "message": "success"})
}
