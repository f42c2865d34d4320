package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"insight-vault-go/internal/middleware"
	"insight-vault-go/internal/service"
	"insight-vault-go/pkg/log"
)

// SearchHandler 结构体定义了语义检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SemanticSearch 是处理语义检索请求的 Gin 处理函数。
func (h *SearchHandler) SemanticSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}

	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}
	company := c.Query("company")
	label := c.Query("label")

	actorID := middleware.ActorID(c)
	log.Infof("[SearchHandler] 收到检索请求, actor: %s, query: '%s', topK: %d", actorID, query, topK)

	results, err := h.searchService.SemanticSearch(c.Request.Context(), actorID, query, topK, company, label)
	if err != nil {
		log.Errorf("[SearchHandler] 语义检索服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}
