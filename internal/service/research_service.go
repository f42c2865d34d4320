package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/log"
	"insight-vault-go/pkg/storage"
)

// ResearchReportInput 是创建研究批次时单份报告的输入。
type ResearchReportInput struct {
	SourceName string          `json:"sourceName" binding:"required"`
	Company    string          `json:"company" binding:"required"`
	Label      string          `json:"label" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
}

// ResearchService 接口定义了结构化研究报告的批量摄取操作。
type ResearchService interface {
	// CreateBatch 登记一批研究报告并为每份报告发出摄取事件。
	CreateBatch(ctx context.Context, actorID, name string, reports []ResearchReportInput) (*model.ResearchBatch, error)
	// BatchStatus 返回批次的整体进度汇总。
	BatchStatus(actorID string, id uint) (*model.ResearchBatchStatusDTO, error)
}

type researchService struct {
	batchRepo repository.ResearchBatchRepository
	docRepo   repository.SourceDocumentRepository
	store     storage.ObjectStore
	publisher events.Publisher
	minioCfg  config.MinIOConfig
}

// NewResearchService 创建一个新的 ResearchService 实例。
func NewResearchService(
	batchRepo repository.ResearchBatchRepository,
	docRepo repository.SourceDocumentRepository,
	store storage.ObjectStore,
	publisher events.Publisher,
	minioCfg config.MinIOConfig,
) ResearchService {
	return &researchService{
		batchRepo: batchRepo,
		docRepo:   docRepo,
		store:     store,
		publisher: publisher,
		minioCfg:  minioCfg,
	}
}

// CreateBatch 登记一批研究报告。报告的 JSON 合法性在入口处校验，
// 结构损坏的报告直接拒绝，不进入管道。
func (s *researchService) CreateBatch(ctx context.Context, actorID, name string, reports []ResearchReportInput) (*model.ResearchBatch, error) {
	log.Infof("[ResearchService] 创建研究批次, actor: %s, name: %s, 报告数: %d", actorID, name, len(reports))

	if strings.TrimSpace(name) == "" {
		return nil, errors.New("批次名称不能为空")
	}
	if len(reports) == 0 {
		return nil, errors.New("批次至少要包含一份报告")
	}
	for i, report := range reports {
		if !json.Valid(report.Payload) {
			return nil, fmt.Errorf("第 %d 份报告不是合法的 JSON", i+1)
		}
	}

	// 1. 登记批次实体
	batch := &model.ResearchBatch{
		OwnerID: actorID,
		Name:    name,
		Status:  model.StatusProcessing,
	}
	if err := s.batchRepo.Create(batch); err != nil {
		return nil, fmt.Errorf("登记研究批次失败: %w", err)
	}
	log.Infof("[ResearchService] 步骤1: 批次已登记, BatchID: %d", batch.ID)

	// 2. 逐份保存报告并发出摄取事件
	for i, report := range reports {
		sourceName := report.SourceName
		if !strings.HasSuffix(strings.ToLower(sourceName), ".json") {
			sourceName += ".json"
		}
		objectPath := fmt.Sprintf("%s/%s-%s", model.CategoryResearch, uuid.NewString(), sourceName)
		if err := s.store.UploadBytes(ctx, s.minioCfg.RawBucket, objectPath, report.Payload, "application/json"); err != nil {
			return nil, fmt.Errorf("保存第 %d 份报告失败: %w", i+1, err)
		}

		doc := &model.SourceDocument{
			OwnerID:          actorID,
			SourceName:       sourceName,
			Category:         model.CategoryResearch,
			MimeType:         "application/json",
			Bucket:           s.minioCfg.RawBucket,
			ObjectPath:       objectPath,
			ExtractionStatus: model.StatusPending,
			EmbeddingStatus:  model.StatusPending,
			ResearchBatchID:  &batch.ID,
			Company:          report.Company,
			ResearchLabel:    report.Label,
		}
		if err := s.docRepo.Create(doc); err != nil {
			return nil, fmt.Errorf("登记第 %d 份报告失败: %w", i+1, err)
		}

		if err := s.publisher.Publish(ctx, events.ResearchCreated, events.NewDocumentEvent(doc.ID, actorID)); err != nil {
			return nil, fmt.Errorf("触发第 %d 份报告处理失败: %w", i+1, err)
		}
	}
	log.Infof("[ResearchService] 步骤2: %d 份报告已全部登记并触发处理, BatchID: %d", len(reports), batch.ID)

	return batch, nil
}

// BatchStatus 汇总批次下全部文档的处理进度。
// 全部文档向量化完成时把批次推进到 completed；失败传播由管道钩子负责，
// 这里只做只读汇总，不往回改失败状态。
func (s *researchService) BatchStatus(actorID string, id uint) (*model.ResearchBatchStatusDTO, error) {
	batch, err := s.batchRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	docs, err := s.docRepo.FindByBatchID(batch.ID)
	if err != nil {
		return nil, fmt.Errorf("查询批次文档失败: %w", err)
	}

	completed, failed := 0, 0
	for _, doc := range docs {
		switch {
		case doc.EmbeddingStatus == model.StatusCompleted:
			completed++
		case doc.ExtractionStatus == model.StatusFailed || doc.EmbeddingStatus == model.StatusFailed:
			failed++
		}
	}

	if batch.Status == model.StatusProcessing && len(docs) > 0 && completed == len(docs) {
		if err := s.batchRepo.Updates(batch.ID, map[string]interface{}{"status": model.StatusCompleted}); err != nil {
			log.Warnf("[ResearchService] 推进批次完成状态失败, BatchID: %d: %v", batch.ID, err)
		} else {
			batch.Status = model.StatusCompleted
		}
	}

	return &model.ResearchBatchStatusDTO{
		Batch:     batch,
		Total:     len(docs),
		Completed: completed,
		Failed:    failed,
		Documents: docs,
	}, nil
}
