package repository

import (
	"gorm.io/gorm"
	"insight-vault-go/internal/model"
)

// SegmentRepository 定义了对 segments 与 research_segment_tags 表的数据操作接口。
type SegmentRepository interface {
	// BatchCreate 分批插入分段记录，每批不超过 batchSize 条，
	// 以约束单次调用的负载大小。插入后各 Segment 的 ID 已按输入顺序回填。
	BatchCreate(segments []*model.Segment, batchSize int) error
	// BatchCreateTags 分批插入研究标签关联记录。
	BatchCreateTags(tags []*model.ResearchSegmentTag, batchSize int) error
	FindByDocumentID(documentID uint) ([]*model.Segment, error)
	// DeleteByDocumentID 清理某个文档的既有分段（幂等重建用）。
	DeleteByDocumentID(documentID uint) error
}

type segmentRepository struct {
	db *gorm.DB
}

// NewSegmentRepository 创建一个新的 SegmentRepository 实例。
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &segmentRepository{db: db}
}

// BatchCreate 批量创建分段记录。
func (r *segmentRepository) BatchCreate(segments []*model.Segment, batchSize int) error {
	if len(segments) == 0 {
		return nil
	}
	return r.db.CreateInBatches(segments, batchSize).Error
}

// BatchCreateTags 批量创建研究标签关联记录。
func (r *segmentRepository) BatchCreateTags(tags []*model.ResearchSegmentTag, batchSize int) error {
	if len(tags) == 0 {
		return nil
	}
	return r.db.CreateInBatches(tags, batchSize).Error
}

// FindByDocumentID 查找某个文档的全部分段，按 segment_index 升序。
func (r *segmentRepository) FindByDocumentID(documentID uint) ([]*model.Segment, error) {
	var segments []*model.Segment
	err := r.db.Where("document_id = ?", documentID).Order("segment_index ASC").Find(&segments).Error
	return segments, err
}

// DeleteByDocumentID 删除某个文档的全部分段及其标签记录。
func (r *segmentRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).Delete(&model.ResearchSegmentTag{}).Error; err != nil {
		return err
	}
	return r.db.Where("document_id = ?", documentID).Delete(&model.Segment{}).Error
}
