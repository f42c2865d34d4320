package repository

import (
	"errors"

	"gorm.io/gorm"
	"insight-vault-go/internal/model"
)

// ErrBatchNotFound 表示研究批次不存在。
var ErrBatchNotFound = errors.New("研究批次不存在")

// ResearchBatchRepository 定义了对 research_batches 表的数据操作接口。
type ResearchBatchRepository interface {
	Create(batch *model.ResearchBatch) error
	FindByID(id uint) (*model.ResearchBatch, error)
	Updates(id uint, fields map[string]interface{}) error
}

type researchBatchRepository struct {
	db *gorm.DB
}

// NewResearchBatchRepository 创建一个新的 ResearchBatchRepository 实例。
func NewResearchBatchRepository(db *gorm.DB) ResearchBatchRepository {
	return &researchBatchRepository{db: db}
}

func (r *researchBatchRepository) Create(batch *model.ResearchBatch) error {
	return r.db.Create(batch).Error
}

func (r *researchBatchRepository) FindByID(id uint) (*model.ResearchBatch, error) {
	var batch model.ResearchBatch
	err := r.db.First(&batch, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *researchBatchRepository) Updates(id uint, fields map[string]interface{}) error {
	return r.db.Model(&model.ResearchBatch{}).Where("id = ?", id).Updates(fields).Error
}
