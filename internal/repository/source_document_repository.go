// Package repository 包含了数据访问层的实现。
package repository

import (
	"errors"

	"gorm.io/gorm"
	"insight-vault-go/internal/model"
)

// ErrDocumentNotFound 表示源文档不存在。
var ErrDocumentNotFound = errors.New("源文档不存在")

// SourceDocumentRepository 定义了对 source_documents 表的数据操作接口。
type SourceDocumentRepository interface {
	Create(doc *model.SourceDocument) error
	FindByID(id uint) (*model.SourceDocument, error)
	FindByOwner(ownerID string) ([]*model.SourceDocument, error)
	FindByBatchID(batchID uint) ([]*model.SourceDocument, error)
	// Updates 按字段更新指定文档。管道步骤只通过这个入口修改状态。
	Updates(id uint, fields map[string]interface{}) error
}

type sourceDocumentRepository struct {
	db *gorm.DB
}

// NewSourceDocumentRepository 创建一个新的 SourceDocumentRepository 实例。
func NewSourceDocumentRepository(db *gorm.DB) SourceDocumentRepository {
	return &sourceDocumentRepository{db: db}
}

// Create 创建一条源文档记录。
func (r *sourceDocumentRepository) Create(doc *model.SourceDocument) error {
	return r.db.Create(doc).Error
}

// FindByID 根据主键查找源文档，不存在时返回 ErrDocumentNotFound。
func (r *sourceDocumentRepository) FindByID(id uint) (*model.SourceDocument, error) {
	var doc model.SourceDocument
	err := r.db.First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByOwner 查找某个所有者的全部源文档，按创建时间倒序。
func (r *sourceDocumentRepository) FindByOwner(ownerID string) ([]*model.SourceDocument, error) {
	var docs []*model.SourceDocument
	err := r.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// FindByBatchID 查找某个研究批次下的全部源文档。
func (r *sourceDocumentRepository) FindByBatchID(batchID uint) ([]*model.SourceDocument, error) {
	var docs []*model.SourceDocument
	err := r.db.Where("research_batch_id = ?", batchID).Order("id ASC").Find(&docs).Error
	return docs, err
}

// Updates 按字段更新指定文档。
func (r *sourceDocumentRepository) Updates(id uint, fields map[string]interface{}) error {
	return r.db.Model(&model.SourceDocument{}).Where("id = ?", id).Updates(fields).Error
}
