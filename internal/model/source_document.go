// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 处理状态常量。extraction_status 与 embedding_status 共用这一组值。
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// 源文档类别常量。
const (
	CategoryAudio    = "audio"
	CategoryPDF      = "pdf"
	CategoryResearch = "research"
)

// SourceDocument 对应于数据库中的 source_documents 表。
// 每条记录代表一个等待处理的上传或生成产物，由管道步骤独占地修改状态。
//
// 状态约束：embedding_status 只有在 extraction_status = completed 之后
// 才允许离开 pending；任何状态都不允许回退。
type SourceDocument struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID    string `gorm:"type:varchar(64);not null;index;column:owner_id" json:"ownerId"`
	SourceName string `gorm:"type:varchar(255);not null;column:source_name" json:"sourceName"`
	Category   string `gorm:"type:varchar(20);not null;column:category" json:"category"`
	MimeType   string `gorm:"type:varchar(100);column:mime_type" json:"mimeType"`

	// 原始文件的存储位置
	Bucket     string `gorm:"type:varchar(100);not null" json:"bucket"`
	ObjectPath string `gorm:"type:varchar(512);not null;column:object_path" json:"objectPath"`
	// 提取文本产物的存储位置，提取完成后写入
	TextPath string `gorm:"type:varchar(512);column:text_path" json:"textPath"`

	ExtractionStatus string `gorm:"type:varchar(20);not null;default:'pending';column:extraction_status" json:"extractionStatus"`
	EmbeddingStatus  string `gorm:"type:varchar(20);not null;default:'pending';column:embedding_status" json:"embeddingStatus"`

	WordCount         int     `gorm:"not null;default:0;column:word_count" json:"wordCount"`
	SegmentCount      int     `gorm:"not null;default:0;column:segment_count" json:"segmentCount"`
	ProcessedSegments int     `gorm:"not null;default:0;column:processed_segments" json:"processedSegments"`
	ErrorMessage      *string `gorm:"type:text;column:error_message" json:"errorMessage"`

	// 转写/提取元数据，可选字段，拿不到时保持零值
	ExtractionModel string  `gorm:"type:varchar(100);column:extraction_model" json:"extractionModel"`
	DurationSeconds float64 `gorm:"column:duration_seconds" json:"durationSeconds"`
	PageCount       int     `gorm:"column:page_count" json:"pageCount"`

	// 研究类源文档的批次与标签信息
	ResearchBatchID *uint  `gorm:"column:research_batch_id" json:"researchBatchId"`
	Company         string `gorm:"type:varchar(255);column:company" json:"company"`
	ResearchLabel   string `gorm:"type:varchar(100);column:research_label" json:"researchLabel"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SourceDocument) TableName() string {
	return "source_documents"
}
