package model

import "time"

// Segment 对应于数据库中的 segments 表。
// 一条记录是一个文本分块加上它的向量，属于且仅属于一个源文档，
// 创建之后不再修改，随父文档级联删除。
type Segment struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint   `gorm:"not null;index;column:document_id" json:"documentId"`
	Content    string `gorm:"type:text;not null" json:"content"`
	// Embedding 以带括号的逗号分隔字面量形式存储，如 "[0.12,-0.5,...]"。
	// 下游的相似度检索依赖这个编码被准确解析。
	Embedding    string `gorm:"type:mediumtext;not null" json:"-"`
	SegmentIndex int    `gorm:"not null;column:segment_index" json:"segmentIndex"`
	CharStart    int    `gorm:"not null;column:char_start" json:"charStart"`
	CharEnd      int    `gorm:"not null;column:char_end" json:"charEnd"`
	ModelVersion string `gorm:"type:varchar(100);not null;column:model_version" json:"modelVersion"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Segment) TableName() string {
	return "segments"
}

// ResearchSegmentTag 对应于数据库中的 research_segment_tags 表。
// 研究类源的分段会额外打上公司/类别标签；向量的所有权仍在 Segment 行，
// 这里只是关联记录，不复制向量。
type ResearchSegmentTag struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SegmentID  uint   `gorm:"not null;index;column:segment_id" json:"segmentId"`
	DocumentID uint   `gorm:"not null;index;column:document_id" json:"documentId"`
	Company    string `gorm:"type:varchar(255);not null" json:"company"`
	Label      string `gorm:"type:varchar(100);not null" json:"label"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ResearchSegmentTag) TableName() string {
	return "research_segment_tags"
}
