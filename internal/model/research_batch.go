package model

import "time"

// ResearchBatch 对应于数据库中的 research_batches 表。
// 它是比单个源文档更粗粒度的跟踪实体：一批研究报告共用一条记录。
// 遇到提供方配额/计费错误时，除了当前文档，批次也会被标记为失败，
// 避免等待整批结果的消费者无限轮询。
type ResearchBatch struct {
	ID           uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID      string  `gorm:"type:varchar(64);not null;index;column:owner_id" json:"ownerId"`
	Name         string  `gorm:"type:varchar(255);not null" json:"name"`
	Status       string  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	ErrorMessage *string `gorm:"type:text;column:error_message" json:"errorMessage"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ResearchBatch) TableName() string {
	return "research_batches"
}
