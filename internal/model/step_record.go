package model

import "time"

// JobStepRecord 对应于数据库中的 job_step_records 表。
// 它是任务步骤的检查点日志：(job_id, step_name) 唯一，
// Output 保存步骤结果的 JSON 序列化。任务重跑时，已有记录的步骤
// 直接取缓存结果跳过执行，这是管道崩溃可恢复的基础。
type JobStepRecord struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID    string `gorm:"type:varchar(128);not null;uniqueIndex:uk_job_step;column:job_id" json:"jobId"`
	StepName string `gorm:"type:varchar(100);not null;uniqueIndex:uk_job_step;column:step_name" json:"stepName"`
	Output   []byte `gorm:"type:mediumblob" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (JobStepRecord) TableName() string {
	return "job_step_records"
}
