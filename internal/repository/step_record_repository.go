package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"insight-vault-go/internal/model"
)

// StepRecordRepository 定义了对 job_step_records 表的数据操作接口。
// 它是任务运行器的检查点存储：签名与 jobrunner.StepStore 对齐。
type StepRecordRepository interface {
	Get(ctx context.Context, jobID, stepName string) ([]byte, bool, error)
	Save(ctx context.Context, jobID, stepName string, output []byte) error
}

type stepRecordRepository struct {
	db *gorm.DB
}

// NewStepRecordRepository 创建一个新的 StepRecordRepository 实例。
func NewStepRecordRepository(db *gorm.DB) StepRecordRepository {
	return &stepRecordRepository{db: db}
}

// Get 读取某个任务某个步骤的缓存结果。第二个返回值表示记录是否存在。
func (r *stepRecordRepository) Get(ctx context.Context, jobID, stepName string) ([]byte, bool, error) {
	var record model.JobStepRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND step_name = ?", jobID, stepName).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record.Output, true, nil
}

// Save 写入步骤结果。(job_id, step_name) 冲突时保留既有记录，
// 保证并发重跑下步骤结果只写一次。
func (r *stepRecordRepository) Save(ctx context.Context, jobID, stepName string, output []byte) error {
	record := &model.JobStepRecord{
		JobID:    jobID,
		StepName: stepName,
		Output:   output,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}
