package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/log"
)

// DefaultStepRetries 是单个步骤的默认尝试次数上限。
const DefaultStepRetries = 3

// failureStepName 是失败钩子在步骤日志中的占位名。
// 钩子执行成功后写入这条记录，保证每个任务的钩子至多执行一次。
const failureStepName = "__failure__"

// 步骤重试的退避参数。测试中会调小初始间隔。
var (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
)

// StepStore 是任务步骤的检查点存储：(jobID, stepName) -> 结果 JSON。
// 已有记录的步骤在重跑时直接取缓存结果跳过执行。
type StepStore interface {
	Get(ctx context.Context, jobID, stepName string) ([]byte, bool, error)
	Save(ctx context.Context, jobID, stepName string, output []byte) error
}

// StepContext 携带一次任务调用的负载，并提供读取已完成步骤结果的入口。
type StepContext struct {
	JobID   string
	Event   events.DocumentEvent
	results map[string][]byte
}

// Result 将名为 stepName 的已完成步骤的输出反序列化到 out。
// 步骤还没有结果时返回错误——步骤之间的依赖必须按声明顺序排列。
func (sc *StepContext) Result(stepName string, out interface{}) error {
	raw, ok := sc.results[stepName]
	if !ok {
		return fmt.Errorf("步骤 '%s' 还没有可用的结果", stepName)
	}
	return json.Unmarshal(raw, out)
}

// StepFunc 是一个步骤的执行体。返回值会被 JSON 序列化写入步骤日志。
type StepFunc func(ctx context.Context, sc *StepContext) (interface{}, error)

// Step 是任务中一个具名的、可独立重试的工作单元。
type Step struct {
	Name string
	Run  StepFunc
}

// FailureHook 在重试耗尽或遇到终态错误时执行，每个任务至多一次。
// 钩子是唯一向所属实体写入用户可见失败状态的地方；它必须幂等，
// 且不能假设任何步骤已经成功。
type FailureHook func(ctx context.Context, sc *StepContext, stepName string, stepErr error) error

// Job 是一类管道任务的定义：有序的步骤列表加上失败钩子。
// Concurrency 声明该任务类型的并发实例上限，由事件分发层执行，
// 步骤逻辑本身不感知。
type Job struct {
	Name        string
	Concurrency int
	Retries     int
	Steps       []Step
	OnFailure   FailureHook
}

// Runner 按顺序执行任务的各个步骤，并通过 StepStore 做步骤记忆。
type Runner struct {
	store StepStore
}

// NewRunner 创建一个新的 Runner 实例。
func NewRunner(store StepStore) *Runner {
	return &Runner{store: store}
}

// Handler 将任务定义包装成事件处理函数，供消费者注册。
func (r *Runner) Handler(job Job) events.HandlerFunc {
	return func(ctx context.Context, ev events.DocumentEvent) error {
		return r.Run(ctx, job, ev)
	}
}

// Run 执行一次任务调用。
//
// 返回 nil 表示事件已被消化：任务正常完成，或者终态失败且失败钩子
// 已把状态落库。返回错误表示基础设施层面的问题（步骤日志读写失败、
// 钩子本身失败），此时调用方不提交 offset，重投递会基于步骤日志
// 从断点继续。
func (r *Runner) Run(ctx context.Context, job Job, ev events.DocumentEvent) error {
	jobID := ev.JobID
	if jobID == "" {
		// 老消息没有 JobID 时退化为按文档推导，至少保证幂等
		jobID = fmt.Sprintf("%s:%d", job.Name, ev.DocumentID)
	}

	sc := &StepContext{
		JobID:   jobID,
		Event:   ev,
		results: make(map[string][]byte),
	}

	log.Infof("[JobRunner] 开始执行任务: %s, JobID: %s, DocumentID: %d", job.Name, jobID, ev.DocumentID)

	for i, step := range job.Steps {
		cached, ok, err := r.store.Get(ctx, jobID, step.Name)
		if err != nil {
			return fmt.Errorf("读取步骤日志失败 (%s/%s): %w", jobID, step.Name, err)
		}
		if ok {
			log.Infof("[JobRunner] 步骤%d '%s' 已有缓存结果，跳过执行", i+1, step.Name)
			sc.results[step.Name] = cached
			continue
		}

		log.Infof("[JobRunner] 步骤%d '%s' 开始执行", i+1, step.Name)
		out, err := r.runWithRetry(ctx, job, sc, step)
		if err != nil {
			log.Errorf("[JobRunner] 步骤 '%s' 终态失败: %v", step.Name, err)
			return r.fail(ctx, job, sc, step.Name, err)
		}

		raw, err := json.Marshal(out)
		if err != nil {
			// 步骤输出必须可序列化，序列化失败是程序错误，按终态处理
			return r.fail(ctx, job, sc, step.Name, Terminal(fmt.Errorf("步骤输出序列化失败: %w", err)))
		}
		if err := r.store.Save(ctx, jobID, step.Name, raw); err != nil {
			return fmt.Errorf("写入步骤日志失败 (%s/%s): %w", jobID, step.Name, err)
		}
		sc.results[step.Name] = raw
		log.Infof("[JobRunner] 步骤%d '%s' 执行成功", i+1, step.Name)
	}

	log.Infof("[JobRunner] 任务执行完成: %s, JobID: %s", job.Name, jobID)
	return nil
}

// runWithRetry 执行单个步骤，瞬时失败时按指数退避重试。
// 终态错误不重试，立即上抛。
func (r *Runner) runWithRetry(ctx context.Context, job Job, sc *StepContext, step Step) (interface{}, error) {
	retries := job.Retries
	if retries <= 0 {
		retries = DefaultStepRetries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		out, err := step.Run(ctx, sc)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if IsTerminal(err) {
			return nil, err
		}
		if attempt == retries {
			break
		}

		wait := bo.NextBackOff()
		log.Warnf("[JobRunner] 步骤 '%s' 第%d次尝试失败，%s 后重试: %v", step.Name, attempt, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("步骤 '%s' 重试 %d 次后仍失败: %w", step.Name, retries, lastErr)
}

// failureRecord 是失败钩子在步骤日志中留下的记录内容。
type failureRecord struct {
	StepName string `json:"step_name"`
	Error    string `json:"error"`
}

// fail 执行失败钩子并写入失败记录。
// 钩子通过步骤日志去重：重投递再次走到这里时直接返回，不会重复执行。
func (r *Runner) fail(ctx context.Context, job Job, sc *StepContext, stepName string, stepErr error) error {
	_, done, err := r.store.Get(ctx, sc.JobID, failureStepName)
	if err != nil {
		return fmt.Errorf("读取失败记录失败 (%s): %w", sc.JobID, err)
	}
	if done {
		log.Infof("[JobRunner] 任务 %s 的失败钩子已执行过，跳过", sc.JobID)
		return nil
	}

	if job.OnFailure != nil {
		if err := job.OnFailure(ctx, sc, stepName, stepErr); err != nil {
			// 钩子失败属于基础设施问题：不写失败记录，等重投递再执行一次
			return fmt.Errorf("失败钩子执行失败 (%s): %w", sc.JobID, err)
		}
	}

	raw, _ := json.Marshal(failureRecord{StepName: stepName, Error: stepErr.Error()})
	if err := r.store.Save(ctx, sc.JobID, failureStepName, raw); err != nil {
		return fmt.Errorf("写入失败记录失败 (%s): %w", sc.JobID, err)
	}

	log.Errorf("[JobRunner] 任务 %s 终态失败于步骤 '%s': %v", job.Name, stepName, stepErr)
	return nil
}
