// Package events 定义了摄取管道消费和发出的事件。
package events

import (
	"context"

	"github.com/google/uuid"
)

// Name 是管道事件的名称。
type Name string

const (
	// AudioUploaded 音频源上传完成，触发转写阶段。
	AudioUploaded Name = "source/uploaded/audio"
	// PDFUploaded PDF 源上传完成，触发文本提取阶段。
	PDFUploaded Name = "source/uploaded/pdf"
	// TextExtracted 文本提取完成，触发分块+向量化阶段。
	TextExtracted Name = "text/extracted"
	// ResearchCreated 结构化研究报告创建完成，触发扁平化阶段。
	ResearchCreated Name = "research-source/created"
)

// DocumentEvent 是所有管道事件的统一负载：文档标识加可选的操作者标识。
// ActorID 来自认证上下文，沿管道透传，绝不使用硬编码的默认用户。
//
// JobID 在发布时生成，标识"一次任务调用"：同一条消息被重投递时
// JobID 不变，步骤日志可以续跑；显式重新触发会生成新的 JobID，
// 从头执行而不会命中旧的步骤缓存。
type DocumentEvent struct {
	JobID      string `json:"job_id"`
	DocumentID uint   `json:"document_id"`
	ActorID    string `json:"actor_id,omitempty"`
}

// NewDocumentEvent 创建一个带新 JobID 的事件负载。
func NewDocumentEvent(documentID uint, actorID string) DocumentEvent {
	return DocumentEvent{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		ActorID:    actorID,
	}
}

// Publisher 定义了事件发布接口。管道只依赖这个接口，
// 方便在测试中替换为内存实现。
type Publisher interface {
	Publish(ctx context.Context, event Name, payload DocumentEvent) error
}
