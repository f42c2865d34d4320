// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/log"
	"insight-vault-go/pkg/storage"
)

// ErrUnsupportedSourceType 表示上传的文件类型不在支持范围内。
var ErrUnsupportedSourceType = errors.New("不支持的源文件类型，目前支持音频与 PDF")

// ErrNotOwner 表示操作者不是该资源的所有者。
var ErrNotOwner = errors.New("无权访问该资源")

// SourceService 接口定义了源文档的上传与查询操作。
type SourceService interface {
	// UploadSource 保存上传的原始文件并发出相应的摄取事件。
	UploadSource(ctx context.Context, actorID, fileName, mimeType string, data []byte) (*model.SourceDocument, error)
	GetSource(actorID string, id uint) (*model.SourceDocument, error)
	ListSources(actorID string) ([]*model.SourceDocument, error)
	// Reprocess 显式重新触发处理：发出携带新 JobID 的事件，从头执行。
	Reprocess(ctx context.Context, actorID string, id uint) error
	// DownloadURL 为原始文件生成带签名的临时下载链接。
	DownloadURL(ctx context.Context, actorID string, id uint) (string, error)
	// Segments 返回文档的全部分段，按顺序排列。
	Segments(actorID string, id uint) ([]*model.Segment, error)
}

type sourceService struct {
	docRepo     repository.SourceDocumentRepository
	segmentRepo repository.SegmentRepository
	store       storage.ObjectStore
	publisher   events.Publisher
	minioCfg    config.MinIOConfig
}

// NewSourceService 创建一个新的 SourceService 实例。
func NewSourceService(
	docRepo repository.SourceDocumentRepository,
	segmentRepo repository.SegmentRepository,
	store storage.ObjectStore,
	publisher events.Publisher,
	minioCfg config.MinIOConfig,
) SourceService {
	return &sourceService{
		docRepo:     docRepo,
		segmentRepo: segmentRepo,
		store:       store,
		publisher:   publisher,
		minioCfg:    minioCfg,
	}
}

// UploadSource 保存原始文件、登记源文档并发出摄取事件。
func (s *sourceService) UploadSource(ctx context.Context, actorID, fileName, mimeType string, data []byte) (*model.SourceDocument, error) {
	log.Infof("[SourceService] 收到上传, actor: %s, file: %s, size: %d字节", actorID, fileName, len(data))

	category, event, err := classifySource(fileName, mimeType)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("上传内容为空")
	}

	// 1. 原始文件先落对象存储，路径带 uuid 避免同名覆盖
	objectPath := fmt.Sprintf("%s/%s-%s", category, uuid.NewString(), filepath.Base(fileName))
	if err := s.store.UploadBytes(ctx, s.minioCfg.RawBucket, objectPath, data, mimeType); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}
	log.Infof("[SourceService] 步骤1: 原始文件已保存, path: %s", objectPath)

	// 2. 登记源文档，两个处理阶段都从 pending 开始
	doc := &model.SourceDocument{
		OwnerID:          actorID,
		SourceName:       fileName,
		Category:         category,
		MimeType:         mimeType,
		Bucket:           s.minioCfg.RawBucket,
		ObjectPath:       objectPath,
		ExtractionStatus: model.StatusPending,
		EmbeddingStatus:  model.StatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("登记源文档失败: %w", err)
	}
	log.Infof("[SourceService] 步骤2: 源文档已登记, DocumentID: %d", doc.ID)

	// 3. 发出摄取事件，后续处理全部异步进行
	if err := s.publisher.Publish(ctx, event, events.NewDocumentEvent(doc.ID, actorID)); err != nil {
		// 文档已登记，发布失败可通过 Reprocess 重新触发
		log.Errorf("[SourceService] 发布摄取事件失败, DocumentID: %d: %v", doc.ID, err)
		return nil, fmt.Errorf("触发处理失败: %w", err)
	}
	log.Infof("[SourceService] 步骤3: 摄取事件已发出, DocumentID: %d, event: %s", doc.ID, event)

	return doc, nil
}

func (s *sourceService) GetSource(actorID string, id uint) (*model.SourceDocument, error) {
	doc, err := s.docRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != actorID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

func (s *sourceService) ListSources(actorID string) ([]*model.SourceDocument, error) {
	return s.docRepo.FindByOwner(actorID)
}

// Reprocess 根据文档当前状态选择重新触发的阶段：
// 提取未完成时从头提取；提取已完成时只重做分块+向量化。
// 事件携带新 JobID，不会命中旧任务的步骤缓存。
func (s *sourceService) Reprocess(ctx context.Context, actorID string, id uint) error {
	doc, err := s.GetSource(actorID, id)
	if err != nil {
		return err
	}

	event := events.TextExtracted
	if doc.ExtractionStatus != model.StatusCompleted {
		switch doc.Category {
		case model.CategoryAudio:
			event = events.AudioUploaded
		case model.CategoryPDF:
			event = events.PDFUploaded
		case model.CategoryResearch:
			event = events.ResearchCreated
		default:
			return fmt.Errorf("未知的源类别: %s", doc.Category)
		}
	}

	log.Infof("[SourceService] 重新触发处理, DocumentID: %d, event: %s", doc.ID, event)
	return s.publisher.Publish(ctx, event, events.NewDocumentEvent(doc.ID, actorID))
}

func (s *sourceService) DownloadURL(ctx context.Context, actorID string, id uint) (string, error) {
	doc, err := s.GetSource(actorID, id)
	if err != nil {
		return "", err
	}
	return s.store.PresignedGetURL(ctx, doc.Bucket, doc.ObjectPath, 15*time.Minute)
}

func (s *sourceService) Segments(actorID string, id uint) ([]*model.Segment, error) {
	doc, err := s.GetSource(actorID, id)
	if err != nil {
		return nil, err
	}
	return s.segmentRepo.FindByDocumentID(doc.ID)
}

// classifySource 根据文件名与 MIME 类型判断源类别及其对应的摄取事件。
func classifySource(fileName, mimeType string) (string, events.Name, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case strings.HasPrefix(mimeType, "audio/"),
		ext == ".mp3", ext == ".wav", ext == ".m4a", ext == ".ogg", ext == ".flac":
		return model.CategoryAudio, events.AudioUploaded, nil
	case mimeType == "application/pdf", ext == ".pdf":
		return model.CategoryPDF, events.PDFUploaded, nil
	default:
		return "", "", ErrUnsupportedSourceType
	}
}
