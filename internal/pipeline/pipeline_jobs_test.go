package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"insight-vault-go/internal/config"
	"insight-vault-go/internal/jobrunner"
	"insight-vault-go/internal/model"
	"insight-vault-go/internal/repository"
	"insight-vault-go/pkg/events"
	"insight-vault-go/pkg/transcribe"
)

// ---- 测试替身 ----

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[uint]*model.SourceDocument
}

func newFakeDocRepo(docs ...*model.SourceDocument) *fakeDocRepo {
	r := &fakeDocRepo{docs: make(map[uint]*model.SourceDocument)}
	for _, doc := range docs {
		r.docs[doc.ID] = doc
	}
	return r
}

func (r *fakeDocRepo) Create(doc *model.SourceDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *fakeDocRepo) FindByID(id uint) (*model.SourceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeDocRepo) FindByOwner(ownerID string) ([]*model.SourceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*model.SourceDocument
	for _, doc := range r.docs {
		if doc.OwnerID == ownerID {
			copied := *doc
			docs = append(docs, &copied)
		}
	}
	return docs, nil
}

func (r *fakeDocRepo) FindByBatchID(batchID uint) ([]*model.SourceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*model.SourceDocument
	for _, doc := range r.docs {
		if doc.ResearchBatchID != nil && *doc.ResearchBatchID == batchID {
			copied := *doc
			docs = append(docs, &copied)
		}
	}
	return docs, nil
}

func (r *fakeDocRepo) Updates(id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrDocumentNotFound
	}
	for key, value := range fields {
		applyDocField(doc, key, value)
	}
	return nil
}

// get 返回当前文档状态的副本，供断言使用。
func (r *fakeDocRepo) get(t *testing.T, id uint) model.SourceDocument {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	require.True(t, ok, "文档 %d 不存在", id)
	return *doc
}

func applyDocField(doc *model.SourceDocument, key string, value interface{}) {
	switch key {
	case "extraction_status":
		doc.ExtractionStatus = value.(string)
	case "embedding_status":
		doc.EmbeddingStatus = value.(string)
	case "error_message":
		if value == nil {
			doc.ErrorMessage = nil
		} else {
			msg := value.(string)
			doc.ErrorMessage = &msg
		}
	case "text_path":
		doc.TextPath = value.(string)
	case "extraction_model":
		doc.ExtractionModel = value.(string)
	case "word_count":
		doc.WordCount = value.(int)
	case "page_count":
		doc.PageCount = value.(int)
	case "segment_count":
		doc.SegmentCount = value.(int)
	case "processed_segments":
		doc.ProcessedSegments = value.(int)
	case "duration_seconds":
		doc.DurationSeconds = value.(float64)
	}
}

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[uint]*model.ResearchBatch
}

func newFakeBatchRepo(batches ...*model.ResearchBatch) *fakeBatchRepo {
	r := &fakeBatchRepo{batches: make(map[uint]*model.ResearchBatch)}
	for _, batch := range batches {
		r.batches[batch.ID] = batch
	}
	return r
}

func (r *fakeBatchRepo) Create(batch *model.ResearchBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = batch
	return nil
}

func (r *fakeBatchRepo) FindByID(id uint) (*model.ResearchBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	copied := *batch
	return &copied, nil
}

func (r *fakeBatchRepo) Updates(id uint, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return repository.ErrBatchNotFound
	}
	if value, ok := fields["status"]; ok {
		batch.Status = value.(string)
	}
	if value, ok := fields["error_message"]; ok {
		if value == nil {
			batch.ErrorMessage = nil
		} else {
			msg := value.(string)
			batch.ErrorMessage = &msg
		}
	}
	return nil
}

type fakeSegmentRepo struct {
	mu       sync.Mutex
	segments []*model.Segment
	tags     []*model.ResearchSegmentTag
	nextID   uint
}

func (r *fakeSegmentRepo) BatchCreate(segments []*model.Segment, batchSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, segment := range segments {
		r.nextID++
		segment.ID = r.nextID
		copied := *segment
		r.segments = append(r.segments, &copied)
	}
	return nil
}

func (r *fakeSegmentRepo) BatchCreateTags(tags []*model.ResearchSegmentTag, batchSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tags...)
	return nil
}

func (r *fakeSegmentRepo) FindByDocumentID(documentID uint) ([]*model.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []*model.Segment
	for _, segment := range r.segments {
		if segment.DocumentID == documentID {
			copied := *segment
			found = append(found, &copied)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].SegmentIndex < found[j].SegmentIndex })
	return found, nil
}

func (r *fakeSegmentRepo) DeleteByDocumentID(documentID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.segments[:0]
	for _, segment := range r.segments {
		if segment.DocumentID != documentID {
			kept = append(kept, segment)
		}
	}
	r.segments = kept
	keptTags := r.tags[:0]
	for _, tag := range r.tags {
		if tag.DocumentID != documentID {
			keptTags = append(keptTags, tag)
		}
	}
	r.tags = keptTags
	return nil
}

func (r *fakeSegmentRepo) count(documentID uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, segment := range r.segments {
		if segment.DocumentID == documentID {
			n++
		}
	}
	return n
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) put(bucket, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+name] = data
}

func (s *fakeObjectStore) DownloadBytes(_ context.Context, bucket, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+name]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s/%s", bucket, name)
	}
	return data, nil
}

func (s *fakeObjectStore) UploadBytes(_ context.Context, bucket, name string, data []byte, _ string) error {
	s.put(bucket, name, data)
	return nil
}

func (s *fakeObjectStore) PresignedGetURL(_ context.Context, bucket, name string, _ time.Duration) (string, error) {
	return "http://minio.test/" + bucket + "/" + name, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		Name  events.Name
		Event events.DocumentEvent
	}
}

func (p *fakePublisher) Publish(_ context.Context, name events.Name, payload events.DocumentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, struct {
		Name  events.Name
		Event events.DocumentEvent
	}{name, payload})
	return nil
}

type fakeTranscriber struct {
	result *transcribe.Result
	err    error
	calls  int
}

func (c *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (*transcribe.Result, error) {
	c.calls++
	return c.result, c.err
}

func (c *fakeTranscriber) Model() string { return "fake-whisper" }

type fakePDFExtractor struct {
	text  string
	pages int
}

func (c *fakePDFExtractor) ExtractPDFText(_ context.Context, _ []byte) (string, error) {
	return c.text, nil
}

func (c *fakePDFExtractor) PageCount(_ context.Context, _ []byte) (int, error) {
	return c.pages, nil
}

type fakeIndexer struct {
	calls   int
	indexed int
}

func (x *fakeIndexer) IndexSegments(_ context.Context, _ *model.SourceDocument, segments []*model.Segment) error {
	x.calls++
	x.indexed += len(segments)
	return nil
}

// memStepStore 是 jobrunner.StepStore 的内存实现。
type memStepStore struct {
	mu         sync.Mutex
	records    map[string][]byte
	failSaveOn string
}

func newMemStepStore() *memStepStore {
	return &memStepStore{records: make(map[string][]byte)}
}

func (s *memStepStore) Get(_ context.Context, jobID, stepName string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.records[jobID+"/"+stepName]
	return raw, ok, nil
}

func (s *memStepStore) Save(_ context.Context, jobID, stepName string, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveOn == stepName {
		return errors.New("步骤日志存储不可用")
	}
	s.records[jobID+"/"+stepName] = output
	return nil
}

// ---- 测试装配 ----

type testHarness struct {
	pipeline    *Pipeline
	runner      *jobrunner.Runner
	stepStore   *memStepStore
	docRepo     *fakeDocRepo
	segmentRepo *fakeSegmentRepo
	batchRepo   *fakeBatchRepo
	store       *fakeObjectStore
	publisher   *fakePublisher
	embedClient *fakeEmbedClient
	transcriber *fakeTranscriber
	pdf         *fakePDFExtractor
	indexer     *fakeIndexer
}

func newTestHarness(docs ...*model.SourceDocument) *testHarness {
	h := &testHarness{
		stepStore:   newMemStepStore(),
		docRepo:     newFakeDocRepo(docs...),
		segmentRepo: &fakeSegmentRepo{},
		batchRepo:   newFakeBatchRepo(),
		store:       newFakeObjectStore(),
		publisher:   &fakePublisher{},
		embedClient: &fakeEmbedClient{},
		transcriber: &fakeTranscriber{result: &transcribe.Result{Text: "transcribed text here", DurationSeconds: 8}},
		pdf:         &fakePDFExtractor{text: "extracted pdf text here", pages: 3},
		indexer:     &fakeIndexer{},
	}
	h.runner = jobrunner.NewRunner(h.stepStore)
	h.pipeline = NewPipeline(
		h.docRepo, h.segmentRepo, h.batchRepo, h.store, h.publisher,
		NewEmbedder(h.embedClient, 100), h.transcriber, h.pdf, h.indexer,
		config.MinIOConfig{RawBucket: "sources-raw", TextBucket: "sources-text"},
		config.PipelineConfig{ChunkSizeTokens: 500, OverlapTokens: 50, EmbedBatchSize: 100, InsertBatchSize: 100, StepRetries: 1},
	)
	return h
}

func audioDoc(id uint) *model.SourceDocument {
	return &model.SourceDocument{
		ID: id, OwnerID: "actor-1", SourceName: "meeting.mp3", Category: model.CategoryAudio,
		Bucket: "sources-raw", ObjectPath: "audio/meeting.mp3",
		ExtractionStatus: model.StatusPending, EmbeddingStatus: model.StatusPending,
	}
}

func researchDoc(id uint) *model.SourceDocument {
	return &model.SourceDocument{
		ID: id, OwnerID: "actor-1", SourceName: "acme-q2.json", Category: model.CategoryResearch,
		Bucket: "sources-raw", ObjectPath: "research/acme-q2.json",
		Company: "Acme", ResearchLabel: "earnings",
		ExtractionStatus: model.StatusPending, EmbeddingStatus: model.StatusPending,
	}
}

// ---- 提取阶段 ----

func TestResearchIngestJobProducesTextArtifact(t *testing.T) {
	h := newTestHarness(researchDoc(1))
	h.store.put("sources-raw", "research/acme-q2.json", []byte(`{"summary":"Revenue grew.","growth_pct":12.5}`))

	ev := events.NewDocumentEvent(1, "actor-1")
	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.ResearchIngestJob(), ev))

	doc := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusCompleted, doc.ExtractionStatus)
	assert.Equal(t, "research/acme-q2.txt", doc.TextPath)
	assert.Greater(t, doc.WordCount, 0)
	assert.Nil(t, doc.ErrorMessage)

	text, err := h.store.DownloadBytes(context.Background(), "sources-text", "research/acme-q2.txt")
	require.NoError(t, err)
	assert.Contains(t, string(text), "Company: Acme")
	assert.Contains(t, string(text), "Revenue grew.")
	assert.Contains(t, string(text), "12.5")

	require.Len(t, h.publisher.published, 1)
	next := h.publisher.published[0]
	assert.Equal(t, events.TextExtracted, next.Name)
	assert.Equal(t, uint(1), next.Event.DocumentID)
	assert.Equal(t, "actor-1", next.Event.ActorID)
	assert.NotEqual(t, ev.JobID, next.Event.JobID, "接续事件必须携带新的 JobID")
}

func TestAudioIngestJobRecordsTranscriptionMetadata(t *testing.T) {
	h := newTestHarness(audioDoc(1))
	h.store.put("sources-raw", "audio/meeting.mp3", []byte("fake audio bytes"))
	h.transcriber.result = &transcribe.Result{Text: "hello world from the meeting", DurationSeconds: 12.5}

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.AudioIngestJob(), events.NewDocumentEvent(1, "actor-1")))

	doc := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusCompleted, doc.ExtractionStatus)
	assert.Equal(t, "fake-whisper", doc.ExtractionModel)
	assert.Equal(t, 12.5, doc.DurationSeconds)
	assert.Equal(t, 5, doc.WordCount)
	assert.Equal(t, "audio/meeting.txt", doc.TextPath)
}

func TestAudioIngestJobEmptyTranscriptFailsTerminally(t *testing.T) {
	h := newTestHarness(audioDoc(1))
	h.store.put("sources-raw", "audio/meeting.mp3", []byte("fake audio bytes"))
	h.transcriber.result = &transcribe.Result{Text: "   "}

	err := h.runner.Run(context.Background(), h.pipeline.AudioIngestJob(), events.NewDocumentEvent(1, "actor-1"))
	require.NoError(t, err, "终态失败由钩子消化，事件视为已处理")

	doc := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusFailed, doc.ExtractionStatus)
	require.NotNil(t, doc.ErrorMessage)
	assert.Equal(t, 1, h.transcriber.calls, "内容性失败不应重试")
	assert.Empty(t, h.publisher.published, "失败的任务不应触发后续阶段")
}

func TestPDFIngestJobScannedDocumentFails(t *testing.T) {
	doc := audioDoc(1)
	doc.Category = model.CategoryPDF
	doc.SourceName = "scan.pdf"
	doc.ObjectPath = "pdf/scan.pdf"
	h := newTestHarness(doc)
	h.store.put("sources-raw", "pdf/scan.pdf", []byte("%PDF-1.4 fake"))
	h.pdf.text = ""

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.PDFIngestJob(), events.NewDocumentEvent(1, "")))

	got := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusFailed, got.ExtractionStatus)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "文本层")
}

func TestExtractionJobMissingDocumentFails(t *testing.T) {
	h := newTestHarness()

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.AudioIngestJob(), events.NewDocumentEvent(404, "")))
	assert.Empty(t, h.publisher.published)
}

// ---- 向量化阶段 ----

func embedReadyDoc(id uint) *model.SourceDocument {
	return &model.SourceDocument{
		ID: id, OwnerID: "actor-1", SourceName: "doc.pdf", Category: model.CategoryPDF,
		Bucket: "sources-raw", ObjectPath: "pdf/doc.pdf", TextPath: "pdf/doc.txt",
		ExtractionStatus: model.StatusCompleted, EmbeddingStatus: model.StatusPending,
	}
}

func TestEmbedJobHappyPath(t *testing.T) {
	h := newTestHarness(embedReadyDoc(1))
	h.store.put("sources-text", "pdf/doc.txt", []byte(buildSentences(120)))

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), events.NewDocumentEvent(1, "actor-1")))

	doc := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusCompleted, doc.EmbeddingStatus)
	assert.Equal(t, 2, doc.SegmentCount)
	assert.Equal(t, 2, doc.ProcessedSegments)

	segments, err := h.segmentRepo.FindByDocumentID(1)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	for i, segment := range segments {
		assert.Equal(t, i, segment.SegmentIndex)
		assert.Equal(t, "fake-embed-001", segment.ModelVersion)
		vector, err := DecodeVector(segment.Embedding)
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(i)}, vector, "向量必须与分块顺序对应")
	}

	assert.Equal(t, 1, h.indexer.calls)
	assert.Equal(t, 2, h.indexer.indexed)
	assert.Empty(t, h.segmentRepo.tags, "非研究类文档不应产生标签")
}

func TestEmbedJobResearchDocumentCreatesTags(t *testing.T) {
	doc := researchDoc(1)
	doc.ExtractionStatus = model.StatusCompleted
	doc.TextPath = "research/acme-q2.txt"
	h := newTestHarness(doc)
	h.store.put("sources-text", "research/acme-q2.txt", []byte("Revenue grew strongly. Margins improved as well."))

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), events.NewDocumentEvent(1, "actor-1")))

	require.Len(t, h.segmentRepo.tags, h.segmentRepo.count(1), "每个分段应有一条标签关联")
	for _, tag := range h.segmentRepo.tags {
		assert.Equal(t, uint(1), tag.DocumentID)
		assert.NotZero(t, tag.SegmentID)
		assert.Equal(t, "Acme", tag.Company)
		assert.Equal(t, "earnings", tag.Label)
	}
}

func TestEmbedJobPersistIsIdempotentAcrossRedelivery(t *testing.T) {
	h := newTestHarness(embedReadyDoc(1))
	h.store.put("sources-text", "pdf/doc.txt", []byte(buildSentences(120)))

	// 第一次投递：分段已写入数据库，但步骤结果落盘失败，
	// 任务以基础设施错误返回，消息会被重投递
	h.stepStore.failSaveOn = "persist-segments"
	ev := events.NewDocumentEvent(1, "actor-1")
	require.Error(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), ev))
	assert.Equal(t, 2, h.segmentRepo.count(1))

	// 重投递：persist-segments 重跑，先清后插，不产生重复分段
	h.stepStore.failSaveOn = ""
	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), ev))

	assert.Equal(t, 2, h.segmentRepo.count(1), "重投递后每个分块仍然只有一条分段记录")
	assert.Equal(t, 1, h.embedClient.callCount(), "embed 步骤已记忆，不应重新调用提供方")
	assert.Equal(t, model.StatusCompleted, h.docRepo.get(t, 1).EmbeddingStatus)
}

func TestEmbedJobQuotaFailureMarksBatchFailed(t *testing.T) {
	batchID := uint(9)
	doc := researchDoc(1)
	doc.ExtractionStatus = model.StatusCompleted
	doc.TextPath = "research/acme-q2.txt"
	doc.ResearchBatchID = &batchID
	h := newTestHarness(doc)
	h.batchRepo.Create(&model.ResearchBatch{ID: batchID, OwnerID: "actor-1", Name: "q2-batch", Status: model.StatusProcessing})
	h.store.put("sources-text", "research/acme-q2.txt", []byte("Revenue grew strongly this quarter."))
	h.embedClient.quotaOnCall = 1

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), events.NewDocumentEvent(1, "actor-1")))

	got := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusFailed, got.EmbeddingStatus)
	require.NotNil(t, got.ErrorMessage)

	batch, err := h.batchRepo.FindByID(batchID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, batch.Status, "配额错误必须传播到所属研究批次")
	require.NotNil(t, batch.ErrorMessage)

	assert.Equal(t, 1, h.embedClient.callCount(), "配额错误不应重试")
}

func TestEmbedJobEmptyTextCompletesWithZeroSegments(t *testing.T) {
	h := newTestHarness(embedReadyDoc(1))
	h.store.put("sources-text", "pdf/doc.txt", []byte("   \n\t  "))

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), events.NewDocumentEvent(1, "")))

	doc := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusCompleted, doc.EmbeddingStatus)
	assert.Equal(t, 0, doc.SegmentCount)
	assert.Equal(t, 0, h.segmentRepo.count(1))
	assert.Equal(t, 0, h.embedClient.callCount(), "没有分块就不应调用提供方")
	assert.Equal(t, 0, h.indexer.calls)
}

func TestEmbedJobRejectsUnextractedDocument(t *testing.T) {
	doc := embedReadyDoc(1)
	doc.ExtractionStatus = model.StatusProcessing
	h := newTestHarness(doc)

	require.NoError(t, h.runner.Run(context.Background(), h.pipeline.EmbedJob(), events.NewDocumentEvent(1, "")))

	got := h.docRepo.get(t, 1)
	assert.Equal(t, model.StatusFailed, got.EmbeddingStatus)
	assert.Equal(t, 0, h.embedClient.callCount())
}

func TestTextObjectPath(t *testing.T) {
	assert.Equal(t, "audio/meeting.txt", TextObjectPath("audio/meeting.mp3"))
	assert.Equal(t, "pdf/report.txt", TextObjectPath("pdf/report.pdf"))
	assert.Equal(t, "research/q2.txt", TextObjectPath("research/q2.json"))
	assert.Equal(t, "plain.txt", TextObjectPath("plain"))
}
