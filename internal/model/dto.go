package model

// SearchResultDTO 是语义检索返回给前端的单条结果。
type SearchResultDTO struct {
	SegmentID    uint    `json:"segmentId"`
	DocumentID   uint    `json:"documentId"`
	SourceName   string  `json:"sourceName"`
	Category     string  `json:"category"`
	Company      string  `json:"company,omitempty"`
	Label        string  `json:"label,omitempty"`
	SegmentIndex int     `json:"segmentIndex"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// ResearchBatchStatusDTO 汇总一个研究批次的整体进度。
type ResearchBatchStatusDTO struct {
	Batch     *ResearchBatch    `json:"batch"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Documents []*SourceDocument `json:"documents"`
}

// ProgressDTO 是进度推送通道下发的单帧数据。
type ProgressDTO struct {
	DocumentID        uint    `json:"documentId"`
	ExtractionStatus  string  `json:"extractionStatus"`
	EmbeddingStatus   string  `json:"embeddingStatus"`
	SegmentCount      int     `json:"segmentCount"`
	ProcessedSegments int     `json:"processedSegments"`
	Percent           float64 `json:"percent"`
	ErrorMessage      *string `json:"errorMessage,omitempty"`
}
