package infra

import "context"

// Transcriber is the loaded transcription capability for one model. The
// actual inference runs out of process; implementations hold whatever
// handle is needed to reach it. SizeBytes reports GPU memory footprint
// so the per-worker model cache can enforce its budget.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest, progress func(int)) (*TranscriptionResult, error)
	SizeBytes() int64
	Close() error
}

// TranscriberLoader loads (or attaches to) a model. Loading is the
// expensive step the model cache amortizes.
type TranscriberLoader func(ctx context.Context, engine, model string) (Transcriber, error)

type TranscriptionRequest struct {
	SourceURL      string `json:"source_url"`
	Language       string `json:"language"`
	Diarize        bool   `json:"diarize"`
	WordTimestamps bool   `json:"word_timestamps"`
}

type TranscriptionSegment struct {
	ID      int                      `json:"id"`
	Start   float64                  `json:"start"`
	End     float64                  `json:"end"`
	Text    string                   `json:"text"`
	Speaker string                   `json:"speaker,omitempty"`
	Words   []map[string]interface{} `json:"words,omitempty"`
}

type TranscriptionResult struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}
