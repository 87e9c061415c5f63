package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/scribe-rabbit/scribe-orchestrator/config"
)

// InferenceService talks to the GPU inference sidecar that hosts the
// actual speech-to-text models. Model load/unload is explicit so the
// worker's cache controls GPU memory.
type InferenceService struct {
	InferenceServiceURL string
	client              *http.Client
}

func InitInferenceService(cfg *config.EnvConfig) *InferenceService {
	if cfg.ExternalService.InferenceServiceURL == "" {
		panic("Inference service URL is not configured")
	}

	return &InferenceService{
		InferenceServiceURL: cfg.ExternalService.InferenceServiceURL,
		// Transcription calls run for minutes; no client-side timeout,
		// cancellation comes from the job context.
		client: &http.Client{},
	}
}

type loadModelRequest struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

type loadModelResponse struct {
	SizeBytes int64 `json:"size_bytes"`
}

// LoadModel asks the sidecar to load a model and returns a handle bound
// to it. The handle implements Transcriber.
func (s *InferenceService) LoadModel(ctx context.Context, engine, model string) (Transcriber, error) {
	var resp loadModelResponse
	if err := s.post(ctx, "/v1/models/load", loadModelRequest{Engine: engine, Model: model}, &resp); err != nil {
		// Model downloads ride on the network; worth another attempt.
		return nil, Transient(fmt.Errorf("load model %s/%s: %w", engine, model, err))
	}

	return &modelHandle{
		svc:       s,
		engine:    engine,
		model:     model,
		sizeBytes: resp.SizeBytes,
	}, nil
}

type modelHandle struct {
	svc       *InferenceService
	engine    string
	model     string
	sizeBytes int64
}

type transcribeRequest struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
	TranscriptionRequest
}

func (h *modelHandle) Transcribe(ctx context.Context, req TranscriptionRequest, progress func(int)) (*TranscriptionResult, error) {
	if progress != nil {
		progress(10)
	}

	var result TranscriptionResult
	err := h.svc.post(ctx, "/v1/transcribe", transcribeRequest{
		Engine:               h.engine,
		Model:                h.model,
		TranscriptionRequest: req,
	}, &result)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(90)
	}
	return &result, nil
}

func (h *modelHandle) SizeBytes() int64 {
	return h.sizeBytes
}

func (h *modelHandle) Close() error {
	return h.svc.post(context.Background(), "/v1/models/unload",
		loadModelRequest{Engine: h.engine, Model: h.model}, nil)
}

func (s *InferenceService) post(ctx context.Context, path string, body, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.InferenceServiceURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Transient(fmt.Errorf("inference service returned %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inference service returned %d: %s", resp.StatusCode, msg)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
