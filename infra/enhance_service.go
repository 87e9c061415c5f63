package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scribe-rabbit/scribe-orchestrator/config"
)

// EnhanceService is the client for the external enhanced-AI service that
// post-processes completed transcriptions (summaries, entities, etc).
type EnhanceService struct {
	EnhanceServiceURL string
	apiKey            string
	client            *http.Client
}

func InitEnhanceService(cfg *config.EnvConfig) *EnhanceService {
	return &EnhanceService{
		EnhanceServiceURL: cfg.ExternalService.EnhanceServiceURL,
		apiKey:            cfg.ExternalService.EnhanceAPIKey,
		client:            &http.Client{Timeout: 2 * time.Minute},
	}
}

type EnhanceRequest struct {
	Text              string `json:"text"`
	Language          string `json:"language"`
	Summarization     bool   `json:"summarization"`
	EntityExtraction  bool   `json:"entity_extraction"`
	SentimentAnalysis bool   `json:"sentiment_analysis"`
	Keywords          bool   `json:"keywords"`
}

type EnhanceResult struct {
	Summary   string                   `json:"summary,omitempty"`
	Entities  []map[string]interface{} `json:"entities,omitempty"`
	Sentiment string                   `json:"sentiment,omitempty"`
	Keywords  []string                 `json:"keywords,omitempty"`
}

func (s *EnhanceService) Enhance(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if s.EnhanceServiceURL == "" {
		return nil, fmt.Errorf("enhance service is not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.EnhanceServiceURL+"/v1/enhance", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, Transient(fmt.Errorf("enhance service returned %d: %s", resp.StatusCode, msg))
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("enhance service returned %d: %s", resp.StatusCode, msg)
	}

	var result EnhanceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
