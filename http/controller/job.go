package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/scribe-rabbit/scribe-orchestrator/entity"
	"github.com/scribe-rabbit/scribe-orchestrator/http/controller/dto"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
	"github.com/scribe-rabbit/scribe-orchestrator/utils"
)

// CreateTranscriptionJob accepts a URL-sourced transcription request,
// persists it as pending and enqueues a dispatch reference. It never
// waits for processing.
func (ctrl *Controller) CreateTranscriptionJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateTranscriptionJobDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Job] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	if err := ValidateAbsoluteURL(req.URL); err != nil {
		utils.JSON400(c, "Invalid audio URL: "+err.Error())
		return
	}
	if req.WebhookURL != "" {
		if err := ValidateAbsoluteURL(req.WebhookURL); err != nil {
			utils.JSON400(c, "Invalid webhook URL: "+err.Error())
			return
		}
	}

	wordTimestamps := true
	if req.WordTimestamps != nil {
		wordTimestamps = *req.WordTimestamps
	}

	params := entity.JobParameters{
		SourceURL:      req.URL,
		Engine:         withDefault(req.Engine, ctrl.Config.EnvConfig.Transcription.DefaultEngine),
		Model:          withDefault(req.Model, ctrl.Config.EnvConfig.Transcription.DefaultModel),
		Language:       withDefault(req.Language, ctrl.Config.EnvConfig.Transcription.DefaultLanguage),
		Diarize:        req.Diarize,
		WordTimestamps: wordTimestamps,
		WebhookURL:     req.WebhookURL,
		CorrelationID:  req.CorrelationID,
	}

	ctrl.submitJob(c, entity.JobKindTranscription, nil, params)
}

// UploadTranscriptionJob accepts a multipart audio upload, stores the
// file in the audio bucket and submits the job against the stored object.
func (ctrl *Controller) UploadTranscriptionJob(c *gin.Context) {
	ctx := c.Request.Context()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.JSON400(c, "Missing audio file")
		return
	}

	webhookURL := c.PostForm("webhook_url")
	if webhookURL != "" {
		if err := ValidateAbsoluteURL(webhookURL); err != nil {
			utils.JSON400(c, "Invalid webhook URL: "+err.Error())
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to open uploaded file")
		utils.JSON500(c, "Failed to read uploaded file")
		return
	}
	defer file.Close()

	objectKey := fmt.Sprintf("%s/%s", uuid.New(), filepath.Base(fileHeader.Filename))
	contentType := fileHeader.Header.Get("Content-Type")
	if err := ctrl.Infra.Minio.PutAudio(ctx, objectKey, file, fileHeader.Size, contentType); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to store uploaded audio")
		utils.JSON500(c, "Failed to store uploaded audio")
		return
	}

	params := entity.JobParameters{
		SourceObject:   objectKey,
		Filename:       fileHeader.Filename,
		Engine:         withDefault(c.PostForm("engine"), ctrl.Config.EnvConfig.Transcription.DefaultEngine),
		Model:          withDefault(c.PostForm("model"), ctrl.Config.EnvConfig.Transcription.DefaultModel),
		Language:       withDefault(c.PostForm("language"), ctrl.Config.EnvConfig.Transcription.DefaultLanguage),
		Diarize:        c.PostForm("diarize") == "true",
		WordTimestamps: c.PostForm("word_timestamps") != "false",
		WebhookURL:     webhookURL,
		CorrelationID:  c.PostForm("correlation_id"),
	}

	ctrl.submitJob(c, entity.JobKindTranscription, nil, params)
}

// CreateEnhanceJob submits a chained enhanced-AI job. The parent
// transcription must already be completed.
func (ctrl *Controller) CreateEnhanceJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateEnhanceJobDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Job] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	if req.WebhookURL != "" {
		if err := ValidateAbsoluteURL(req.WebhookURL); err != nil {
			utils.JSON400(c, "Invalid webhook URL: "+err.Error())
			return
		}
	}

	parentID, err := uuid.Parse(req.TranscriptionJobID)
	if err != nil {
		utils.JSON400(c, "Invalid transcription_job_id")
		return
	}

	parent, err := ctrl.Repository.JobRepo.FindByID(parentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.JSON404(c, "Transcription job not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to load parent job %s", parentID)
		utils.JSON500(c, "Failed to load transcription job")
		return
	}

	if parent.Kind != entity.JobKindTranscription {
		utils.JSON400(c, "Parent job is not a transcription job")
		return
	}
	if parent.Status != entity.JobStatusCompleted {
		utils.JSON409(c, "Transcription job must be completed before enhanced AI processing")
		return
	}

	params := entity.JobParameters{
		Summarization:     req.Summarization,
		EntityExtraction:  req.EntityExtraction,
		SentimentAnalysis: req.SentimentAnalysis,
		Keywords:          req.Keywords,
		WebhookURL:        req.WebhookURL,
		CorrelationID:     req.CorrelationID,
	}

	ctrl.submitJob(c, entity.JobKindEnhancedAI, &parentID, params)
}

// submitJob is the shared write-then-enqueue path. The store write
// happens first; if the publish fails the reconciliation sweep picks the
// row up later, which is what makes dispatch at-least-once.
func (ctrl *Controller) submitJob(c *gin.Context, kind entity.JobKind, parentID *uuid.UUID, params entity.JobParameters) {
	ctx := c.Request.Context()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		utils.JSON500(c, "Failed to encode job parameters")
		return
	}

	job := &entity.Job{
		ID:         uuid.New(),
		Kind:       kind,
		Status:     entity.JobStatusPending,
		ParentID:   parentID,
		Parameters: paramsJSON,
		MaxRetries: ctrl.Config.EnvConfig.Jobs.MaxRetries,
	}

	if err := ctrl.Repository.JobRepo.Create(job); err != nil {
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to persist job")
		utils.JSON500(c, "Job store unavailable")
		return
	}

	if err := ctrl.Infra.Produce.JobService.PublishJob(ctx, string(kind), job.ID.String(), 0); err != nil {
		// Job row exists; the sweep will enqueue it. Client still gets
		// the id.
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to publish job %s, sweep will recover", job.ID)
	} else if err := ctrl.Repository.JobRepo.MarkEnqueued(job.ID); err != nil {
		ctrl.Infra.Logger.WarningWithContextf(ctx, "[Job] Failed to stamp enqueue time for %s: %v", job.ID, err)
	}

	ctrl.Infra.Observability.JobsSubmitted.Add(ctx, 1)
	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Job] Submitted %s job %s", kind, job.ID)

	utils.JSON202(c, dto.JobCreatedDTO{
		JobID:  job.ID.String(),
		Status: string(entity.JobStatusPending),
	})
}

// GetJobStatus is the polling endpoint. Pure read; terminal jobs return
// identical content on every call.
func (ctrl *Controller) GetJobStatus(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid job id")
		return
	}

	job, err := ctrl.Repository.JobRepo.FindByID(jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.JSON404(c, "Job not found")
			return
		}
		ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to load job %s", jobID)
		utils.JSON500(c, "Failed to load job")
		return
	}

	resp := dto.JobStatusDTO{
		JobID:            job.ID.String(),
		Kind:             string(job.Kind),
		Status:           string(job.Status),
		Progress:         job.Progress,
		RetryCount:       job.RetryCount,
		WebhookDelivered: job.WebhookDelivered,
		CreatedAt:        job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Status == entity.JobStatusCompleted && len(job.Result) > 0 {
		resp.Result = json.RawMessage(job.Result)
	}
	if job.Status == entity.JobStatusFailed {
		resp.Error = job.ErrorMessage
	}

	utils.JSON200(c, resp)
}

// CancelJob cancels a pending job immediately or flags a processing job
// for cooperative cancellation at its next checkpoint.
func (ctrl *Controller) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.JSON400(c, "Invalid job id")
		return
	}

	job, err := ctrl.Repository.JobRepo.Cancel(jobID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			utils.JSON404(c, "Job not found")
		case errors.Is(err, repository.ErrAlreadyTerminal):
			utils.JSON409(c, "Job already finished")
		default:
			ctrl.Infra.Logger.ErrorWithContextf(ctx, err, "[Job] Failed to cancel job %s", jobID)
			utils.JSON500(c, "Failed to cancel job")
		}
		return
	}

	if job.Status == entity.JobStatusCancelled {
		ctrl.Infra.Observability.JobsCancelled.Add(ctx, 1)
	}
	ctrl.Infra.Logger.InfoWithContextf(ctx, "[Job] Cancel requested for job %s (status %s)", jobID, job.Status)

	utils.JSON200(c, gin.H{
		"job_id": job.ID.String(),
		"status": string(job.Status),
	})
}

// ListModels returns the transcription model catalog.
func (ctrl *Controller) ListModels(c *gin.Context) {
	utils.JSON200(c, gin.H{
		"models": []gin.H{
			{
				"id":          "ivrit-ai/whisper-large-v3-turbo-ct2",
				"name":        "Whisper Large V3 Turbo (Hebrew)",
				"engine":      "faster-whisper",
				"language":    "he",
				"description": "Optimized Hebrew transcription model (fastest)",
			},
			{
				"id":          "ivrit-ai/whisper-large-v3-ct2",
				"name":        "Whisper Large V3 (Hebrew)",
				"engine":      "faster-whisper",
				"language":    "he",
				"description": "High-accuracy Hebrew transcription model",
			},
			{
				"id":          "large-v3-turbo",
				"name":        "Whisper Large V3 Turbo (Multilingual)",
				"engine":      "faster-whisper",
				"language":    "auto",
				"description": "Fast multilingual transcription",
			},
		},
	})
}

func (ctrl *Controller) HealthCheck(c *gin.Context) {
	utils.JSON200(c, gin.H{
		"status":  "healthy",
		"service": ctrl.Config.EnvConfig.Grafana.ServiceName,
	})
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
