package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a conversion record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// IsTerminal reports whether no further transition happens without an
// external retry request.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// transitions lists the statuses each status may move to.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusRetrying},
	StatusRetrying:   {StatusProcessing, StatusFailed},
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConversionRecord is the durable history entry of one conversion.
type ConversionRecord struct {
	ConversionID       string    // Caller supplied, unique, immutable
	OriginalFilename   string    // Name of the uploaded PDF
	OutputFilename     *string   // Set only when Status is completed
	Status             Status    // Current lifecycle state
	HTRProvider        *string   // Provider used for VLM or handwriting recognition
	FormattingProvider *string   // Provider used for markdown formatting
	ErrorMessage       *string   // Last failure message
	RetryCount         int       // Only ever increases
	FileSize           int64     // Input size in bytes
	PageCount          int       // Pages in the input document
	CreatedAt          time.Time // Record creation timestamp
	UpdatedAt          time.Time // Last update timestamp
}

// ProcessingMethod names the path that produced the markdown.
type ProcessingMethod string

const (
	MethodVLM         ProcessingMethod = "vlm"
	MethodTraditional ProcessingMethod = "traditional"
)

// Enhancement describes what happened to the AI enhancement step.
type Enhancement string

const (
	EnhancementApplied     Enhancement = "applied"
	EnhancementSkipped     Enhancement = "skipped"
	EnhancementUnavailable Enhancement = "unavailable"
	EnhancementFailed      Enhancement = "failed"
	EnhancementDisabled    Enhancement = "disabled"
	EnhancementVLM         Enhancement = "vlm"
)

// Result is the payload of a completed conversion.
type Result struct {
	Markdown            string           `json:"markdown"`
	Filename            string           `json:"filename"`
	OutputFilename      string           `json:"output_filename"`
	OutputPath          string           `json:"output_path,omitempty"`
	FileSize            string           `json:"file_size"`
	FileSizeBytes       int64            `json:"file_size_bytes"`
	PageCount           int              `json:"page_count"`
	Timestamp           time.Time        `json:"timestamp"`
	Success             bool             `json:"success"`
	AIEnhanced          bool             `json:"ai_enhanced"`
	ProcessingMethod    ProcessingMethod `json:"processing_method"`
	VLMProvider         string           `json:"vlm_provider,omitempty"`
	FormattingProvider  string           `json:"formatting_provider,omitempty"`
	HTRProvider         string           `json:"htr_provider,omitempty"`
	Enhancement         Enhancement      `json:"enhancement"`
	PagesProcessed      int              `json:"pages_processed,omitempty"`
	PagesFailed         int              `json:"pages_failed,omitempty"`
	PromptTemplatesUsed []string         `json:"prompt_templates_used,omitempty"`
}

// ProgressStatus is the coarse status shown to pollers.
type ProgressStatus string

const (
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressError      ProgressStatus = "error"
)

// ProgressEntry is the in-memory, pollable view of an active conversion.
type ProgressEntry struct {
	ConversionID string         `json:"conversion_id"`
	Progress     int            `json:"progress"`
	Stage        string         `json:"stage"`
	CurrentPage  int            `json:"current_page,omitempty"`
	TotalPages   *int           `json:"total_pages,omitempty"`
	Status       ProgressStatus `json:"status"`
	Filename     string         `json:"filename,omitempty"`
	FileSize     string         `json:"file_size,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// FormatFileSize renders a byte count as B, KB or MB.
func FormatFileSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
