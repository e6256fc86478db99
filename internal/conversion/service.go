package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ink2md/internal/config"
	"ink2md/internal/document"
	"ink2md/internal/logger"
	"ink2md/internal/progress"
	"ink2md/internal/provider"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

// PageSeparator joins the markdown of consecutive pages on the VLM path.
const PageSeparator = "\n\n---\n\n"

var conversionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Options control one Service.
type Options struct {
	InputDir      string
	OutputDir     string
	OutputPattern string

	MaxRetries  int
	BackoffCap  int
	BackoffUnit time.Duration

	VLMProviderID        string
	FormattingProviderID string
	HTRProviderID        string

	VLMMinPageRatio float64
	PageRenderScale float64
}

// OptionsFromConfig copies the conversion settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputDir:             cfg.InputDir,
		OutputDir:            cfg.OutputDir,
		OutputPattern:        cfg.OutputPattern,
		MaxRetries:           cfg.MaxRetries,
		BackoffCap:           cfg.RetryBackoffCap,
		BackoffUnit:          cfg.RetryBackoffUnit,
		VLMProviderID:        cfg.VLMProviderID,
		FormattingProviderID: cfg.FormattingProviderID,
		HTRProviderID:        cfg.HTRProviderID,
		VLMMinPageRatio:      cfg.VLMMinPageRatio,
		PageRenderScale:      cfg.PageRenderScale,
	}
}

// PromptRenderer renders named prompt templates.
type PromptRenderer interface {
	Render(name string, vars map[string]string) string
	Resolve(name string) string
}

// Service runs conversions. It owns the workers it starts; Wait blocks until
// they have finished.
type Service struct {
	opts     Options
	registry *provider.Registry
	prompts  PromptRenderer
	store    store.Store
	tracker  *progress.Tracker
	opener   document.Opener

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	wg  sync.WaitGroup
	log zerolog.Logger
}

// NewService wires a conversion service.
func NewService(
	opts Options,
	registry *provider.Registry,
	prompts PromptRenderer,
	st store.Store,
	tracker *progress.Tracker,
	opener document.Opener,
) *Service {
	if opts.OutputPattern == "" {
		opts.OutputPattern = config.DefaultOutputPattern
	}
	if opts.PageRenderScale <= 0 {
		opts.PageRenderScale = document.DefaultScale
	}
	return &Service{
		opts:     opts,
		registry: registry,
		prompts:  prompts,
		store:    st,
		tracker:  tracker,
		opener:   opener,
		now:      time.Now,
		sleep:    sleepContext,
		log:      logger.WithComponent("conversion"),
	}
}

// NewConversionID returns a fresh conversion id.
func NewConversionID() string {
	return uuid.NewString()
}

// Progress returns the pollable state of a conversion.
func (s *Service) Progress(conversionID string) (models.ProgressEntry, bool) {
	return s.tracker.Get(conversionID)
}

// Submit spools data and converts it on a new worker. It returns once the
// worker has started; poll Progress or call Wait for the outcome.
func (s *Service) Submit(ctx context.Context, conversionID, filename string, data []byte) error {
	const op = "Submit"

	if err := s.spool(conversionID, data); err != nil {
		return WrapConversionError(op, conversionID, err, "")
	}
	s.tracker.Start(conversionID, progress.Meta{Filename: filename, FileSize: int64(len(data))})

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(ctx, conversionID, filename, data); err != nil {
			s.log.Debug().Err(err).Str("conversion_id", conversionID).Msg("Background conversion failed")
		}
	}()
	return nil
}

// Convert spools data and runs one conversion attempt synchronously.
func (s *Service) Convert(ctx context.Context, conversionID, filename string, data []byte) (*models.Result, error) {
	if err := s.spool(conversionID, data); err != nil {
		return nil, WrapConversionError("Convert", conversionID, err, "")
	}
	s.tracker.Start(conversionID, progress.Meta{Filename: filename, FileSize: int64(len(data))})
	return s.run(ctx, conversionID, filename, data)
}

// Wait blocks until every submitted conversion and retry has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// run creates the queued record and performs the first attempt.
func (s *Service) run(ctx context.Context, conversionID, filename string, data []byte) (*models.Result, error) {
	rec := models.ConversionRecord{
		ConversionID:     conversionID,
		OriginalFilename: filename,
		Status:           models.StatusQueued,
		FileSize:         int64(len(data)),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.log.Warn().Err(err).Str("conversion_id", conversionID).Msg("Could not create conversion record, continuing without history")
	}
	return s.attempt(ctx, conversionID, filename, data)
}

// attempt converts data once. The record is expected to be queued or
// retrying and ends completed or failed.
func (s *Service) attempt(ctx context.Context, conversionID, filename string, data []byte) (*models.Result, error) {
	log := logger.WithConversion("conversion", conversionID)
	start := s.now()

	s.publish(conversionID, 2, "Opening document")

	doc, err := s.opener.Open(data)
	if err != nil {
		return nil, s.fail(ctx, conversionID, fmt.Errorf("%w: %w", ErrDocumentOpenFailed, err))
	}
	defer doc.Close()

	pageCount := doc.PageCount()
	s.updateStatus(ctx, conversionID, models.StatusProcessing, store.StatusUpdate{PageCount: &pageCount})
	s.tracker.Publish(conversionID, progress.Update{
		Progress:   5,
		Stage:      "Document opened",
		TotalPages: &pageCount,
	})

	log.Info().
		Str("filename", filename).
		Int("pages", pageCount).
		Int64("size", int64(len(data))).
		Msg("Starting conversion")

	docType := DocumentType(filename)
	res := &models.Result{
		Filename:      filename,
		FileSize:      models.FormatFileSize(int64(len(data))),
		FileSizeBytes: int64(len(data)),
		PageCount:     pageCount,
	}

	job := &job{id: conversionID, filename: filename, data: data, doc: doc, docType: docType, res: res}

	markdown, ok := s.runVLM(ctx, job)
	if !ok {
		markdown, err = s.runTraditional(ctx, job)
		if err != nil {
			return nil, s.fail(ctx, conversionID, err)
		}
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, s.fail(ctx, conversionID, ErrEmptyOutput)
	}

	s.publish(conversionID, 90, "Finalizing")

	now := s.now()
	outName := OutputFilename(s.opts.OutputPattern, filename, now)
	if s.opts.OutputDir != "" {
		path, err := s.writeOutput(outName, markdown)
		if err != nil {
			return nil, s.fail(ctx, conversionID, err)
		}
		res.OutputPath = path
	}

	res.Markdown = markdown
	res.OutputFilename = outName
	res.Timestamp = now
	res.Success = true

	upd := store.StatusUpdate{OutputFilename: &outName}
	if res.ProcessingMethod == models.MethodVLM {
		upd.HTRProvider = models.StringPtr(res.VLMProvider)
	} else {
		upd.HTRProvider = models.StringPtr(res.HTRProvider)
	}
	upd.FormattingProvider = models.StringPtr(res.FormattingProvider)
	s.updateStatus(ctx, conversionID, models.StatusCompleted, upd)

	s.tracker.Publish(conversionID, progress.Update{
		Progress: 100,
		Stage:    "Conversion complete",
		Status:   models.ProgressCompleted,
		Result:   res,
	})
	s.removeSpool(conversionID)

	log.Info().
		Str("output", outName).
		Str("method", string(res.ProcessingMethod)).
		Str("enhancement", string(res.Enhancement)).
		Dur("duration", s.now().Sub(start)).
		Msg("Conversion completed")

	return res, nil
}

// job carries the state of one attempt through the processing paths.
type job struct {
	id       string
	filename string
	data     []byte
	doc      document.Document
	docType  string
	res      *models.Result
}

func (j *job) vars(page, total int) map[string]string {
	vars := map[string]string{
		"filename":      j.filename,
		"document_type": j.docType,
	}
	if page > 0 {
		vars["page_number"] = strconv.Itoa(page)
		vars["total_pages"] = strconv.Itoa(total)
	}
	return vars
}

func (j *job) usedTemplate(name string) {
	if name == "" {
		return
	}
	for _, t := range j.res.PromptTemplatesUsed {
		if t == name {
			return
		}
	}
	j.res.PromptTemplatesUsed = append(j.res.PromptTemplatesUsed, name)
}

// providerFor returns the configured provider for c when it advertises c and
// is reachable.
func (s *Service) providerFor(ctx context.Context, id string, c provider.Capability) (provider.Provider, bool) {
	if id == "" {
		return nil, false
	}
	p, ok := s.registry.Get(id)
	if !ok {
		s.log.Warn().Str("provider_id", id).Str("capability", c.String()).Msg("Configured provider is not registered")
		return nil, false
	}
	if !p.Descriptor().Capabilities.Has(c) {
		s.log.Warn().Str("provider_id", id).Str("capability", c.String()).Msg("Configured provider lacks capability")
		return nil, false
	}
	if !s.registry.IsAvailable(ctx, id) {
		s.log.Warn().Str("provider_id", id).Msg("Configured provider is unavailable")
		return nil, false
	}
	return p, true
}

// runVLM converts every page with the VLM provider. It reports false when
// the path is not taken or does not meet the page success threshold.
func (s *Service) runVLM(ctx context.Context, j *job) (string, bool) {
	p, ok := s.providerFor(ctx, s.opts.VLMProviderID, provider.VLMDirect)
	if !ok {
		return "", false
	}
	total := j.doc.PageCount()
	if total == 0 {
		return "", false
	}

	log := logger.WithConversion("conversion", j.id)
	s.publish(j.id, 20, "Processing pages with vision model")

	name := "vlm_" + j.docType
	var segments []string
	failed := 0
	for i := 0; i < total; i++ {
		page := i + 1
		text, err := s.vlmPage(ctx, p, j, name, i, total)
		if err != nil {
			failed++
			log.Warn().Err(err).Int("page", page).Msg("VLM page failed, skipping")
		} else {
			segments = append(segments, text)
		}
		s.tracker.Publish(j.id, progress.Update{
			Progress:    20 + 60*page/total,
			Stage:       fmt.Sprintf("Processed page %d of %d", page, total),
			CurrentPage: page,
		})
	}

	ratio := float64(len(segments)) / float64(total)
	if len(segments) == 0 || ratio < s.opts.VLMMinPageRatio {
		log.Warn().
			Int("succeeded", len(segments)).
			Int("failed", failed).
			Float64("min_ratio", s.opts.VLMMinPageRatio).
			Msg("VLM processing below threshold, falling back to text extraction")
		return "", false
	}

	s.publish(j.id, 85, "Vision model processing complete")

	j.res.ProcessingMethod = models.MethodVLM
	j.res.VLMProvider = p.Descriptor().ID
	j.res.AIEnhanced = true
	j.res.Enhancement = models.EnhancementVLM
	j.res.PagesProcessed = len(segments)
	j.res.PagesFailed = failed
	j.usedTemplate(s.prompts.Resolve(name))

	return strings.Join(segments, PageSeparator), true
}

func (s *Service) vlmPage(ctx context.Context, p provider.Provider, j *job, name string, index, total int) (string, error) {
	image, err := j.doc.RenderPage(index, s.opts.PageRenderScale)
	if err != nil {
		return "", err
	}
	prompt := s.prompts.Render(name, j.vars(index+1, total))
	text, err := p.ProcessWithVLM(ctx, image, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// runTraditional extracts the text layer and optionally formats it.
func (s *Service) runTraditional(ctx context.Context, j *job) (string, error) {
	s.publish(j.id, 10, "Extracting text")

	baseline, err := j.doc.ExtractMarkdown()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	j.res.ProcessingMethod = models.MethodTraditional
	j.res.PagesProcessed = j.doc.PageCount()

	if strings.TrimSpace(baseline) == "" {
		if recovered := s.recoverText(ctx, j); recovered != "" {
			baseline = recovered
		}
	}
	s.publish(j.id, 40, "Text extraction complete")

	return s.format(ctx, j, baseline), nil
}

// recoverText reads image-only documents with the HTR provider. It returns
// "" when no text could be recovered.
func (s *Service) recoverText(ctx context.Context, j *job) string {
	log := logger.WithConversion("conversion", j.id)

	id := s.opts.HTRProviderID
	if id == "" {
		return ""
	}
	if p, ok := s.providerFor(ctx, id, provider.DocumentIntelligence); ok {
		text, err := p.ExtractDocument(ctx, j.data)
		if err == nil && strings.TrimSpace(text) != "" {
			j.res.HTRProvider = id
			return text
		}
		log.Warn().Err(err).Msg("Document intelligence failed, trying page transcription")
	}

	p, ok := s.providerFor(ctx, id, provider.HTR)
	if !ok {
		return ""
	}

	total := j.doc.PageCount()
	name := "htr_" + j.docType
	var pages []string
	for i := 0; i < total; i++ {
		image, err := j.doc.RenderPage(i, s.opts.PageRenderScale)
		if err == nil {
			var text string
			text, err = p.HTRText(ctx, image, s.prompts.Render(name, j.vars(i+1, total)))
			if err == nil {
				pages = append(pages, text)
			}
		}
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("Handwriting recognition failed for page")
		}
		s.tracker.Publish(j.id, progress.Update{
			Progress:    10 + 30*(i+1)/total,
			Stage:       fmt.Sprintf("Transcribed page %d of %d", i+1, total),
			CurrentPage: i + 1,
		})
	}
	if len(pages) == 0 {
		return ""
	}
	j.res.HTRProvider = id
	j.usedTemplate(s.prompts.Resolve(name))
	return strings.Join(pages, "\n\n")
}

// format runs the formatting provider over baseline. Any failure returns
// baseline unchanged.
func (s *Service) format(ctx context.Context, j *job, baseline string) string {
	if s.opts.FormattingProviderID == "" {
		j.res.Enhancement = models.EnhancementDisabled
		s.publish(j.id, 85, "AI enhancement disabled")
		return baseline
	}
	p, ok := s.providerFor(ctx, s.opts.FormattingProviderID, provider.Formatting)
	if !ok {
		j.res.Enhancement = models.EnhancementUnavailable
		s.publish(j.id, 85, "AI enhancement unavailable")
		return baseline
	}
	if strings.TrimSpace(baseline) == "" {
		j.res.Enhancement = models.EnhancementSkipped
		s.publish(j.id, 85, "AI enhancement skipped")
		return baseline
	}

	s.publish(j.id, 50, "Starting AI enhancement")

	name := "formatting_" + j.docType
	vars := j.vars(0, 0)
	vars["content"] = baseline
	prompt := s.prompts.Render(name, vars)

	s.publish(j.id, 70, "AI enhancement in progress")

	out, err := p.FormatMarkdown(ctx, baseline, prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		log := logger.WithConversion("conversion", j.id)
		log.Warn().
			Err(err).
			Str("provider_id", s.opts.FormattingProviderID).
			Msg("AI enhancement failed, keeping extracted text")
		j.res.Enhancement = models.EnhancementFailed
		s.publish(j.id, 85, "AI enhancement failed")
		return baseline
	}

	j.res.AIEnhanced = true
	j.res.Enhancement = models.EnhancementApplied
	j.res.FormattingProvider = s.opts.FormattingProviderID
	j.usedTemplate(s.prompts.Resolve(name))
	s.publish(j.id, 85, "AI enhancement complete")
	return out
}

// fail records the failure and publishes the terminal error entry.
func (s *Service) fail(ctx context.Context, conversionID string, err error) error {
	msg := err.Error()
	s.updateStatus(ctx, conversionID, models.StatusFailed, store.StatusUpdate{ErrorMessage: &msg})
	s.tracker.Publish(conversionID, progress.Update{
		Stage:  "Conversion failed",
		Status: models.ProgressError,
		Error:  msg,
	})
	log := logger.WithConversion("conversion", conversionID)
	log.Error().Err(err).Msg("Conversion failed")
	return WrapConversionError("Convert", conversionID, err, "")
}

// updateStatus writes a status change. Store failures are logged only.
func (s *Service) updateStatus(ctx context.Context, conversionID string, status models.Status, upd store.StatusUpdate) {
	if err := s.store.UpdateStatus(ctx, conversionID, status, upd); err != nil {
		s.log.Warn().
			Err(err).
			Str("conversion_id", conversionID).
			Str("status", string(status)).
			Msg("Could not update conversion record")
	}
}

func (s *Service) publish(conversionID string, pct int, stage string) {
	s.tracker.Publish(conversionID, progress.Update{Progress: pct, Stage: stage})
}

// writeOutput stores markdown in OutputDir. An existing file with the same
// name is replaced.
func (s *Service) writeOutput(name, markdown string) (string, error) {
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputWriteFailed, err)
	}
	path := filepath.Join(s.opts.OutputDir, filepath.Base(name))
	if _, err := os.Stat(path); err == nil {
		s.log.Warn().Str("path", path).Msg("Output file exists, overwriting")
	}
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputWriteFailed, err)
	}
	return path, nil
}

// inputPath is where the input of a conversion is spooled. It is empty when
// spooling is disabled.
func (s *Service) inputPath(conversionID string) string {
	if s.opts.InputDir == "" {
		return ""
	}
	return filepath.Join(s.opts.InputDir, conversionID+".pdf")
}

func (s *Service) spool(conversionID string, data []byte) error {
	if !conversionIDPattern.MatchString(conversionID) || strings.Contains(conversionID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidConversionID, conversionID)
	}
	path := s.inputPath(conversionID)
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(s.opts.InputDir, 0o755); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("spool input: %w", err)
	}
	return nil
}

func (s *Service) removeSpool(conversionID string) {
	path := s.inputPath(conversionID)
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("Could not remove spooled input")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
