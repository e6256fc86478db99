package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ink2md/internal/logger"
	"ink2md/pkg/models"
)

// DefaultRetention is how long a terminal entry stays pollable.
const DefaultRetention = 5 * time.Second

// Meta describes the input of a conversion attempt.
type Meta struct {
	Filename   string
	FileSize   int64
	TotalPages *int
}

// Update is a single progress report from a conversion worker. Zero fields
// keep the previous value, except Progress which is clamped.
type Update struct {
	Progress    int
	Stage       string
	CurrentPage int
	TotalPages  *int
	Status      models.ProgressStatus
	Result      *models.Result
	Error       string
}

type entry struct {
	models.ProgressEntry
	generation uint64
}

// Tracker holds the pollable progress of active conversions. Each entry is
// written by the worker that owns the conversion and read by any number of
// pollers.
type Tracker struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	generation uint64
	retention  time.Duration
	now        func() time.Time
	afterFunc  func(time.Duration, func())
	log        zerolog.Logger
}

// NewTracker returns a tracker that removes terminal entries after retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		entries:   map[string]*entry{},
		retention: retention,
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		log:       logger.WithComponent("progress"),
	}
}

// Start resets the entry for conversionID to the beginning of a new attempt.
func (t *Tracker) Start(conversionID string, meta Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.entries[conversionID] = &entry{
		ProgressEntry: models.ProgressEntry{
			ConversionID: conversionID,
			Stage:        "Starting conversion",
			Status:       models.ProgressProcessing,
			Filename:     meta.Filename,
			FileSize:     models.FormatFileSize(meta.FileSize),
			TotalPages:   copyInt(meta.TotalPages),
			UpdatedAt:    t.now(),
		},
		generation: t.generation,
	}
}

// Publish applies u to the entry. It never fails: progress lower than the
// current value is raised to it, and updates after a terminal status are
// dropped.
func (t *Tracker) Publish(conversionID string, u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[conversionID]
	if !ok {
		t.generation++
		e = &entry{
			ProgressEntry: models.ProgressEntry{ConversionID: conversionID, Status: models.ProgressProcessing},
			generation:    t.generation,
		}
		t.entries[conversionID] = e
	}
	if e.Status != models.ProgressProcessing {
		t.log.Debug().Str("conversion_id", conversionID).Msg("Ignoring update after terminal status")
		return
	}

	progress := min(max(u.Progress, 0), 100)
	if progress > e.Progress {
		e.Progress = progress
	}
	if u.Stage != "" {
		e.Stage = u.Stage
	}
	if u.CurrentPage > 0 {
		e.CurrentPage = u.CurrentPage
	}
	if u.TotalPages != nil {
		e.TotalPages = copyInt(u.TotalPages)
	}
	e.UpdatedAt = t.now()

	switch u.Status {
	case models.ProgressCompleted:
		e.Status = models.ProgressCompleted
		e.Progress = 100
		e.Result = u.Result
		e.Error = ""
	case models.ProgressError:
		e.Status = models.ProgressError
		e.Progress = 100
		e.Result = nil
		e.Error = u.Error
		if e.Error == "" {
			e.Error = "conversion failed"
		}
	default:
		return
	}

	gen := e.generation
	t.afterFunc(t.retention, func() { t.expire(conversionID, gen) })
}

// expire removes the entry unless a newer attempt has replaced it.
func (t *Tracker) expire(conversionID string, generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[conversionID]; ok && e.generation == generation {
		delete(t.entries, conversionID)
	}
}

// Get returns a copy of the entry for conversionID.
func (t *Tracker) Get(conversionID string) (models.ProgressEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[conversionID]
	if !ok {
		return models.ProgressEntry{}, false
	}
	out := e.ProgressEntry
	out.TotalPages = copyInt(e.TotalPages)
	return out, true
}

// Len returns the number of tracked conversions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
