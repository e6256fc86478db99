package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ink2md/internal/document"
	"ink2md/internal/progress"
	"ink2md/internal/prompt"
	"ink2md/internal/provider"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

var pdfData = []byte("%PDF-1.7\nfake document body")

type fakeDocument struct {
	pages     []string
	renderErr map[int]error
}

func (d *fakeDocument) PageCount() int { return len(d.pages) }

func (d *fakeDocument) RenderPage(index int, _ float64) ([]byte, error) {
	if err := d.renderErr[index]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("png-page-%d", index+1)), nil
}

func (d *fakeDocument) ExtractMarkdown() (string, error) {
	return document.TextToMarkdown(d.pages), nil
}

func (d *fakeDocument) Close() error { return nil }

type fakeOpener struct {
	mu   sync.Mutex
	doc  *fakeDocument
	fail bool
}

func (o *fakeOpener) Open(data []byte) (document.Document, error) {
	if err := document.CheckHeader(data); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return nil, errors.New("corrupt xref table")
	}
	return o.doc, nil
}

func (o *fakeOpener) setFail(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

type testEnv struct {
	svc      *Service
	store    *store.SQLiteStore
	registry *provider.Registry
	opener   *fakeOpener
	opts     Options
	sleeps   []time.Duration
	mu       sync.Mutex
}

func newTestEnv(t *testing.T, pages []string, configure func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	resolver, err := prompt.NewResolver("")
	require.NoError(t, err)

	opts := Options{
		InputDir:      filepath.Join(dir, "inputs"),
		OutputDir:     filepath.Join(dir, "output"),
		OutputPattern: "YYYY-MM-DD-[OriginalFileName].md",
		MaxRetries:    3,
		BackoffCap:    60,
		BackoffUnit:   time.Second,
	}
	if configure != nil {
		configure(&opts)
	}

	env := &testEnv{
		store:    st,
		registry: provider.NewRegistry(),
		opener:   &fakeOpener{doc: &fakeDocument{pages: pages}},
		opts:     opts,
	}
	env.svc = NewService(opts, env.registry, resolver, st, progress.NewTracker(time.Minute), env.opener)
	env.svc.now = func() time.Time { return time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC) }
	env.svc.sleep = func(_ context.Context, d time.Duration) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

func (e *testEnv) addProvider(t *testing.T, id string, mock *provider.MockBackend, caps ...provider.Capability) {
	t.Helper()
	p, err := provider.NewWithBackend(provider.Descriptor{
		ID:           id,
		Enabled:      true,
		Capabilities: provider.NewCapabilitySet(caps...),
	}, mock)
	require.NoError(t, err)
	require.True(t, e.registry.Add(p))
}

func (e *testEnv) record(t *testing.T, id string) *models.ConversionRecord {
	t.Helper()
	rec, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func assertFinalInvariant(t *testing.T, rec *models.ConversionRecord) {
	t.Helper()
	require.True(t, rec.Status == models.StatusCompleted || rec.Status == models.StatusFailed, rec.Status)
	assert.Equal(t, rec.Status == models.StatusCompleted, rec.OutputFilename != nil)
}

func TestVLMSkipsFailedPage(t *testing.T) {
	env := newTestEnv(t, []string{"one", "two", "three"}, func(o *Options) {
		o.VLMProviderID = "vision"
	})
	mock := provider.NewMockBackend().On(provider.VLMDirect, func(_ context.Context, call provider.MockCall) (string, error) {
		if call.N == 2 {
			return "", errors.New("model overloaded")
		}
		return fmt.Sprintf("# %s", call.Image), nil
	})
	env.addProvider(t, "vision", mock, provider.VLMDirect)

	res, err := env.svc.Convert(context.Background(), "c1", "report.pdf", pdfData)
	require.NoError(t, err)

	assert.Equal(t, "# png-page-1"+PageSeparator+"# png-page-3", res.Markdown)
	assert.Equal(t, models.MethodVLM, res.ProcessingMethod)
	assert.Equal(t, models.EnhancementVLM, res.Enhancement)
	assert.Equal(t, "vision", res.VLMProvider)
	assert.Equal(t, 2, res.PagesProcessed)
	assert.Equal(t, 1, res.PagesFailed)
	assert.True(t, res.AIEnhanced)
	assert.Equal(t, []string{"vlm_direct"}, res.PromptTemplatesUsed)

	rec := env.record(t, "c1")
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, "2024-03-05-report.md", models.Deref(rec.OutputFilename))
	assert.Equal(t, "vision", models.Deref(rec.HTRProvider))
	assert.Equal(t, 3, rec.PageCount)
	assertFinalInvariant(t, rec)

	written, err := os.ReadFile(filepath.Join(env.opts.OutputDir, "2024-03-05-report.md"))
	require.NoError(t, err)
	assert.Equal(t, res.Markdown, string(written))

	_, err = os.Stat(filepath.Join(env.opts.InputDir, "c1.pdf"))
	assert.True(t, os.IsNotExist(err), "spooled input is removed after success")
}

func TestVLMBelowThresholdFallsBack(t *testing.T) {
	env := newTestEnv(t, []string{"Plain text layer."}, func(o *Options) {
		o.VLMProviderID = "vision"
	})
	mock := provider.NewMockBackend().On(provider.VLMDirect, func(context.Context, provider.MockCall) (string, error) {
		return "   ", nil
	})
	env.addProvider(t, "vision", mock, provider.VLMDirect)

	res, err := env.svc.Convert(context.Background(), "c1", "scan001.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, models.MethodTraditional, res.ProcessingMethod)
	assert.Equal(t, "Plain text layer.", res.Markdown)
	assert.Equal(t, 1, mock.Calls(provider.VLMDirect))
}

func TestVLMMinPageRatio(t *testing.T) {
	env := newTestEnv(t, []string{"a", "b", "c", "d"}, func(o *Options) {
		o.VLMProviderID = "vision"
		o.VLMMinPageRatio = 0.75
	})
	mock := provider.NewMockBackend().On(provider.VLMDirect, func(_ context.Context, call provider.MockCall) (string, error) {
		if call.N%2 == 0 {
			return "", errors.New("timeout")
		}
		return "page", nil
	})
	env.addProvider(t, "vision", mock, provider.VLMDirect)

	res, err := env.svc.Convert(context.Background(), "c1", "notes.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, models.MethodTraditional, res.ProcessingMethod)
}

func TestUnavailableVLMUsesTraditionalPath(t *testing.T) {
	env := newTestEnv(t, []string{"Body text."}, func(o *Options) {
		o.VLMProviderID = "vision"
	})
	mock := provider.NewMockBackend().SetAvailable(false)
	env.addProvider(t, "vision", mock, provider.VLMDirect)

	res, err := env.svc.Convert(context.Background(), "c1", "a.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, models.MethodTraditional, res.ProcessingMethod)
	assert.Zero(t, mock.Calls(provider.VLMDirect))
}

func TestNoFormattingProviderKeepsExtractorOutput(t *testing.T) {
	pages := []string{"First paragraph\ncontinues here.", "Second page."}
	env := newTestEnv(t, pages, nil)

	res, err := env.svc.Convert(context.Background(), "c1", "report.pdf", pdfData)
	require.NoError(t, err)

	assert.False(t, res.AIEnhanced)
	assert.Equal(t, models.EnhancementDisabled, res.Enhancement)
	assert.Equal(t, document.TextToMarkdown(pages), res.Markdown)

	rec := env.record(t, "c1")
	assert.Nil(t, rec.FormattingProvider)
	assertFinalInvariant(t, rec)
}

func TestFormattingFailureKeepsBaselineExactly(t *testing.T) {
	pages := []string{"  Meeting minutes\n\n• item one  "}
	baseline := document.TextToMarkdown(pages)

	cases := map[string]provider.MockFunc{
		"error": func(context.Context, provider.MockCall) (string, error) {
			return "", errors.New("rate limited")
		},
		"empty": func(context.Context, provider.MockCall) (string, error) {
			return " \n\t ", nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, pages, func(o *Options) { o.FormattingProviderID = "fmt" })
			env.addProvider(t, "fmt", provider.NewMockBackend().On(provider.Formatting, fn), provider.Formatting)

			res, err := env.svc.Convert(context.Background(), "c1", "meeting.pdf", pdfData)
			require.NoError(t, err)
			assert.Equal(t, baseline, res.Markdown)
			assert.False(t, res.AIEnhanced)
			assert.Equal(t, models.EnhancementFailed, res.Enhancement)
			assert.Equal(t, models.StatusCompleted, env.record(t, "c1").Status)
		})
	}
}

func TestFormattingApplied(t *testing.T) {
	env := newTestEnv(t, []string{"Results of the study."}, func(o *Options) {
		o.FormattingProviderID = "fmt"
	})
	mock := provider.NewMockBackend()
	env.addProvider(t, "fmt", mock, provider.Formatting)

	res, err := env.svc.Convert(context.Background(), "c1", "Research_Paper_Final.pdf", pdfData)
	require.NoError(t, err)

	assert.Equal(t, "# Document\n\nResults of the study.", res.Markdown)
	assert.True(t, res.AIEnhanced)
	assert.Equal(t, models.EnhancementApplied, res.Enhancement)
	assert.Equal(t, []string{"formatting_academic"}, res.PromptTemplatesUsed)

	prompts := mock.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Results of the study.")
	assert.Equal(t, "fmt", models.Deref(env.record(t, "c1").FormattingProvider))
}

func TestFormattingUnavailable(t *testing.T) {
	env := newTestEnv(t, []string{"text"}, func(o *Options) { o.FormattingProviderID = "missing" })

	res, err := env.svc.Convert(context.Background(), "c1", "a.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, models.EnhancementUnavailable, res.Enhancement)
	assert.Equal(t, "text", res.Markdown)
}

func TestScannedDocumentRecoveredWithHTR(t *testing.T) {
	env := newTestEnv(t, []string{"", ""}, func(o *Options) { o.HTRProviderID = "htr" })
	mock := provider.NewMockBackend().On(provider.HTR, func(_ context.Context, call provider.MockCall) (string, error) {
		return fmt.Sprintf("handwritten %d", call.N), nil
	})
	env.addProvider(t, "htr", mock, provider.HTR)

	res, err := env.svc.Convert(context.Background(), "c1", "scan.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, "handwritten 1\n\nhandwritten 2", res.Markdown)
	assert.Equal(t, "htr", res.HTRProvider)
	assert.Equal(t, "htr", models.Deref(env.record(t, "c1").HTRProvider))
}

func TestScannedDocumentPrefersDocumentIntelligence(t *testing.T) {
	env := newTestEnv(t, []string{""}, func(o *Options) { o.HTRProviderID = "docai" })
	mock := provider.NewMockBackend()
	env.addProvider(t, "docai", mock, provider.HTR, provider.DocumentIntelligence)

	res, err := env.svc.Convert(context.Background(), "c1", "scan.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, "Document text", res.Markdown)
	assert.Zero(t, mock.Calls(provider.HTR))
}

func TestEmptyOutputFails(t *testing.T) {
	env := newTestEnv(t, []string{"", ""}, nil)

	_, err := env.svc.Convert(context.Background(), "c1", "blank.pdf", pdfData)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyOutput))

	rec := env.record(t, "c1")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assertFinalInvariant(t, rec)
}

func TestOpenFailureMarksRecordFailed(t *testing.T) {
	env := newTestEnv(t, []string{"x"}, nil)

	_, err := env.svc.Convert(context.Background(), "c1", "broken.pdf", []byte("not a pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDocumentOpenFailed))

	rec := env.record(t, "c1")
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.NotEmpty(t, models.Deref(rec.ErrorMessage))
	assertFinalInvariant(t, rec)

	entry, ok := env.svc.Progress("c1")
	require.True(t, ok)
	assert.Equal(t, models.ProgressError, entry.Status)
	assert.NotEmpty(t, entry.Error)

	_, err = os.Stat(filepath.Join(env.opts.InputDir, "c1.pdf"))
	assert.NoError(t, err, "spooled input is kept for retries")
}

func TestInvalidConversionID(t *testing.T) {
	env := newTestEnv(t, []string{"x"}, nil)
	_, err := env.svc.Convert(context.Background(), "../escape", "a.pdf", pdfData)
	assert.True(t, errors.Is(err, ErrInvalidConversionID))
}

func TestProgressNeverDecreasesDuringConversion(t *testing.T) {
	env := newTestEnv(t, []string{"a", "b", "c"}, func(o *Options) {
		o.VLMProviderID = "vision"
		o.FormattingProviderID = "fmt"
	})

	var seen []int
	observe := func() {
		if e, ok := env.svc.Progress("c1"); ok {
			seen = append(seen, e.Progress)
		}
	}
	// every VLM page fails so the run also crosses the fallback
	env.addProvider(t, "vision", provider.NewMockBackend().On(provider.VLMDirect,
		func(context.Context, provider.MockCall) (string, error) {
			observe()
			return "", errors.New("unavailable")
		}), provider.VLMDirect)
	env.addProvider(t, "fmt", provider.NewMockBackend().On(provider.Formatting,
		func(_ context.Context, call provider.MockCall) (string, error) {
			observe()
			return call.Text, nil
		}), provider.Formatting)

	_, err := env.svc.Convert(context.Background(), "c1", "a.pdf", pdfData)
	require.NoError(t, err)
	observe()

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 100, seen[len(seen)-1])
}

func TestSubmitRunsInBackground(t *testing.T) {
	env := newTestEnv(t, []string{"text"}, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, env.svc.Submit(context.Background(), fmt.Sprintf("c%d", i), "a.pdf", pdfData))
	}
	env.svc.Wait()

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		entry, ok := env.svc.Progress(id)
		require.True(t, ok)
		assert.Equal(t, models.ProgressCompleted, entry.Status)
		require.NotNil(t, entry.Result)
		assert.Equal(t, "text", entry.Result.Markdown)
		assertFinalInvariant(t, env.record(t, id))
	}
}

// unwritableStore rejects every write while reads reach the wrapped store.
type unwritableStore struct {
	store.Store
}

func (unwritableStore) Create(context.Context, models.ConversionRecord) error {
	return store.ErrDurabilityWriteFailed
}

func (unwritableStore) UpdateStatus(context.Context, string, models.Status, store.StatusUpdate) error {
	return store.ErrDurabilityWriteFailed
}

func TestStoreWriteFailuresDoNotAbortConversion(t *testing.T) {
	pages := []string{"Quarterly figures\nare attached."}
	env := newTestEnv(t, pages, nil)
	env.svc.store = unwritableStore{Store: env.store}

	res, err := env.svc.Convert(context.Background(), "c1", "report.pdf", pdfData)
	require.NoError(t, err)
	assert.Equal(t, document.TextToMarkdown(pages), res.Markdown)

	entry, ok := env.svc.Progress("c1")
	require.True(t, ok)
	assert.Equal(t, models.ProgressCompleted, entry.Status)
	assert.Equal(t, 100, entry.Progress)

	written, err := os.ReadFile(filepath.Join(env.opts.OutputDir, "2024-03-05-report.md"))
	require.NoError(t, err)
	assert.Equal(t, res.Markdown, string(written))

	_, err = env.store.Get(context.Background(), "c1")
	assert.True(t, errors.Is(err, store.ErrRecordNotFound))
}

func TestSameOutputNameOverwritesWithWarning(t *testing.T) {
	env := newTestEnv(t, []string{"first version"}, nil)
	var logs bytes.Buffer
	env.svc.log = zerolog.New(&logs)

	_, err := env.svc.Convert(context.Background(), "c1", "report.pdf", pdfData)
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "Output file exists")

	env.opener.doc = &fakeDocument{pages: []string{"second version"}}
	_, err = env.svc.Convert(context.Background(), "c2", "report.pdf", pdfData)
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(env.opts.OutputDir, "2024-03-05-report.md"))
	require.NoError(t, err)
	assert.Equal(t, "second version", string(written))
	assert.Contains(t, logs.String(), "Output file exists, overwriting")
}
