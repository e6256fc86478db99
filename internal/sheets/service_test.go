package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"ink2md/pkg/models"
)

type fakeSheetsAPI struct {
	mu       sync.Mutex
	requests []string
	appended [][]interface{}
	headers  [][]interface{}
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-123"):
		io.WriteString(w, `{"spreadsheetId":"sheet-123","sheets":[]}`)
	case strings.HasSuffix(path, ":batchUpdate"):
		io.WriteString(w, `{"replies":[{"addSheet":{"properties":{"sheetId":7,"title":"Conversions"}}}]}`)
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		io.WriteString(w, `{"range":"Conversions!A1:L1"}`)
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.headers = body.Values
		io.WriteString(w, `{}`)
	case strings.HasSuffix(path, ":append"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.appended = append(f.appended, body.Values...)
		io.WriteString(w, `{}`)
	default:
		http.Error(w, "unexpected "+path, http.StatusNotFound)
	}
}

func newTestService(t *testing.T) (*Service, *fakeSheetsAPI) {
	t.Helper()
	api := &fakeSheetsAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := NewSheetsServiceWithOptions(context.Background(),
		"https://docs.google.com/spreadsheets/d/sheet-123/edit#gid=0",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return svc, api
}

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-_xyz/edit")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-_xyz", id)

	_, err = extractSpreadsheetID("https://example.com/not-a-sheet")
	assert.Error(t, err)
}

func TestExportHistory(t *testing.T) {
	svc, api := newTestService(t)

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	records := []models.ConversionRecord{
		{
			ConversionID:     "c1",
			OriginalFilename: "report.pdf",
			OutputFilename:   models.StringPtr("2024-03-05-report.md"),
			Status:           models.StatusCompleted,
			FileSize:         2048,
			PageCount:        3,
			CreatedAt:        at,
			UpdatedAt:        at,
		},
		{
			ConversionID:     "c2",
			OriginalFilename: "broken.pdf",
			Status:           models.StatusFailed,
			ErrorMessage:     models.StringPtr("document could not be opened"),
			RetryCount:       2,
			CreatedAt:        at,
			UpdatedAt:        at,
		},
	}

	require.NoError(t, svc.ExportHistory(context.Background(), records, ""))

	require.Len(t, api.headers, 1)
	assert.Equal(t, "Conversion ID", api.headers[0][0])

	require.Len(t, api.appended, 2)
	assert.Equal(t, "c1", api.appended[0][0])
	assert.Equal(t, "2024-03-05-report.md", api.appended[0][2])
	assert.Equal(t, "completed", api.appended[0][3])
	assert.Equal(t, "2.0 KB", api.appended[0][7])
	assert.Equal(t, "document could not be opened", api.appended[1][9])
}

func TestRecordToValuesColumns(t *testing.T) {
	values := recordToValues(models.ConversionRecord{ConversionID: "x"})
	assert.Len(t, values, len(headers))
	assert.Equal(t, "", values[2], "output filename is blank until completion")
}
