package conversion

import (
	"path/filepath"
	"strings"
	"time"

	"ink2md/internal/config"
)

const (
	dateToken     = "YYYY-MM-DD"
	filenameToken = "[OriginalFileName]"
)

// Document types select the prompt template family.
const (
	DocTypeAcademic = "academic"
	DocTypeNotes    = "notes"
	DocTypeForms    = "forms"
	DocTypeClean    = "clean"
)

var docTypeKeywords = []struct {
	docType  string
	keywords []string
}{
	{DocTypeAcademic, []string{"academic", "paper", "journal", "research", "thesis"}},
	{DocTypeNotes, []string{"note", "notes", "meeting", "memo"}},
	{DocTypeForms, []string{"form", "application", "survey"}},
}

// OutputFilename expands pattern for filename. YYYY-MM-DD becomes the date of
// now and [OriginalFileName] the filename without its extension; everything
// else is copied.
func OutputFilename(pattern, filename string, now time.Time) string {
	if pattern == "" {
		pattern = config.DefaultOutputPattern
	}
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	out := strings.ReplaceAll(pattern, dateToken, now.Format("2006-01-02"))
	return strings.ReplaceAll(out, filenameToken, base)
}

// DocumentType infers the kind of document from keywords in its filename.
func DocumentType(filename string) string {
	lower := strings.ToLower(filename)
	for _, entry := range docTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.docType
			}
		}
	}
	return DocTypeClean
}
