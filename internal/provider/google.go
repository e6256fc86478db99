package provider

import (
	"errors"
	"os"

	"google.golang.org/api/option"
)

// ErrMissingCredentials is returned when no Google Cloud credentials can be
// found in GOOGLE_CREDENTIALS, GOOGLE_APPLICATION_CREDENTIALS or the
// application default credentials.
var ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

// googleClientOptions prefers inline credentials over a credentials file.
// With neither set the client libraries fall back to default credentials.
func googleClientOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}
