package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
)

var httpClient = http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// ReadText fetches raw text from a local file path or, when the source
// starts with an http or https scheme, from a remote URL.
func ReadText(ctx context.Context, source string) ([]byte, error) {
	if isURL(source) {
		return readRemote(ctx, source)
	}

	contents, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}

	return contents, nil
}

func readRemote(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewErrorFromProblemReport(resp.StatusCode, resp.Header.Get("Content-Type"), nil)
	}

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return contents, nil
}

// WriteText writes text to a local file, creating it if needed.
func WriteText(path string, contents []byte) error {
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
