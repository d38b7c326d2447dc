package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lionelramela/deafcare/pkg/inference"
)

// maxArtifactBytes caps a single artifact download.
const maxArtifactBytes = 256 << 20

// FetchArtifact downloads uri with the active key appended as the "key"
// query parameter. 401, 403 and 404 wrap [inference.ErrArtifactAccess].
func (p *Provider) FetchArtifact(ctx context.Context, uri string) ([]byte, error) {
	key, err := p.activeKey()
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch artifact: parse uri: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch artifact: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("gemini: fetch artifact: status %d: %w", resp.StatusCode, inference.ErrArtifactAccess)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gemini: fetch artifact: status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch artifact: read body: %w", err)
	}
	return data, nil
}
