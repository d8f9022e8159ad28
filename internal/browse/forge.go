package browse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// Forge lists files through a remote asset service answering
// GET {endpoint}?pattern=... with {"files": [...]}.
type Forge struct {
	endpoint string
	client   *http.Client
}

// NewForge returns a lister for endpoint authenticated with token.
func NewForge(endpoint, token string) *Forge {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Forge{
		endpoint: endpoint,
		client:   oauth2.NewClient(context.Background(), src),
	}
}

// List implements sfx.Lister.
func (f *Forge) List(ctx context.Context, pattern string) ([]string, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing forge endpoint: %w", err)
	}
	q := u.Query()
	q.Set("pattern", pattern)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", pattern, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing %s: forge answered %s", pattern, resp.Status)
	}

	var body struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding forge listing: %w", err)
	}
	return body.Files, nil
}
