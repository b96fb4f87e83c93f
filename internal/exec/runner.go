// Package exec forwards code-execution requests to a remote execution
// service. The server's scope ends at relaying the payload and the raw
// response; there is no retry and no sandboxing of its own.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"coderoom/internal/models"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// versionIndex maps a language to the remote service's version selector.
var versionIndex = map[string]string{
	"python3": "3",
	"java":    "3",
	"cpp":     "4",
	"nodejs":  "3",
	"c":       "4",
	"ruby":    "3",
	"go":      "3",
	"scala":   "3",
	"bash":    "3",
	"sql":     "3",
	"pascal":  "2",
	"csharp":  "3",
	"php":     "3",
	"swift":   "3",
	"rust":    "3",
	"r":       "3",
}

type Runner struct {
	client       *http.Client
	apiURL       string
	clientID     string
	clientSecret string
}

func NewRunner(apiURL, clientID, clientSecret string) *Runner {
	return &Runner{
		client:       http.DefaultClient,
		apiURL:       apiURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Languages lists the supported language identifiers.
func Languages() []string {
	out := make([]string, 0, len(versionIndex))
	for lang := range versionIndex {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

type executePayload struct {
	Language     string `json:"language"`
	Script       string `json:"script"`
	VersionIndex string `json:"versionIndex"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Compile forwards the request and returns the service's response body
// verbatim. Any transport or status failure surfaces as an error; the caller
// maps it to a generic failure message.
func (r *Runner) Compile(ctx context.Context, req models.CompileRequest) (json.RawMessage, error) {
	version, ok := versionIndex[req.Language]
	if !ok {
		return nil, ErrUnsupportedLanguage
	}

	body, err := json.Marshal(executePayload{
		Language:     req.Language,
		Script:       req.Code,
		VersionIndex: version,
		ClientID:     r.clientID,
		ClientSecret: r.clientSecret,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("execution service returned %d", resp.StatusCode)
	}
	return raw, nil
}
