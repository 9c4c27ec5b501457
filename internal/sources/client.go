// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// NewClient returns the client of source configured by sc.
func NewClient(source types.SourceID, sc types.SourceConfig) (Client, error) {
	switch source {
	case types.SourceClinicalTrials:
		return &ClinicalTrialsClient{MaxResults: sc.MaxResults}, nil
	case types.SourceOpenFDA:
		return &OpenFDAClient{MaxResults: sc.MaxResults, APIKey: sc.APIKey}, nil
	case types.SourcePubChem:
		return &PubChemClient{MaxResults: sc.MaxResults}, nil
	case types.SourcePubMed:
		return &PubMedClient{MaxResults: sc.MaxResults, APIKey: sc.APIKey}, nil
	}
	return nil, fmt.Errorf("no client for source %q", source)
}

// getJSON sends a GET through do and decodes the JSON body into out.
func getJSON(ctx context.Context, do Doer, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return httputil.Permanent(fmt.Errorf("creating request: %w", err))
	}
	resp, err := do.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// isNotFound reports whether err is an HTTP 404 response.
func isNotFound(err error) bool {
	var se *httputil.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// maxResults parses the limit parameter, falling back to def and capping at ceiling.
func maxResults(params types.Params, key string, def, ceiling int) int {
	n, err := strconv.Atoi(params.Get(key, ""))
	if err != nil || n <= 0 {
		n = def
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// first returns the first element of s, or "".
func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// flexString decodes a JSON string or number into a string. PubChem has
// reported numeric properties both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}
