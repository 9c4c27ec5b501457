// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// pubMedAPIBase is the NCBI E-utilities root. Declared as a var so tests
// can substitute an httptest server.
var pubMedAPIBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	pubMedArticleURL = "https://pubmed.ncbi.nlm.nih.gov/"
	pubMedAuthors    = 5
)

// PubMedClient searches PubMed (esearch) and summarizes the matching
// articles (esummary).
//
// Params: term, mindate, maxdate (YYYY/MM/DD), retmax. The entity and
// indication params are not sent; every returned article is tagged with them
// so the literature merges with the other sources' entities.
type PubMedClient struct {
	MaxResults int

	// APIKey is the NCBI api_key, which raises the published ceiling.
	APIKey string
}

func (c *PubMedClient) Source() types.SourceID { return types.SourcePubMed }

func (c *PubMedClient) Fetch(ctx context.Context, do Doer, params types.Params) (types.Payload, error) {
	term := params.Get("term", "")
	if term == "" {
		return types.Payload{}, httputil.Permanent(fmt.Errorf("pubmed: term required"))
	}

	def := c.MaxResults
	if def <= 0 {
		def = 10
	}
	q := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmax":  {strconv.Itoa(maxResults(params, "retmax", def, 100))},
		"retmode": {"json"},
		"sort":    {"relevance"},
	}
	mindate, maxdate := params.Get("mindate", ""), params.Get("maxdate", "")
	if mindate != "" || maxdate != "" {
		q.Set("datetype", "pdat")
		q.Set("mindate", orDefault(mindate, "1800/01/01"))
		q.Set("maxdate", orDefault(maxdate, "3000/12/31"))
	}
	c.addKey(q)

	var sr pmSearchResponse
	if err := getJSON(ctx, do, pubMedAPIBase+"/esearch.fcgi?"+q.Encode(), &sr); err != nil {
		return types.Payload{}, fmt.Errorf("pubmed search: %w", err)
	}
	if sr.Error != "" {
		return types.Payload{}, fmt.Errorf("pubmed search: %s", sr.Error)
	}

	pmids := sr.Result.IDList
	total, _ := strconv.Atoi(sr.Result.Count)
	if total < len(pmids) {
		total = len(pmids)
	}
	payload := types.Payload{Total: total}
	tags := searchedEntities(params)
	if len(pmids) == 0 {
		return payload, nil
	}

	articles, err := c.summaries(ctx, do, pmids)
	if err != nil {
		if ctx.Err() != nil {
			return types.Payload{}, ctx.Err()
		}
		// The search succeeded; keep the PMIDs without their summaries.
		for _, id := range pmids {
			payload.Records = append(payload.Records, types.Record{
				ID:       id,
				Kind:     "article",
				URL:      pubMedArticleURL + id + "/",
				Entities: tags,
			})
		}
		return payload, &PartialError{Err: fmt.Errorf("pubmed summaries: %w", err)}
	}

	for _, id := range pmids {
		if a, ok := articles[id]; ok {
			rec := a.record(id)
			rec.Entities = tags
			payload.Records = append(payload.Records, rec)
		}
	}
	return payload, nil
}

func (c *PubMedClient) summaries(ctx context.Context, do Doer, pmids []string) (map[string]pmSummary, error) {
	q := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"json"},
	}
	c.addKey(q)

	var resp struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := getJSON(ctx, do, pubMedAPIBase+"/esummary.fcgi?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make(map[string]pmSummary, len(pmids))
	for _, id := range pmids {
		raw, ok := resp.Result[id]
		if !ok {
			continue
		}
		var s pmSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding summary of %s: %w", id, err)
		}
		out[id] = s
	}
	return out, nil
}

func (c *PubMedClient) addKey(q url.Values) {
	if c.APIKey != "" {
		q.Set("api_key", c.APIKey)
	}
}

// searchedEntities returns the entity and indication the search was built
// from, in that order.
func searchedEntities(params types.Params) []string {
	var out []string
	for _, k := range []string{"entity", "indication"} {
		if v := params.Get(k, ""); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (s pmSummary) record(pmid string) types.Record {
	var authors []string
	for _, a := range s.Authors {
		if len(authors) == pubMedAuthors {
			break
		}
		if a.Name != "" {
			authors = append(authors, a.Name)
		}
	}

	doi := s.ELocationID
	for _, aid := range s.ArticleIDs {
		if aid.IDType == "doi" {
			doi = aid.Value
			break
		}
	}

	journal := s.FullJournalName
	if journal == "" {
		journal = s.Source
	}

	return types.Record{
		ID:    pmid,
		Kind:  "article",
		Title: strings.TrimSpace(s.Title),
		URL:   pubMedArticleURL + pmid + "/",
		Date:  s.PubDate,
		Fields: map[string]any{
			"pmid":     pmid,
			"authors":  authors,
			"journal":  journal,
			"pub_date": s.PubDate,
			"volume":   s.Volume,
			"issue":    s.Issue,
			"pages":    s.Pages,
			"doi":      doi,
		},
	}
}

// E-utilities JSON structures.
type pmSearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
	Error string `json:"error"`
}

type pmSummary struct {
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	Source          string `json:"source"`
	PubDate         string `json:"pubdate"`
	Volume          string `json:"volume"`
	Issue           string `json:"issue"`
	Pages           string `json:"pages"`
	ELocationID     string `json:"elocationid"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}
