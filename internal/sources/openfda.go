// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// openFDAAPIBase is the openFDA drug label endpoint. Declared as a var so
// tests can substitute an httptest server.
var openFDAAPIBase = "https://api.fda.gov/drug/label.json"

const dailyMedURL = "https://dailymed.nlm.nih.gov/dailymed/lookup.cfm?setid="

// OpenFDAClient searches FDA drug labels by brand or generic name.
//
// Params: drug, limit.
type OpenFDAClient struct {
	MaxResults int
	APIKey     string
}

func (c *OpenFDAClient) Source() types.SourceID { return types.SourceOpenFDA }

func (c *OpenFDAClient) Fetch(ctx context.Context, do Doer, params types.Params) (types.Payload, error) {
	drug := params.Get("drug", "")
	if drug == "" {
		return types.Payload{}, httputil.Permanent(fmt.Errorf("openfda: drug required"))
	}

	def := c.MaxResults
	if def <= 0 {
		def = 5
	}
	quoted := strconv.Quote(drug)
	q := url.Values{
		"search": {fmt.Sprintf("openfda.brand_name:%s OR openfda.generic_name:%s", quoted, quoted)},
		"limit":  {strconv.Itoa(maxResults(params, "limit", def, 100))},
	}
	if c.APIKey != "" {
		q.Set("api_key", c.APIKey)
	}

	var resp fdaResponse
	err := getJSON(ctx, do, openFDAAPIBase+"?"+q.Encode(), &resp)
	if isNotFound(err) {
		// openFDA answers 404 "No matches found!" for an empty result set.
		return types.Payload{}, nil
	}
	if err != nil {
		return types.Payload{}, fmt.Errorf("openfda label search: %w", err)
	}

	payload := types.Payload{Total: resp.Meta.Results.Total}
	for _, l := range resp.Results {
		payload.Records = append(payload.Records, l.record())
	}
	if payload.Total < len(payload.Records) {
		payload.Total = len(payload.Records)
	}
	return payload, nil
}

func (l fdaLabel) record() types.Record {
	o := l.OpenFDA
	brand, generic := first(o.BrandName), first(o.GenericName)

	id := l.SetID
	if id == "" {
		id = l.ID
	}

	title := brand
	switch {
	case title == "":
		title = generic
	case generic != "" && !strings.EqualFold(brand, generic):
		title = fmt.Sprintf("%s (%s)", brand, generic)
	}

	var entities []string
	for _, n := range []string{brand, generic} {
		if n != "" {
			entities = append(entities, n)
		}
	}
	entities = append(entities, o.SubstanceName...)

	rec := types.Record{
		ID:       id,
		Kind:     "label",
		Title:    title,
		Date:     l.EffectiveTime,
		Entities: entities,
		Fields: map[string]any{
			"brand_name":        brand,
			"generic_name":      generic,
			"manufacturer":      first(o.ManufacturerName),
			"product_type":      first(o.ProductType),
			"route":             o.Route,
			"substance_name":    o.SubstanceName,
			"indications":       truncate(first(l.Indications), 800),
			"dosage":            truncate(first(l.Dosage), 500),
			"warnings":          truncate(first(l.Warnings), 500),
			"adverse_reactions": truncate(first(l.AdverseReactions), 500),
		},
	}
	if l.SetID != "" {
		rec.URL = dailyMedURL + l.SetID
	}
	return rec
}

// openFDA JSON structures.
type fdaResponse struct {
	Meta struct {
		Results struct {
			Skip  int `json:"skip"`
			Limit int `json:"limit"`
			Total int `json:"total"`
		} `json:"results"`
	} `json:"meta"`
	Results []fdaLabel `json:"results"`
}

type fdaLabel struct {
	ID               string   `json:"id"`
	SetID            string   `json:"set_id"`
	EffectiveTime    string   `json:"effective_time"`
	Indications      []string `json:"indications_and_usage"`
	Dosage           []string `json:"dosage_and_administration"`
	Warnings         []string `json:"warnings"`
	AdverseReactions []string `json:"adverse_reactions"`
	OpenFDA          struct {
		BrandName        []string `json:"brand_name"`
		GenericName      []string `json:"generic_name"`
		ManufacturerName []string `json:"manufacturer_name"`
		ProductType      []string `json:"product_type"`
		Route            []string `json:"route"`
		SubstanceName    []string `json:"substance_name"`
	} `json:"openfda"`
}
