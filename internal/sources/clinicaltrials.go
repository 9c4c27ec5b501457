// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// clinicalTrialsAPIBase is the ClinicalTrials.gov v2 studies endpoint.
// Declared as a var so tests can substitute an httptest server.
var clinicalTrialsAPIBase = "https://clinicaltrials.gov/api/v2/studies"

const clinicalTrialsStudyURL = "https://clinicaltrials.gov/study/"

// ClinicalTrialsClient searches registered studies by intervention and
// condition.
//
// Params: intervention, condition, start_from, start_to (YYYY-MM-DD), page_size.
type ClinicalTrialsClient struct {
	MaxResults int
}

func (c *ClinicalTrialsClient) Source() types.SourceID { return types.SourceClinicalTrials }

func (c *ClinicalTrialsClient) Fetch(ctx context.Context, do Doer, params types.Params) (types.Payload, error) {
	intervention := params.Get("intervention", "")
	condition := params.Get("condition", "")
	if intervention == "" && condition == "" {
		return types.Payload{}, httputil.Permanent(fmt.Errorf("clinical trials: intervention or condition required"))
	}

	def := c.MaxResults
	if def <= 0 {
		def = 20
	}
	q := url.Values{
		"format":     {"json"},
		"countTotal": {"true"},
		"pageSize":   {strconv.Itoa(maxResults(params, "page_size", def, 100))},
	}
	if intervention != "" {
		q.Set("query.intr", intervention)
	}
	if condition != "" {
		q.Set("query.cond", condition)
	}
	if r := startDateRange(params.Get("start_from", ""), params.Get("start_to", "")); r != "" {
		q.Set("filter.advanced", r)
	}

	var resp ctResponse
	if err := getJSON(ctx, do, clinicalTrialsAPIBase+"?"+q.Encode(), &resp); err != nil {
		return types.Payload{}, fmt.Errorf("clinical trials search: %w", err)
	}

	payload := types.Payload{Total: resp.TotalCount}
	for _, s := range resp.Studies {
		payload.Records = append(payload.Records, s.record())
	}
	if payload.Total < len(payload.Records) {
		payload.Total = len(payload.Records)
	}
	return payload, nil
}

// startDateRange builds an Essie start-date filter; open ends use MIN/MAX.
func startDateRange(from, to string) string {
	if from == "" && to == "" {
		return ""
	}
	if from == "" {
		from = "MIN"
	}
	if to == "" {
		to = "MAX"
	}
	return fmt.Sprintf("AREA[StartDate]RANGE[%s,%s]", from, to)
}

func (s ctStudy) record() types.Record {
	p := s.Protocol
	id := p.Identification.NCTID

	var interventions []string
	for _, iv := range p.ArmsInterventions.Interventions {
		if iv.Name != "" {
			interventions = append(interventions, iv.Name)
		}
	}

	fields := map[string]any{
		"nct_id":          id,
		"status":          p.Status.OverallStatus,
		"phase":           p.Design.Phases,
		"conditions":      p.Conditions.Conditions,
		"interventions":   interventions,
		"start_date":      p.Status.StartDate.Date,
		"completion_date": p.Status.CompletionDate.Date,
		"enrollment":      p.Design.EnrollmentInfo.Count,
	}
	if p.Description.BriefSummary != "" {
		fields["brief_summary"] = truncate(p.Description.BriefSummary, 500)
	}

	entities := make([]string, 0, len(interventions)+len(p.Conditions.Conditions))
	entities = append(entities, interventions...)
	entities = append(entities, p.Conditions.Conditions...)

	return types.Record{
		ID:       id,
		Kind:     "trial",
		Title:    p.Identification.BriefTitle,
		URL:      clinicalTrialsStudyURL + id,
		Date:     p.Status.StartDate.Date,
		Entities: entities,
		Fields:   fields,
	}
}

// ClinicalTrials.gov v2 JSON structures.
type ctResponse struct {
	Studies       []ctStudy `json:"studies"`
	TotalCount    int       `json:"totalCount"`
	NextPageToken string    `json:"nextPageToken"`
}

type ctStudy struct {
	Protocol struct {
		Identification struct {
			NCTID      string `json:"nctId"`
			BriefTitle string `json:"briefTitle"`
		} `json:"identificationModule"`
		Status struct {
			OverallStatus  string `json:"overallStatus"`
			StartDate      ctDate `json:"startDateStruct"`
			CompletionDate ctDate `json:"completionDateStruct"`
		} `json:"statusModule"`
		Description struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		Conditions struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		Design struct {
			Phases         []string `json:"phases"`
			EnrollmentInfo struct {
				Count int `json:"count"`
			} `json:"enrollmentInfo"`
		} `json:"designModule"`
		ArmsInterventions struct {
			Interventions []struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
	} `json:"protocolSection"`
}

type ctDate struct {
	Date string `json:"date"`
}
