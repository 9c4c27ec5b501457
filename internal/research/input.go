// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// DateLayout is the date format accepted on the command line and over HTTP.
const DateLayout = "2006-01-02"

// Input is a query as entered by a user: dates and sources still strings.
type Input struct {
	Text       string   `json:"text"`
	Entity     string   `json:"entity,omitempty"`
	Indication string   `json:"indication,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// Query validates in and converts it. Errors wrap types.ErrInvalidQuery.
func (in Input) Query() (types.Query, error) {
	q := types.Query{
		Text:       in.Text,
		Entity:     in.Entity,
		Indication: in.Indication,
	}

	var err error
	if q.DateFrom, err = parseDate("from", in.From); err != nil {
		return types.Query{}, err
	}
	if q.DateTo, err = parseDate("to", in.To); err != nil {
		return types.Query{}, err
	}

	for _, s := range in.Sources {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := types.ParseSourceID(part)
			if err != nil {
				return types.Query{}, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
			}
			q.Sources = append(q.Sources, id)
		}
	}
	return q, nil
}

func parseDate(name, s string) (time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s date %q is not YYYY-MM-DD", types.ErrInvalidQuery, name, s)
	}
	return t, nil
}
