// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package research

import (
	"errors"
	"testing"
	"time"

	"github.com/pdiddy/pharma-research/pkg/types"
)

func TestInputQuery(t *testing.T) {
	q, err := Input{
		Text:    "aspirin",
		From:    "2020-01-01",
		To:      " 2021-06-30 ",
		Sources: []string{"pubmed, PubChem", ""},
	}.Query()
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !q.DateFrom.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DateFrom = %v", q.DateFrom)
	}
	if !q.DateTo.Equal(time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DateTo = %v", q.DateTo)
	}
	if len(q.Sources) != 2 || q.Sources[0] != types.SourcePubMed || q.Sources[1] != types.SourcePubChem {
		t.Errorf("Sources = %v", q.Sources)
	}
}

func TestInputQueryErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"bad from", Input{Text: "x", From: "01/02/2020"}},
		{"bad to", Input{Text: "x", To: "2020-13-01"}},
		{"unknown source", Input{Text: "x", Sources: []string{"embase"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.in.Query(); !errors.Is(err, types.ErrInvalidQuery) {
				t.Errorf("error = %v, want ErrInvalidQuery", err)
			}
		})
	}
}
