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

// pubChemAPIBase is the PubChem PUG REST root. Declared as a var so tests
// can substitute an httptest server.
var pubChemAPIBase = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"

const (
	pubChemCompoundURL = "https://pubchem.ncbi.nlm.nih.gov/compound/"
	pubChemProperties  = "MolecularFormula,MolecularWeight,CanonicalSMILES,IUPACName,InChIKey"
	pubChemSynonyms    = 15
)

// PubChemClient resolves a compound name to PubChem compounds and their
// chemical properties.
//
// Params: compound.
type PubChemClient struct {
	// MaxResults is the number of matching CIDs to describe (default 1).
	MaxResults int
}

func (c *PubChemClient) Source() types.SourceID { return types.SourcePubChem }

func (c *PubChemClient) Fetch(ctx context.Context, do Doer, params types.Params) (types.Payload, error) {
	name := params.Get("compound", "")
	if name == "" {
		return types.Payload{}, httputil.Permanent(fmt.Errorf("pubchem: compound required"))
	}

	var ids pcIdentifiers
	err := getJSON(ctx, do, fmt.Sprintf("%s/compound/name/%s/cids/JSON", pubChemAPIBase, url.PathEscape(name)), &ids)
	if isNotFound(err) {
		return types.Payload{}, nil
	}
	if err != nil {
		return types.Payload{}, fmt.Errorf("pubchem name lookup: %w", err)
	}

	cids := ids.IdentifierList.CID
	limit := c.MaxResults
	if limit <= 0 {
		limit = 1
	}
	total := len(cids)
	if len(cids) > limit {
		cids = cids[:limit]
	}

	payload := types.Payload{Total: total}
	var missing []string
	for _, cid := range cids {
		rec, descErr := c.compound(ctx, do, cid, name)
		if rec == nil {
			return types.Payload{}, descErr
		}
		if descErr != nil {
			missing = append(missing, descErr.Error())
		}
		payload.Records = append(payload.Records, *rec)
	}

	if len(missing) > 0 {
		return payload, &PartialError{Err: fmt.Errorf("pubchem: %s", strings.Join(missing, "; "))}
	}
	return payload, nil
}

// compound fetches properties, synonyms, and the description of one CID.
// A nil record means a required request failed; a record with an error
// means only the description is missing.
func (c *PubChemClient) compound(ctx context.Context, do Doer, cid int, name string) (*types.Record, error) {
	id := strconv.Itoa(cid)
	base := pubChemAPIBase + "/compound/cid/" + id

	var props pcProperties
	if err := getJSON(ctx, do, base+"/property/"+pubChemProperties+"/JSON", &props); err != nil {
		return nil, fmt.Errorf("pubchem properties for CID %s: %w", id, err)
	}
	if len(props.PropertyTable.Properties) == 0 {
		return nil, fmt.Errorf("pubchem properties for CID %s: empty property table", id)
	}
	p := props.PropertyTable.Properties[0]

	var syn pcInformation
	if err := getJSON(ctx, do, base+"/synonyms/JSON", &syn); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("pubchem synonyms for CID %s: %w", id, err)
	}
	var synonyms []string
	for _, info := range syn.InformationList.Information {
		synonyms = append(synonyms, info.Synonym...)
	}
	if len(synonyms) > pubChemSynonyms {
		synonyms = synonyms[:pubChemSynonyms]
	}

	title := first(synonyms)
	if title == "" {
		title = name
	}
	smiles := p.SMILES
	if smiles == "" {
		smiles = p.CanonicalSMILES
	}
	if smiles == "" {
		smiles = p.ConnectivitySMILES
	}

	rec := &types.Record{
		ID:       id,
		Kind:     "compound",
		Title:    title,
		URL:      pubChemCompoundURL + id,
		Entities: []string{title},
		Fields: map[string]any{
			"cid":               cid,
			"molecular_formula": p.MolecularFormula,
			"molecular_weight":  string(p.MolecularWeight),
			"iupac_name":        p.IUPACName,
			"smiles":            smiles,
			"inchi_key":         p.InChIKey,
			"synonyms":          synonyms,
		},
	}
	if !strings.EqualFold(title, name) {
		rec.Entities = append(rec.Entities, name)
	}

	var desc pcInformation
	if err := getJSON(ctx, do, base+"/description/JSON", &desc); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return rec, fmt.Errorf("description for CID %s: %w", id, err)
	}
	for _, info := range desc.InformationList.Information {
		if info.Description != "" {
			rec.Fields["description"] = truncate(info.Description, 500)
			break
		}
	}
	return rec, nil
}

// PubChem PUG REST JSON structures.
type pcIdentifiers struct {
	IdentifierList struct {
		CID []int `json:"CID"`
	} `json:"IdentifierList"`
}

type pcProperties struct {
	PropertyTable struct {
		Properties []struct {
			CID                int        `json:"CID"`
			MolecularFormula   string     `json:"MolecularFormula"`
			MolecularWeight    flexString `json:"MolecularWeight"`
			CanonicalSMILES    string     `json:"CanonicalSMILES"`
			ConnectivitySMILES string     `json:"ConnectivitySMILES"`
			SMILES             string     `json:"SMILES"`
			IUPACName          string     `json:"IUPACName"`
			InChIKey           string     `json:"InChIKey"`
		} `json:"Properties"`
	} `json:"PropertyTable"`
}

type pcInformation struct {
	InformationList struct {
		Information []struct {
			CID         int      `json:"CID"`
			Synonym     []string `json:"Synonym"`
			Title       string   `json:"Title"`
			Description string   `json:"Description"`
		} `json:"Information"`
	} `json:"InformationList"`
}
