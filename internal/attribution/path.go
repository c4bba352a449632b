package attribution

import (
	"strings"

	"github.com/rotisserie/eris"
)

// PathSeparator separates positions in a raw MCF path string. Labels may
// themselves contain a bare ">".
const PathSeparator = " > "

// RawPath is one upstream report row: three parallel " > "-delimited label
// chains and the transaction they led to.
type RawPath struct {
	SourcePath      string `json:"source_path"`
	MediumPath      string `json:"medium_path"`
	CampaignPath    string `json:"campaign_path"`
	TransactionID   string `json:"transaction_id"`
	ConversionValue string `json:"conversion_value,omitempty"`
}

// ConversionPath is the ordered, cleaned sequence of touchpoints preceding a
// transaction. It always holds at least one touchpoint.
type ConversionPath struct {
	TransactionID string
	touchpoints   []Touchpoint
}

// NewConversionPath builds a path from already-resolved touchpoints.
func NewConversionPath(transactionID string, touchpoints []Touchpoint) (ConversionPath, error) {
	if len(touchpoints) == 0 {
		return ConversionPath{}, eris.Wrapf(ErrInvalidPath, "transaction %q has no touchpoints", transactionID)
	}
	tps := make([]Touchpoint, len(touchpoints))
	copy(tps, touchpoints)
	return ConversionPath{TransactionID: transactionID, touchpoints: tps}, nil
}

// Len returns the number of touchpoints.
func (p ConversionPath) Len() int {
	return len(p.touchpoints)
}

// Touchpoints returns a copy of the ordered touchpoints.
func (p ConversionPath) Touchpoints() []Touchpoint {
	out := make([]Touchpoint, len(p.touchpoints))
	copy(out, p.touchpoints)
	return out
}

// BuildPath splits, zips and cleans a raw row into a ConversionPath.
//
// When the direct placeholder appears alongside at least one real
// touchpoint, every placeholder occurrence is removed.
func BuildPath(raw RawPath) (ConversionPath, error) {
	if isBlank(raw.SourcePath) && isBlank(raw.MediumPath) && isBlank(raw.CampaignPath) {
		return ConversionPath{}, eris.Wrapf(ErrInvalidPath, "transaction %q has no touchpoints", raw.TransactionID)
	}

	sources := splitPath(raw.SourcePath)
	mediums := splitPath(raw.MediumPath)
	campaigns := splitPath(raw.CampaignPath)

	if len(sources) != len(mediums) || len(sources) != len(campaigns) {
		return ConversionPath{}, eris.Wrapf(ErrInvalidPath,
			"transaction %q: path lengths differ (source=%d medium=%d campaign=%d)",
			raw.TransactionID, len(sources), len(mediums), len(campaigns))
	}

	touchpoints := make([]Touchpoint, len(sources))
	for i := range sources {
		touchpoints[i] = Touchpoint{Source: sources[i], Medium: mediums[i], Campaign: campaigns[i]}
	}

	return NewConversionPath(raw.TransactionID, dropDirect(touchpoints))
}

// splitPath splits a " > "-delimited chain, trimming whitespace around each
// label. A blank chain is a single empty label.
func splitPath(s string) []string {
	parts := strings.Split(s, PathSeparator)
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func dropDirect(touchpoints []Touchpoint) []Touchpoint {
	kept := make([]Touchpoint, 0, len(touchpoints))
	for _, tp := range touchpoints {
		if !tp.IsDirect() {
			kept = append(kept, tp)
		}
	}
	if len(kept) == 0 {
		return touchpoints
	}
	return kept
}
