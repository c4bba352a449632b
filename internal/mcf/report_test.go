package mcf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

func headers() []ColumnHeader {
	return []ColumnHeader{
		{Name: ColSourcePath, ColumnType: "DIMENSION", DataType: "MCF_SEQUENCE"},
		{Name: ColMediumPath, ColumnType: "DIMENSION", DataType: "MCF_SEQUENCE"},
		{Name: ColCampaignPath, ColumnType: "DIMENSION", DataType: "MCF_SEQUENCE"},
		{Name: ColTransactionID, ColumnType: "DIMENSION", DataType: "STRING"},
		{Name: ColConversionValue, ColumnType: "METRIC", DataType: "CURRENCY"},
	}
}

func seq(values ...string) Cell {
	c := Cell{}
	for _, v := range values {
		c.ConversionPathValue = append(c.ConversionPathValue, PathNode{InteractionType: "CLICK", NodeValue: v})
	}
	return c
}

func prim(v string) Cell { return Cell{PrimitiveValue: v} }

func TestNextStartIndex(t *testing.T) {
	tests := []struct {
		name string
		link string
		idx  int
		ok   bool
		err  bool
	}{
		{"empty", "", 0, false, false},
		{"with index", "https://www.googleapis.com/analytics/v3/data/mcf?ids=ga:1&start-index=10001&max-results=10000", 10001, true, false},
		{"no index", "https://www.googleapis.com/analytics/v3/data/mcf?ids=ga:1", 0, false, false},
		{"bad index", "https://x/data/mcf?start-index=abc", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok, err := nextStartIndex(tt.link)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.idx, idx)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestFlatten(t *testing.T) {
	pages := []*Response{
		{
			ColumnHeaders: headers(),
			Rows: [][]Cell{
				{seq("google", "(direct)"), seq("cpc", "(none)"), seq("spring", "(unavailable)"), prim("T1"), prim("120.5")},
				{seq("newsletter"), seq("email"), seq("(not set)"), prim("T2"), prim("40")},
			},
		},
		{
			ColumnHeaders: headers(),
			Rows: [][]Cell{
				{seq("bing"), seq("organic"), seq("(not set)"), prim("T3"), prim("9.99")},
			},
		},
	}

	raws, err := Flatten(pages)
	require.NoError(t, err)
	require.Len(t, raws, 3)

	assert.Equal(t, attribution.RawPath{
		SourcePath:      "google > (direct)",
		MediumPath:      "cpc > (none)",
		CampaignPath:    "spring > (unavailable)",
		TransactionID:   "T1",
		ConversionValue: "120.5",
	}, raws[0])
	assert.Equal(t, "T2", raws[1].TransactionID)
	assert.Equal(t, "T3", raws[2].TransactionID)

	p, err := attribution.BuildPath(raws[0])
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestFlatten_LabelsSurviveBuildTable(t *testing.T) {
	pages := []*Response{{
		ColumnHeaders: headers(),
		Rows: [][]Cell{
			{seq("google", "bing"), seq("cpc", "cpc"), seq("spring>sale", "a"), prim("T1"), prim("10")},
			{seq("newsletter"), seq("email"), seq(""), prim("T2"), prim("5")},
		},
	}}

	raws, err := Flatten(pages)
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "spring>sale > a", raws[0].CampaignPath)
	assert.Equal(t, "", raws[1].CampaignPath)

	alloc, err := attribution.NewAllocator(attribution.DefaultWeights(), attribution.DefaultPrecision)
	require.NoError(t, err)
	table, rejected := attribution.BuildTable(raws, alloc)
	assert.Empty(t, rejected)
	require.Equal(t, 2, table.Len())

	m, ok := table.Get("T1")
	require.True(t, ok)
	share, ok := m.Get(attribution.Touchpoint{Source: "google", Medium: "cpc", Campaign: "spring>sale"})
	require.True(t, ok)
	assert.Equal(t, "0.42857", share.String())

	m, ok = table.Get("T2")
	require.True(t, ok)
	share, ok = m.Get(attribution.Touchpoint{Source: "newsletter", Medium: "email", Campaign: ""})
	require.True(t, ok)
	assert.Equal(t, "1", share.String())
}

func TestFlatten_ColumnOrderFromHeaders(t *testing.T) {
	h := headers()
	h[0], h[3] = h[3], h[0]
	pages := []*Response{{
		ColumnHeaders: h,
		Rows: [][]Cell{
			{prim("T9"), seq("email"), seq("(not set)"), seq("newsletter"), prim("1")},
		},
	}}

	raws, err := Flatten(pages)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "T9", raws[0].TransactionID)
	assert.Equal(t, "newsletter", raws[0].SourcePath)
}

func TestFlatten_EmptyReport(t *testing.T) {
	raws, err := Flatten([]*Response{{TotalResults: 0}})
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestFlatten_MissingColumns(t *testing.T) {
	pages := []*Response{{
		ColumnHeaders: headers()[:2],
		Rows:          [][]Cell{{seq("a"), seq("b")}},
	}}
	_, err := Flatten(pages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path or transaction columns")
}

func TestFlatten_ShortRow(t *testing.T) {
	pages := []*Response{{
		ColumnHeaders: headers(),
		Rows:          [][]Cell{{seq("a"), seq("b")}},
	}}
	_, err := Flatten(pages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 2 cells, want 5")
}

func TestResponse_DecodesAPIPayload(t *testing.T) {
	payload := `{
		"itemsPerPage": 10000,
		"totalResults": 1,
		"columnHeaders": [
			{"name": "mcf:sourcePath", "columnType": "DIMENSION", "dataType": "MCF_SEQUENCE"},
			{"name": "mcf:mediumPath", "columnType": "DIMENSION", "dataType": "MCF_SEQUENCE"},
			{"name": "mcf:campaignPath", "columnType": "DIMENSION", "dataType": "MCF_SEQUENCE"},
			{"name": "mcf:transactionId", "columnType": "DIMENSION", "dataType": "STRING"},
			{"name": "mcf:totalConversionValue", "columnType": "METRIC", "dataType": "CURRENCY"}
		],
		"rows": [[
			{"conversionPathValue": [{"interactionType": "CLICK", "nodeValue": "google"}, {"interactionType": "", "nodeValue": "(direct)"}]},
			{"conversionPathValue": [{"nodeValue": "organic"}, {"nodeValue": "(none)"}]},
			{"conversionPathValue": [{"nodeValue": "(not set)"}, {"nodeValue": "(unavailable)"}]},
			{"primitiveValue": "ORD-1"},
			{"primitiveValue": "55.0"}
		]]
	}`

	var r Response
	require.NoError(t, json.Unmarshal([]byte(payload), &r))

	raws, err := Flatten([]*Response{&r})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "google > (direct)", raws[0].SourcePath)
	assert.Equal(t, "ORD-1", raws[0].TransactionID)
}
