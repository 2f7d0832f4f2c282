package view

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairs_OrdersByKey(t *testing.T) {
	data := ReportData{
		"effective_directive": "script-src",
		"blocked_uri":         "https://evil.example",
	}

	got := Pairs(data)

	want := []Pair{
		{Key: "blocked_uri", Value: "https://evil.example"},
		{Key: "effective_directive", Value: "script-src"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestPairs_EmptyData(t *testing.T) {
	assert.Empty(t, Pairs(nil))
	assert.Empty(t, Pairs(ReportData{}))
}

func TestPairs_NumbersKeepShortestForm(t *testing.T) {
	data := ReportData{
		"document_uri":        "https://a",
		"effective_directive": "style-src",
		"source_file":         "https://b",
		"line_number":         float64(12),
	}

	got := Pairs(data)

	want := []Pair{
		{Key: "document_uri", Value: "https://a"},
		{Key: "effective_directive", Value: "style-src"},
		{Key: "line_number", Value: "12"},
		{Key: "source_file", Value: "https://b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{name: "string", value: "script-src", want: "script-src"},
		{name: "nil", value: nil, want: ""},
		{name: "bool", value: true, want: "true"},
		{name: "int", value: 7, want: "7"},
		{name: "whole float", value: float64(12), want: "12"},
		{name: "fractional float", value: 1.5, want: "1.5"},
		{name: "nested map", value: map[string]any{"a": float64(1)}, want: `{"a":1}`},
		{name: "slice", value: []any{"x", "y"}, want: `["x","y"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatValue(tc.value))
		})
	}
}

func TestDirectiveView_HeadingFromEffectiveDirective(t *testing.T) {
	v := DirectiveView{Data: ReportData{
		"effective_directive": "script-src",
		"blocked_uri":         "https://evil.example",
	}}

	assert.Equal(t, "script-src", v.Heading())

	listing := v.Listing()
	assert.True(t, listing.ContextData)
	assert.Len(t, listing.Pairs, 2)
}

func TestDirectiveView_EmptyDataDegrades(t *testing.T) {
	v := DirectiveView{}

	assert.Equal(t, "", v.Heading())

	listing := v.Listing()
	assert.True(t, listing.ContextData)
	assert.Empty(t, listing.Pairs)

	var buf bytes.Buffer
	require.NoError(t, v.Render(&buf))
	out := buf.String()
	assert.Contains(t, out, `<h3 class="directive-heading"></h3>`)
	assert.NotContains(t, out, "<tr>")
}

func TestDirectiveView_NonStringDirective(t *testing.T) {
	v := DirectiveView{Data: ReportData{"effective_directive": float64(3)}}

	assert.Equal(t, "", v.Heading())
	assert.Len(t, v.Listing().Pairs, 1)
}

func TestDirectiveView_RenderFullReport(t *testing.T) {
	v := DirectiveView{Data: ReportData{
		"document_uri":        "https://a",
		"effective_directive": "style-src",
		"source_file":         "https://b",
		"line_number":         float64(12),
	}}

	var buf bytes.Buffer
	require.NoError(t, v.Render(&buf))
	out := buf.String()

	assert.Contains(t, out, `<h3 class="directive-heading">style-src</h3>`)
	assert.Contains(t, out, "context-data")
	assert.Equal(t, 4, strings.Count(out, "<tr>"))
	assert.Contains(t, out, "<pre>12</pre>")

	// Listing keys appear in ascending order.
	idx := func(s string) int { return strings.Index(out, s) }
	assert.Less(t, idx("document_uri"), idx("effective_directive"))
	assert.Less(t, idx("effective_directive"), idx("line_number"))
	assert.Less(t, idx("line_number"), idx("source_file"))
}

func TestDirectiveView_RenderIsDeterministic(t *testing.T) {
	v := DirectiveView{Data: ReportData{
		"effective_directive": "script-src",
		"blocked_uri":         "https://evil.example",
		"disposition":         "enforce",
	}}

	var first, second bytes.Buffer
	require.NoError(t, v.Render(&first))
	require.NoError(t, v.Render(&second))

	assert.Equal(t, first.String(), second.String())
}

func TestDirectiveView_EscapesHTML(t *testing.T) {
	v := DirectiveView{Data: ReportData{
		"effective_directive": "script-src",
		"blocked_uri":         `https://evil.example/<script>alert(1)</script>`,
	}}

	var buf bytes.Buffer
	require.NoError(t, v.Render(&buf))

	assert.NotContains(t, buf.String(), "<script>alert(1)</script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}

func TestKeyValueList_RenderWithoutContextFlag(t *testing.T) {
	l := KeyValueList{Pairs: []Pair{{Key: "browser", Value: "Firefox"}}}

	var buf bytes.Buffer
	require.NoError(t, l.Render(&buf))

	assert.Contains(t, buf.String(), `class="key-value"`)
	assert.NotContains(t, buf.String(), "context-data")
}
