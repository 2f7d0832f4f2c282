// Package cspreport holds the wire formats browsers use to deliver
// Content-Security-Policy violation reports, plus the normalization
// applied before reports are grouped and stored.
package cspreport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrEmptyBody      = errors.New("cspreport: empty body")
	ErrMissingReport  = errors.New("cspreport: missing csp-report object")
	ErrNoDirective    = errors.New("cspreport: no violated or effective directive")
	ErrNoDocumentURI  = errors.New("cspreport: no document uri")
	ErrNotViolation   = errors.New("cspreport: not a csp-violation report")
	ErrMalformedBatch = errors.New("cspreport: malformed report batch")
)

// Report is one CSP violation as defined by the report-uri wire format.
// Field names follow the hyphenated keys browsers send in the
// application/csp-report body.
type Report struct {
	DocumentURI        string `json:"document-uri,omitempty"`
	Referrer           string `json:"referrer,omitempty"`
	ViolatedDirective  string `json:"violated-directive,omitempty"`
	EffectiveDirective string `json:"effective-directive,omitempty"`
	OriginalPolicy     string `json:"original-policy,omitempty"`
	BlockedURI         string `json:"blocked-uri,omitempty"`
	Disposition        string `json:"disposition,omitempty"`
	StatusCode         int    `json:"status-code,omitempty"`
	LineNumber         int    `json:"line-number,omitempty"`
	ColumnNumber       int    `json:"column-number,omitempty"`
	SourceFile         string `json:"source-file,omitempty"`
	ScriptSample       string `json:"script-sample,omitempty"`
}

// reportURIEnvelope is the {"csp-report": {...}} wrapper.
type reportURIEnvelope struct {
	Report *Report `json:"csp-report"`
}

// ParseReportURI decodes a legacy application/csp-report body. Bodies
// without the csp-report wrapper are accepted as a bare report object.
func ParseReportURI(body []byte) (*Report, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	var envelope reportURIEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("cspreport: decode report-uri body: %w", err)
	}

	report := envelope.Report
	if report == nil {
		report = &Report{}
		if err := json.Unmarshal(body, report); err != nil {
			return nil, fmt.Errorf("cspreport: decode bare report: %w", err)
		}
		if report.DocumentURI == "" && report.ViolatedDirective == "" && report.EffectiveDirective == "" {
			return nil, ErrMissingReport
		}
	}

	return report, nil
}

// reportToItem is one entry of an application/reports+json batch.
type reportToItem struct {
	Type      string       `json:"type"`
	Age       int64        `json:"age"`
	URL       string       `json:"url"`
	UserAgent string       `json:"user_agent"`
	Body      reportToBody `json:"body"`
}

// reportToBody carries the camelCase field names of the Reporting API.
type reportToBody struct {
	DocumentURL        string `json:"documentURL"`
	Referrer           string `json:"referrer"`
	BlockedURL         string `json:"blockedURL"`
	EffectiveDirective string `json:"effectiveDirective"`
	OriginalPolicy     string `json:"originalPolicy"`
	Disposition        string `json:"disposition"`
	StatusCode         int    `json:"statusCode"`
	LineNumber         int    `json:"lineNumber"`
	ColumnNumber       int    `json:"columnNumber"`
	SourceFile         string `json:"sourceFile"`
	Sample             string `json:"sample"`
}

// ParseReportTo decodes a Reporting API batch, keeping only
// csp-violation entries. A batch with no such entries yields an empty
// slice, not an error.
func ParseReportTo(body []byte) ([]*Report, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	var items []reportToItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}

	reports := make([]*Report, 0, len(items))
	for _, item := range items {
		if item.Type != "csp-violation" {
			continue
		}
		b := item.Body
		documentURI := b.DocumentURL
		if documentURI == "" {
			documentURI = item.URL
		}
		reports = append(reports, &Report{
			DocumentURI:        documentURI,
			Referrer:           b.Referrer,
			BlockedURI:         b.BlockedURL,
			EffectiveDirective: b.EffectiveDirective,
			ViolatedDirective:  b.EffectiveDirective,
			OriginalPolicy:     b.OriginalPolicy,
			Disposition:        b.Disposition,
			StatusCode:         b.StatusCode,
			LineNumber:         b.LineNumber,
			ColumnNumber:       b.ColumnNumber,
			SourceFile:         b.SourceFile,
			ScriptSample:       b.Sample,
		})
	}

	return reports, nil
}

// Directive returns the effective directive, falling back to the first
// token of the violated directive for browsers that omit it.
func (r *Report) Directive() string {
	if r.EffectiveDirective != "" {
		return r.EffectiveDirective
	}
	if fields := strings.Fields(r.ViolatedDirective); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// Validate reports whether the report carries enough to be grouped.
func (r *Report) Validate() error {
	if r.Directive() == "" {
		return ErrNoDirective
	}
	if r.DocumentURI == "" {
		return ErrNoDocumentURI
	}
	return nil
}

// Fields flattens the report into the snake_case field mapping consumed
// by the dashboard views. Zero-valued optional fields are omitted so the
// listing shows only what the browser actually sent.
func (r *Report) Fields() map[string]any {
	fields := make(map[string]any, 12)

	put := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}

	put("document_uri", r.DocumentURI)
	put("referrer", r.Referrer)
	put("violated_directive", r.ViolatedDirective)
	put("effective_directive", r.Directive())
	put("original_policy", r.OriginalPolicy)
	put("blocked_uri", r.BlockedURI)
	put("disposition", r.Disposition)
	put("source_file", r.SourceFile)
	put("script_sample", r.ScriptSample)

	if r.StatusCode != 0 {
		fields["status_code"] = r.StatusCode
	}
	if r.LineNumber != 0 {
		fields["line_number"] = r.LineNumber
	}
	if r.ColumnNumber != 0 {
		fields["column_number"] = r.ColumnNumber
	}

	return fields
}

// Keyword sources a browser may put in blocked-uri instead of a URL.
var keywordBlockedURIs = map[string]string{
	"":       "'self'",
	"self":   "'self'",
	"inline": "'inline'",
	"eval":   "'eval'",
	"data":   "data:",
	"blob":   "blob:",
	"asset":  "asset:",
}

// NormalizeBlockedURI reduces a blocked-uri to the value groups key on:
// keyword sources map to canonical quoted forms ('self' resolving means
// the document's own origin) and URLs reduce to scheme://host[:port].
func NormalizeBlockedURI(blockedURI, documentURI string) string {
	trimmed := strings.TrimSpace(blockedURI)
	if canonical, ok := keywordBlockedURIs[trimmed]; ok {
		if canonical == "'self'" {
			if origin := Origin(documentURI); origin != "" {
				return origin
			}
		}
		return canonical
	}

	if origin := Origin(trimmed); origin != "" {
		return origin
	}

	// Schemes without a host (data:, blob:, chrome-extension: with
	// opaque paths) keep their scheme as the key.
	if scheme, _, ok := strings.Cut(trimmed, ":"); ok && scheme != "" {
		return scheme + ":"
	}

	return trimmed
}

// Origin extracts scheme://host[:port] from a URL, or "" when the
// value has no parseable origin.
func Origin(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
