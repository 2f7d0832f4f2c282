package view

import "io"

// DirectiveView renders one violation report as a directive heading
// followed by the report's fields. It owns no state beyond the data it
// is given; rendering the same data twice produces identical output.
type DirectiveView struct {
	Data ReportData
}

// Heading returns the report's effective directive, or the empty string
// when the field is absent or not textual.
func (v DirectiveView) Heading() string {
	directive, _ := v.Data["effective_directive"].(string)
	return directive
}

// Listing returns the report fields as a key/value listing. Report
// fields are context data, so the flag is always set.
func (v DirectiveView) Listing() KeyValueList {
	return KeyValueList{Pairs: Pairs(v.Data), ContextData: true}
}

// Render writes the directive section HTML. Missing or empty data
// degrades to an empty heading over an empty listing, never an error.
func (v DirectiveView) Render(w io.Writer) error {
	payload := struct {
		Heading string
		Listing KeyValueList
	}{
		Heading: v.Heading(),
		Listing: v.Listing(),
	}
	return pageTemplates.ExecuteTemplate(w, "directive", payload)
}
