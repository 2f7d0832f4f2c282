package view

import "io"

// KeyValueList renders listing rows as a table. ContextData marks rows
// sourced from report context rather than user input, which the
// dashboard styles differently.
type KeyValueList struct {
	Pairs       []Pair
	ContextData bool
}

// Render writes the listing HTML. An empty Pairs slice renders a table
// with no rows.
func (l KeyValueList) Render(w io.Writer) error {
	return pageTemplates.ExecuteTemplate(w, "keyvalue", l)
}
