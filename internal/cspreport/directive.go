package cspreport

// Directive names from CSP level 3 plus the deprecated ones browsers
// still report. Unknown names are stored as-is unless a project's
// policy opts into dropping them.
var knownDirectives = map[string]struct{}{
	"base-uri":                  {},
	"child-src":                 {},
	"connect-src":               {},
	"default-src":               {},
	"font-src":                  {},
	"form-action":               {},
	"frame-ancestors":           {},
	"frame-src":                 {},
	"img-src":                   {},
	"manifest-src":              {},
	"media-src":                 {},
	"object-src":                {},
	"plugin-types":              {},
	"prefetch-src":              {},
	"referrer":                  {},
	"report-to":                 {},
	"report-uri":                {},
	"require-trusted-types-for": {},
	"sandbox":                   {},
	"script-src":                {},
	"script-src-attr":           {},
	"script-src-elem":           {},
	"style-src":                 {},
	"style-src-attr":            {},
	"style-src-elem":            {},
	"trusted-types":             {},
	"upgrade-insecure-requests": {},
	"worker-src":                {},
}

// IsKnownDirective reports whether name is a recognised CSP directive.
func IsKnownDirective(name string) bool {
	_, ok := knownDirectives[name]
	return ok
}
