package workflow

// ResultsGridSelectors are grid containers observed across the grid vendors
// used by public-records sites. The combined post-submit wait watches all of
// them plus the disambiguation popups.
var ResultsGridSelectors = []string{
	"#grid",
	".k-grid",
	"table.igGrid",
	"#searchResults",
	"table.results",
	".t-grid",
	"#gridResults",
}

// popupConfirmCandidates are confirm controls looked for inside a popup
// container, in preference order. They are always scoped to the container
// before use; a bare attribute selector could match unrelated controls.
var popupConfirmCandidates = []string{
	`input[value="Done"]`,
	`button.t-button`,
	`input[type="button"]`,
	`input[type="submit"]`,
	`button`,
}

// disclaimerTextCandidates drive alternative-selector discovery when the
// primary accept control loops: visible text fragments that mark the
// click-through control on disclaimer and portal pages.
var disclaimerTextCandidates = []string{
	"Name Search",
	"I Agree",
	"I Accept",
	"Accept",
	"Continue",
	"Enter Site",
	"Search Records",
}

// KnownGridColumns is the column-name vocabulary used to sanity-check
// model-supplied column names against the parsed header.
var KnownGridColumns = map[string]struct{}{
	"Name":          {},
	"Date":          {},
	"Record Date":   {},
	"Type":          {},
	"Document Type": {},
	"Vol":           {},
	"Page":          {},
	"Book":          {},
	"Instrument":    {},
	"Party":         {},
	"Grantor":       {},
	"Grantee":       {},
	"Case Number":   {},
	"Description":   {},
	"County":        {},
	"Status":        {},
}

// stackedLabels expands composite header labels that certain grid widgets
// render as one cell spanning several logical columns.
var stackedLabels = map[string][]string{
	"Type Vol Page":    {"Type", "Vol", "Page"},
	"Book Page":        {"Book", "Page"},
	"Grantor Grantee":  {"Grantor", "Grantee"},
	"Date Type":        {"Date", "Type"},
	"Name Record Date": {"Name", "Record Date"},
}

// skipColumnHeaders are header texts that mark row-number/icon columns which
// hold no record data. The first data column index skips past them.
var skipColumnHeaders = map[string]struct{}{
	"":        {},
	"#":       {},
	"view":    {},
	"select":  {},
	"details": {},
	"image":   {},
	"img":     {},
	"row":     {},
}
