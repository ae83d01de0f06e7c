// Package classify turns a cleaned DOM snapshot into a page classification,
// combining one structured LLM call with a deterministic heuristic verifier.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openrecords/gridscout/browser"
	"github.com/openrecords/gridscout/cache"
	"github.com/openrecords/gridscout/llm"
	"github.com/openrecords/gridscout/models"
)

// Decision is the four-way page classification plus role-selector hints.
type Decision struct {
	IsSearchPage  bool               `json:"is_search_page"`
	IsResultsGrid bool               `json:"is_results_grid"`
	IsDisclaimer  bool               `json:"is_disclaimer"`
	RequiresLogin bool               `json:"requires_login"`
	Selectors     models.SelectorSet `json:"selectors"`
	Reasoning     string             `json:"reasoning"`

	// HeuristicUpgraded marks decisions promoted by the markup verifier.
	HeuristicUpgraded bool `json:"-"`
}

// decisionTTL bounds how long a cached classification stays valid. The same
// markup classifies the same way; the TTL only guards against a long-lived
// process holding decisions for sites that changed.
const decisionTTL = 10 * time.Minute

// Classifier classifies snapshots for one run. Identical snapshots hit the
// memo cache instead of the LLM, which matters when recovery loops re-visit
// a page that did not change.
type Classifier struct {
	llm  *llm.Client
	memo *cache.Cache[Decision]
}

// New creates a classifier around an LLM client.
func New(c *llm.Client) *Classifier {
	return &Classifier{
		llm:  c,
		memo: cache.New[Decision](256),
	}
}

const classifySystemPrompt = `You are analyzing the HTML of a public-records website to drive an automated workflow.
Classify the page and return ONLY a JSON object with this exact shape:
{
  "is_search_page": bool,      // a form to search records by name is present
  "is_results_grid": bool,     // a results table/grid with data rows is present
  "is_disclaimer": bool,       // a disclaimer, terms, or portal page that must be clicked through
  "requires_login": bool,      // login, password, or CAPTCHA is required to proceed
  "selectors": {
    "input": "",               // CSS selector of the name search input, if any
    "submit": "",              // CSS selector of the search submit control, if any
    "startDate": "",           // CSS selector of the start-date input, if any
    "endDate": "",             // CSS selector of the end-date input, if any
    "acceptButton": "",        // CSS selector of the disclaimer accept/continue control, if any
    "grid": ""                 // CSS selector of the results grid container, if any
  },
  "reasoning": ""
}
Rules:
- Use ONLY selectors built from id, name, or class values that literally appear in the HTML.
- Prefer id selectors (#theId) over anything else.
- If you are not sure a role exists, leave its selector empty.`

// Classify runs one structured LLM call on the cleaned snapshot, discards
// selectors that do not parse as CSS, then applies the heuristic verifier.
func (c *Classifier) Classify(ctx context.Context, cleanedHTML string) (Decision, error) {
	key := cache.Key("classify", cleanedHTML)
	if d, ok := c.memo.Get(key, decisionTTL); ok {
		return d, nil
	}

	user := fmt.Sprintf("Classify this page:\n\n%s", cleanedHTML)

	d, err := llm.Decide[Decision](ctx, c.llm, classifySystemPrompt, user)
	if err != nil {
		return Decision{}, models.NewWorkflowError(models.ErrCodeClassification, "page classification failed", err)
	}

	d.Selectors = dropInvalidSelectors(d.Selectors)
	HeuristicUpgrade(cleanedHTML, &d)
	c.memo.Set(key, d)
	return d, nil
}

// dropInvalidSelectors blanks any selector that fails CSS parsing, so a
// hallucinated selector never reaches the browser.
func dropInvalidSelectors(s models.SelectorSet) models.SelectorSet {
	check := func(sel string) string {
		if sel == "" || !browser.ValidSelector(sel) {
			return ""
		}
		return sel
	}
	return models.SelectorSet{
		Input:        check(s.Input),
		Submit:       check(s.Submit),
		StartDate:    check(s.StartDate),
		EndDate:      check(s.EndDate),
		AcceptButton: check(s.AcceptButton),
		Grid:         check(s.Grid),
	}
}

// Known search-widget fingerprints: element ids and names observed across
// the public-records grid vendors this system targets.
var (
	inputFingerprints  = []string{"SearchOnName", "searchTerm", "txtSearch", "searchName", "name-Name", "LastName"}
	submitFingerprints = []string{"btnSearch", "nameSearchModalSubmit", "btnSubmit", "searchButton", "SearchSubmit"}
	startFingerprints  = []string{"RecordDateFrom", "startDate", "dateFrom", "FromDate"}
	endFingerprints    = []string{"RecordDateTo", "endDate", "dateTo", "ToDate"}
)

// HeuristicUpgrade may promote a negative LLM classification to
// "search page" when both an input and a submit selector can be derived
// from id/name literals actually present in the cleaned markup. It never
// downgrades a positive classification and never invents a selector that
// is not in the markup.
func HeuristicUpgrade(cleanedHTML string, d *Decision) {
	if d.IsSearchPage || d.RequiresLogin {
		return
	}
	// No input elements at all means there is nothing to upgrade to.
	lower := strings.ToLower(cleanedHTML)
	if !strings.Contains(lower, "<input") {
		return
	}

	input := findFingerprint(cleanedHTML, inputFingerprints)
	submit := findFingerprint(cleanedHTML, submitFingerprints)
	if input == "" || submit == "" {
		return
	}

	d.IsSearchPage = true
	d.HeuristicUpgraded = true
	if d.Selectors.Input == "" {
		d.Selectors.Input = input
	}
	if d.Selectors.Submit == "" {
		d.Selectors.Submit = submit
	}
	if d.Selectors.StartDate == "" {
		d.Selectors.StartDate = findFingerprint(cleanedHTML, startFingerprints)
	}
	if d.Selectors.EndDate == "" {
		d.Selectors.EndDate = findFingerprint(cleanedHTML, endFingerprints)
	}
	if d.Reasoning != "" {
		d.Reasoning += "; "
	}
	d.Reasoning += fmt.Sprintf("heuristic verified search widget (input=%s, submit=%s)", input, submit)
}

// findFingerprint returns a selector for the first fingerprint that appears
// as a literal id or name attribute value in the markup, or "" when none do.
func findFingerprint(html string, candidates []string) string {
	for _, c := range candidates {
		if containsAttr(html, "id", c) {
			return "#" + c
		}
		if containsAttr(html, "name", c) {
			return fmt.Sprintf(`[name="%s"]`, c)
		}
	}
	return ""
}

// containsAttr checks for attr="value" or attr='value' literally in markup.
func containsAttr(html, attr, value string) bool {
	return strings.Contains(html, fmt.Sprintf(`%s="%s"`, attr, value)) ||
		strings.Contains(html, fmt.Sprintf(`%s='%s'`, attr, value))
}
