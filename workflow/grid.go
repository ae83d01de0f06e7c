package workflow

import (
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/openrecords/gridscout/cleaner"
	"github.com/openrecords/gridscout/models"
)

const nodeGrid = "GridCapture"

// captureGrid parses the results grid's header row into a GridSchema:
// hidden columns filtered out at the DOM level, stacked labels expanded,
// and the first real data column located. Returns false when no grid
// structure could be derived from the current page.
func (o *Orchestrator) captureGrid(ctx context.Context, state *models.RunState) bool {
	html, err := o.adapter.CleanSnapshot(ctx, o.cfg.GridSnapshotCap)
	if err != nil {
		o.log.Error(nodeGrid, "grid snapshot failed: %v", err)
		return false
	}

	schema := ParseGridSchema(html, state.SearchSelectors.Grid)
	if schema == nil {
		o.log.Warn(nodeGrid, "no grid header found in page")
		return false
	}

	state.Grid = schema
	state.RecordedSteps = append(state.RecordedSteps, models.Step{
		Action:   models.ActionCaptureGrid,
		Selector: schema.GridSelector,
		Metadata: map[string]string{
			"row_selector":      schema.RowSelector,
			"columns":           strings.Join(schema.Columns, "|"),
			"first_data_column": strconv.Itoa(schema.FirstDataColumnIndex),
		},
	})
	o.log.Info(nodeGrid, "captured %d columns, first data column %d",
		len(schema.Columns), schema.FirstDataColumnIndex)
	return true
}

// ParseGridSchema extracts the grid schema from cleaned page HTML. The
// parsed header is the ground truth; nothing here guesses column names.
func ParseGridSchema(html, preferredGrid string) *models.GridSchema {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	gridSel, grid := findGrid(doc, preferredGrid)
	if grid == nil {
		return nil
	}

	header := grid.Find("thead tr").First()
	if header.Length() == 0 {
		header = grid.Find("tr").First()
	}
	cells := header.Find("th")
	if cells.Length() == 0 {
		cells = header.Find("td")
	}
	if cells.Length() == 0 {
		return nil
	}

	var columns []string
	var visible []int
	cells.Each(func(i int, cell *goquery.Selection) {
		if cleaner.IsHiddenHeader(cell) {
			return
		}
		label := strings.Join(strings.Fields(cell.Text()), " ")
		visible = append(visible, i)
		columns = append(columns, label)
	})
	if len(columns) == 0 {
		return nil
	}

	columns, visible = expandStackedLabels(columns, visible)

	return &models.GridSchema{
		GridSelector:         gridSel,
		RowSelector:          rowSelectorFor(gridSel, grid),
		VisibleColumnIndices: visible,
		Columns:              columns,
		FirstDataColumnIndex: firstDataColumn(columns),
	}
}

// findGrid locates the grid container: the preferred selector from the run
// if it matches, otherwise the first known grid selector present, otherwise
// the largest table on the page.
func findGrid(doc *goquery.Document, preferred string) (string, *goquery.Selection) {
	candidates := ResultsGridSelectors
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}
	for _, sel := range candidates {
		if m := doc.Find(sel); m.Length() > 0 {
			return sel, m.First()
		}
	}

	var bestSel *goquery.Selection
	bestRows := 0
	doc.Find("table").Each(func(_ int, tbl *goquery.Selection) {
		rows := tbl.Find("tr").Length()
		if rows > bestRows {
			bestRows = rows
			bestSel = tbl
		}
	})
	if bestSel == nil || bestRows < 2 {
		return "", nil
	}
	if id, ok := bestSel.Attr("id"); ok && id != "" {
		return "#" + id, bestSel
	}
	return "table", bestSel
}

// rowSelectorFor builds the data-row selector for a grid container.
func rowSelectorFor(gridSel string, grid *goquery.Selection) string {
	if grid.Find("tbody tr").Length() > 0 {
		return gridSel + " tbody tr"
	}
	return gridSel + " tr"
}

// expandStackedLabels replaces composite labels with their constituent
// column names using the known dictionary. Index lists grow in step so the
// schema invariant (len(columns) == len(indices)) holds.
func expandStackedLabels(columns []string, visible []int) ([]string, []int) {
	outCols := make([]string, 0, len(columns))
	outIdx := make([]int, 0, len(visible))
	for i, col := range columns {
		if parts, ok := stackedLabels[col]; ok {
			for _, p := range parts {
				outCols = append(outCols, p)
				outIdx = append(outIdx, visible[i])
			}
			continue
		}
		outCols = append(outCols, col)
		outIdx = append(outIdx, visible[i])
	}
	return outCols, outIdx
}

// firstDataColumn returns the index of the first column that holds record
// data, skipping row-number and icon columns.
func firstDataColumn(columns []string) int {
	for i, col := range columns {
		if _, skip := skipColumnHeaders[strings.ToLower(strings.TrimSpace(col))]; !skip {
			return i
		}
	}
	return 0
}
