package models

// GridSchema is the column layout and row/grid selectors derived from a
// results page. Column order is the visual left-to-right order of the
// non-hidden header cells; when VisibleColumnIndices is known it has the
// same length as Columns.
type GridSchema struct {
	GridSelector         string   `json:"grid_selector"`
	RowSelector          string   `json:"row_selector"`
	VisibleColumnIndices []int    `json:"visible_column_indices,omitempty"`
	Columns              []string `json:"columns"`
	FirstDataColumnIndex int      `json:"first_data_column_index"`
}
