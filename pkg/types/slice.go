package types

// TableSlice is a columnar batch of rows conforming to one record layout.
// Rows occupy the dense event-ID range [Offset, Offset+len(rows)).
type TableSlice struct {
	Layout RecordLayout
	Offset ID
	rows   [][]Data
}

// NewTableSlice builds a slice from rows. Each row must have exactly one
// value per leaf column of the layout; shorter rows are padded with null.
func NewTableSlice(layout RecordLayout, offset ID, rows [][]Data) TableSlice {
	columns := layout.NumColumns()
	for i, row := range rows {
		if len(row) < columns {
			padded := make([]Data, columns)
			copy(padded, row)
			rows[i] = padded
		}
	}
	return TableSlice{Layout: layout, Offset: offset, rows: rows}
}

// Rows returns the number of rows in the slice.
func (ts TableSlice) Rows() int {
	return len(ts.rows)
}

// Columns returns the number of leaf columns.
func (ts TableSlice) Columns() int {
	return ts.Layout.NumColumns()
}

// Row returns the values of row i. The returned slice must not be
// modified.
func (ts TableSlice) Row(i int) []Data {
	return ts.rows[i]
}

// At returns the value at row i, column j.
func (ts TableSlice) At(i, j int) Data {
	return ts.rows[i][j]
}

// IDs returns the event-ID interval covered by the slice.
func (ts TableSlice) IDs() IDSet {
	return MakeInterval(ts.Offset, ts.Offset+ID(len(ts.rows)))
}

// RowID returns the event ID of row i.
func (ts TableSlice) RowID(i int) ID {
	return ts.Offset + ID(i)
}

// SelectRuns splits the slice into maximal contiguous sub-slices whose row
// IDs are in sel. Splitting per run preserves the dense-offset invariant
// for gapped selections.
func (ts TableSlice) SelectRuns(sel IDSet) []TableSlice {
	var out []TableSlice
	var runStart int = -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		out = append(out, TableSlice{
			Layout: ts.Layout,
			Offset: ts.RowID(runStart),
			rows:   ts.rows[runStart:end],
		})
		runStart = -1
	}
	for i := range ts.rows {
		if sel.Contains(ts.RowID(i)) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(ts.rows))
	return out
}
