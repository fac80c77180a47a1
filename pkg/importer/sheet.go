package importer

// Sheet is the in-memory grid a headerless paste lands on. Cells are laid out
// in the target's canonical column order; a paste overlays values starting at
// the focused cell and grows the grid downward as needed.
type Sheet struct {
	Target Target     `json:"target"`
	Cells  [][]string `json:"cells"`
	Row    int        `json:"focus_row"`
	Col    int        `json:"focus_col"`
}

func NewSheet(target Target) *Sheet {
	return &Sheet{Target: target}
}

func (s *Sheet) width() int {
	return len(Columns[s.Target])
}

// Focus moves the cursor. Out of range values are clamped into the grid width.
func (s *Sheet) Focus(row, col int) {
	if row < 0 {
		row = 0
	}
	if col < 0 {
		col = 0
	}
	if w := s.width(); w > 0 && col >= w {
		col = w - 1
	}
	s.Row, s.Col = row, col
}

// Paste overlays records at the focus. Values that would fall past the last
// column are dropped.
func (s *Sheet) Paste(records [][]string) {
	w := s.width()
	for i, rec := range records {
		r := s.Row + i
		for len(s.Cells) <= r {
			s.Cells = append(s.Cells, make([]string, w))
		}
		for j, v := range rec {
			c := s.Col + j
			if c >= w {
				break
			}
			s.Cells[r][c] = v
		}
	}
}

// Rows returns every non-empty grid row keyed by canonical column.
func (s *Sheet) Rows() []Row {
	cols := Columns[s.Target]
	var rows []Row
	for i, cells := range s.Cells {
		fields := make(map[string]string, len(cols))
		for j, v := range cells {
			if v != "" && j < len(cols) {
				fields[cols[j]] = v
			}
		}
		if len(fields) > 0 {
			rows = append(rows, Row{Line: i + 1, Fields: fields})
		}
	}
	return rows
}
