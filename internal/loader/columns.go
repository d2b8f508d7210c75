package loader

import "strings"

// Header aliases; the first alias present in a header row wins.
var (
	colModelID    = []string{"ModelID", "model_id"}
	colLotID      = []string{"LotID", "lot_id"}
	colDefectRate = []string{"DefectRate", "defect_rate"}
	colDateTime   = []string{"DateTime", "datetime"}
	colType       = []string{"Type", "type"}
	colValue      = []string{"Value", "value"}
)

// header maps column names to their position in a row.
type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

// index returns the position of the first alias present, or -1.
func (h header) index(aliases []string) int {
	for _, alias := range aliases {
		if i, ok := h[alias]; ok {
			return i
		}
	}
	return -1
}

// cell returns the trimmed value at i, or "" when the column is absent or the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
