// Package loader reads defect-rate and parameter records from CSV or XLSX files.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

// ErrMissingSource is returned when a record file does not exist.
var ErrMissingSource = errors.New("record source not found")

// Loader decodes record files. Unparsable numbers load as 0 and unparsable or
// missing timestamps load as the time of the load.
type Loader struct {
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Loader.
func New(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, now: time.Now}
}

// LoadDefectRates reads defect-rate records. sheet selects the worksheet of an
// XLSX file and is ignored for CSV; empty means the first sheet.
func (l *Loader) LoadDefectRates(path, sheet string) ([]models.DefectRateRecord, error) {
	rows, err := l.readRows(path, sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	h := newHeader(rows[0])
	modelCol, lotCol, rateCol := h.index(colModelID), h.index(colLotID), h.index(colDefectRate)

	records := make([]models.DefectRateRecord, 0, len(rows)-1)
	badNumbers := 0
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rate, ok := parseNumber(cell(row, rateCol))
		if !ok {
			badNumbers++
		}
		records = append(records, models.DefectRateRecord{
			ModelID: cell(row, modelCol),
			LotID:   cell(row, lotCol),
			Rate:    rate,
		})
	}

	l.logger.Debug("loaded defect rates",
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Int("unparsable_rates", badNumbers),
	)
	return records, nil
}

// LoadParameters reads process-parameter records.
func (l *Loader) LoadParameters(path, sheet string) ([]models.ParameterRecord, error) {
	rows, err := l.readRows(path, sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	h := newHeader(rows[0])
	lotCol, timeCol := h.index(colLotID), h.index(colDateTime)
	typeCol, valueCol := h.index(colType), h.index(colValue)

	loadedAt := l.now()
	records := make([]models.ParameterRecord, 0, len(rows)-1)
	badNumbers, badTimes := 0, 0
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		value, ok := parseNumber(cell(row, valueCol))
		if !ok {
			badNumbers++
		}
		ts, err := utils.ParseTimestamp(cell(row, timeCol))
		if err != nil {
			ts = loadedAt
			badTimes++
		}
		records = append(records, models.ParameterRecord{
			LotID:     cell(row, lotCol),
			Timestamp: ts,
			Type:      cell(row, typeCol),
			Value:     value,
		})
	}

	l.logger.Debug("loaded parameters",
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Int("unparsable_values", badNumbers),
		slog.Int("unparsable_timestamps", badTimes),
	)
	return records, nil
}

func (l *Loader) readRows(path, sheet string) ([][]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path, sheet)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, row)
	}
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}
	return rows, nil
}

// parseNumber accepts invariant-culture decimals, including "NaN". Infinities,
// out-of-range values and anything else report false and return 0.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
