// Command sample-data writes a synthetic defect-rate and parameter dataset for local runs.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

var parameterTypes = []struct {
	name   string
	base   float64
	spread float64
	// weight is how strongly the parameter drives the lot's defect rate.
	weight float64
}{
	{"temperature", 210, 8, 0.004},
	{"pressure", 1.8, 0.3, 0.05},
	{"humidity", 45, 10, 0},
	{"line_speed", 120, 15, -0.0008},
}

type reading struct {
	at        time.Time
	paramType string
	value     float64
}

type lot struct {
	model    string
	id       string
	rate     float64
	readings []reading
}

func main() {
	var (
		outDir   string
		models   int
		lots     int
		readings int
		seed     int64
		xlsx     bool
	)
	flag.StringVar(&outDir, "out", "data", "output directory")
	flag.IntVar(&models, "models", 3, "number of product models")
	flag.IntVar(&lots, "lots", 40, "lots per model")
	flag.IntVar(&readings, "readings", 3, "readings per parameter and lot")
	flag.Int64Var(&seed, "seed", 42, "random seed")
	flag.BoolVar(&xlsx, "xlsx", false, "write a single workbook instead of CSV files")
	flag.Parse()

	logger := log.New(os.Stdout, "sample-data ", log.LstdFlags|log.Lmicroseconds)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Fatalf("create %s: %v", outDir, err)
	}

	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	data := generate(rng, start, models, lots, readings)

	defectRows := [][]string{{"ModelID", "LotID", "DefectRate"}}
	paramRows := [][]string{{"LotID", "DateTime", "Type", "Value"}}
	for _, l := range data {
		defectRows = append(defectRows, []string{l.model, l.id, strconv.FormatFloat(l.rate, 'f', 5, 64)})
		for _, r := range l.readings {
			paramRows = append(paramRows, []string{
				l.id,
				r.at.Format("2006-01-02 15:04:05"),
				r.paramType,
				strconv.FormatFloat(r.value, 'f', 4, 64),
			})
		}
	}

	if xlsx {
		path := filepath.Join(outDir, "defects.xlsx")
		if err := writeWorkbook(path, defectRows, paramRows); err != nil {
			logger.Fatalf("write %s: %v", path, err)
		}
		logger.Printf("wrote %s (%d lots, %d readings)", path, len(defectRows)-1, len(paramRows)-1)
		return
	}

	for name, rows := range map[string][][]string{"defect_rate.csv": defectRows, "params.csv": paramRows} {
		path := filepath.Join(outDir, name)
		if err := writeCSV(path, rows); err != nil {
			logger.Fatalf("write %s: %v", path, err)
		}
		logger.Printf("wrote %s (%d rows)", path, len(rows)-1)
	}
}

func generate(rng *rand.Rand, start time.Time, models, lotsPerModel, readings int) []lot {
	var out []lot
	for m := 1; m <= models; m++ {
		model := fmt.Sprintf("M%d", m)
		for n := 1; n <= lotsPerModel; n++ {
			l := lot{model: model, id: fmt.Sprintf("%s-L%03d", model, n)}
			produced := start.Add(time.Duration((m-1)*lotsPerModel+n) * 6 * time.Hour)

			rate := 0.02
			for _, p := range parameterTypes {
				sum := 0.0
				for r := 0; r < readings; r++ {
					v := p.base + rng.NormFloat64()*p.spread
					sum += v
					l.readings = append(l.readings, reading{
						at:        produced.Add(time.Duration(r) * 10 * time.Minute),
						paramType: p.name,
						value:     v,
					})
				}
				rate += p.weight * (sum/float64(readings) - p.base)
			}
			rate += rng.NormFloat64() * 0.005
			l.rate = math.Max(0, rate)
			out = append(out, l)
		}
	}
	return out
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeWorkbook(path string, defectRows, paramRows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []struct {
		name string
		rows [][]string
	}{{"DefectRates", defectRows}, {"Parameters", paramRows}}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for c, v := range row {
				values[c] = v
			}
			if err := f.SetSheetRow(s.name, cell, &values); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}
