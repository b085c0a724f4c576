package catalog

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// XLSXOptions configures the tariff schedule loader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // header rows to skip, default 1
}

// LoadXLSX reads a tariff schedule workbook into the catalog. Expected
// columns: CUPS code, description, category, base value. Rows with an
// empty code or an unparseable value are skipped with a warning.
func LoadXLSX(c *MemoryCatalog, path string, opts XLSXOptions) (int, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: open tariff workbook")
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return 0, err
	}

	skip := opts.SkipRows
	if skip == 0 {
		skip = 1
	}

	loaded := 0
	for i, row := range sheet.Rows {
		if i < skip {
			continue
		}
		if len(row.Cells) < 4 {
			continue
		}

		cups := strings.TrimSpace(row.Cells[0].String())
		if cups == "" {
			continue
		}

		valor, parseErr := parseValor(row.Cells[3].String())
		if parseErr != nil {
			zap.L().Warn("catalog: skipping row with unparseable value",
				zap.Int("row", i),
				zap.String("cups", cups),
				zap.Error(parseErr),
			)
			continue
		}

		c.Add(Tarifa{
			CUPS:        cups,
			Descripcion: strings.TrimSpace(row.Cells[1].String()),
			Categoria:   row.Cells[2].String(),
			Valor:       valor,
		})
		loaded++
	}

	zap.L().Info("catalog: tariff schedule loaded",
		zap.String("path", path),
		zap.Int("rows", loaded),
	)
	return loaded, nil
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("catalog: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("catalog: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

// parseValor accepts Colombian-formatted amounts: thousand dots and an
// optional comma decimal separator ("45.000" or "45000,50").
func parseValor(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	} else if strings.Count(s, ".") == 1 {
		// A single dot with exactly three trailing digits is a thousand
		// separator, otherwise a decimal point.
		if idx := strings.Index(s, "."); len(s)-idx-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "catalog: parse value %q", s)
	}
	return v, nil
}

// ISS2004Sample returns a small built-in slice of the ISS-2004 schedule
// used by the seed command and tests.
func ISS2004Sample() []Tarifa {
	return []Tarifa{
		{CUPS: "890201", Descripcion: "Consulta de primera vez por medicina general", Categoria: "CONSULTA", Valor: 45000},
		{CUPS: "890301", Descripcion: "Consulta de control por medicina general", Categoria: "CONSULTA", Valor: 35000},
		{CUPS: "890701", Descripcion: "Consulta de urgencias", Categoria: "URGENCIAS", Valor: 52000},
		{CUPS: "902210", Descripcion: "Hemograma IV", Categoria: "LABORATORIO", Valor: 28000},
		{CUPS: "903841", Descripcion: "Glucosa en suero", Categoria: "LABORATORIO", Valor: 15000},
		{CUPS: "871121", Descripcion: "Radiografia de torax", Categoria: "IMAGENOLOGIA", Valor: 65000},
		{CUPS: "881302", Descripcion: "Ecografia abdominal total", Categoria: "IMAGENOLOGIA", Valor: 98000},
		{CUPS: "731000", Descripcion: "Apendicectomia", Categoria: "CIRUGIA", Valor: 850000},
		{CUPS: "741500", Descripcion: "Colecistectomia por laparoscopia", Categoria: "CIRUGIA", Valor: 1450000},
		{CUPS: "389102", Descripcion: "Sutura de herida simple", Categoria: "PROCEDIMIENTO", Valor: 48000},
	}
}
