package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"raffle/internal/models"
)

// Ingestion errors. All of them leave the caller's state untouched.
var (
	ErrUnsupportedFile = errors.New("unsupported file type: use .xlsx, .xls or .csv")
	ErrEmptyFile       = errors.New("the file is empty")
	ErrMissingColumns  = errors.New(`the file must contain the columns "Nombre" and "DNI" (any order, any case)`)
	ErrNoValidRows     = errors.New("no valid rows found in the file")
	ErrReadFailure     = errors.New("could not read the file")
)

const (
	nameColumn       = "nombre"
	identifierColumn = "dni"
)

// NormalizeHeader folds a column label for matching: lower case, no
// diacritics, only ASCII letters and digits.
func NormalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseParticipants reads the first sheet of an .xlsx or .xls file, or a .csv file.
// The format is chosen by the file name's extension.
func ParseParticipants(filename string, r io.Reader) ([]models.Participant, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		if len(data) == 0 {
			return nil, ErrEmptyFile
		}
		rows, err = readWorkbookRows(data)
	case ".xls":
		if len(data) == 0 {
			return nil, ErrEmptyFile
		}
		rows, err = readLegacyWorkbookRows(data)
	case ".csv":
		if len(data) == 0 {
			return nil, ErrEmptyFile
		}
		rows, err = readCSVRows(data)
	default:
		return nil, ErrUnsupportedFile
	}
	if err != nil {
		return nil, err
	}

	return participantsFromRows(rows)
}

func readWorkbookRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return rows, nil
}

// biffMaxColumns is the column limit of the BIFF8 format.
const biffMaxColumns = 256

// readLegacyWorkbookRows reads the first sheet of a BIFF (.xls) workbook.
// The BIFF reader panics on some malformed files; those become ErrReadFailure.
func readLegacyWorkbookRows(data []byte) (rows [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("%w: malformed workbook: %v", ErrReadFailure, r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if wb == nil {
		return nil, fmt.Errorf("%w: no workbook stream", ErrReadFailure)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrEmptyFile
	}

	rows = make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		rows = append(rows, legacyRowCells(sheet, i))
	}
	for len(rows) > 0 && len(rows[len(rows)-1]) == 0 {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

// legacyRowCells returns the cells of row i without trailing blanks.
// WorkSheet.Row panics for rows that hold no cells; those come back empty.
func legacyRowCells(sheet *xls.WorkSheet, i int) (cells []string) {
	defer func() {
		if recover() != nil {
			cells = nil
		}
	}()

	row := sheet.Row(i)
	cells = make([]string, 0, row.LastCol())
	for col := 0; col < biffMaxColumns; col++ {
		cells = append(cells, row.Col(col))
	}
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func readCSVRows(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.Comma = detectDelimiter(data)

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return rows, nil
}

// detectDelimiter picks ';' when the header line uses it and has no ','.
// Spreadsheet programs in Spanish locales export CSV with semicolons.
func detectDelimiter(data []byte) rune {
	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	if bytes.Count(header, []byte(";")) > 0 && bytes.Count(header, []byte(",")) == 0 {
		return ';'
	}
	return ','
}

func participantsFromRows(rows [][]string) ([]models.Participant, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	nameIdx, idIdx := -1, -1
	for i, h := range rows[0] {
		switch NormalizeHeader(h) {
		case nameColumn:
			if nameIdx < 0 {
				nameIdx = i
			}
		case identifierColumn:
			if idIdx < 0 {
				idIdx = i
			}
		}
	}
	if nameIdx < 0 || idIdx < 0 {
		return nil, ErrMissingColumns
	}

	participants := make([]models.Participant, 0, len(rows)-1)
	for i, row := range rows[1:] {
		name := strings.TrimSpace(cell(row, nameIdx))
		identifier := strings.TrimSpace(cell(row, idIdx))
		if name == "" || identifier == "" {
			continue
		}
		if NormalizeHeader(name) == nameColumn || NormalizeHeader(identifier) == identifierColumn {
			continue
		}
		participants = append(participants, models.Participant{
			ID:         fmt.Sprintf("participant-%d", i+1),
			Name:       name,
			Identifier: identifier,
		})
	}

	if len(participants) == 0 {
		return nil, ErrNoValidRows
	}
	return participants, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
