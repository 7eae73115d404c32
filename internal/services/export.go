package services

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"raffle/internal/models"
)

const winnersSheet = "Ganadores"

var exportHeader = []string{"Nombre", "DNI", "Posición", "Premio"}

// PrizeLabel names the prize a winner takes home.
func PrizeLabel(w models.Winner) string {
	if w.IsTopWinner {
		return fmt.Sprintf("Principal #%d", w.Position)
	}
	return fmt.Sprintf("Premio #%d", w.Position)
}

// ExportFilename is the download name for a draw's winners.
func ExportFilename(drawID, ext string) string {
	return fmt.Sprintf("ganadores_sorteo_%s.%s", drawID, ext)
}

// WriteWinnersWorkbook writes the winners as an .xlsx workbook with a single sheet.
func WriteWinnersWorkbook(w io.Writer, winners []models.Winner) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), winnersSheet); err != nil {
		return err
	}

	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(winnersSheet, "A1", &header); err != nil {
		return err
	}

	for i, winner := range winners {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{winner.Name, winner.Identifier, winner.Position, PrizeLabel(winner)}
		if err := f.SetSheetRow(winnersSheet, cellName, &row); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// WriteWinnersCSV writes the winners as CSV, prefixed with a UTF-8 BOM so
// Excel picks the right encoding.
func WriteWinnersCSV(w io.Writer, winners []models.Winner) error {
	if _, err := w.Write([]byte("\xef\xbb\xbf")); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, winner := range winners {
		row := []string{winner.Name, winner.Identifier, fmt.Sprint(winner.Position), PrizeLabel(winner)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
