package pipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"journalsync/internal"
	"journalsync/internal/storage"
)

const summarySheet = "summary"

// ExportAnalysisXLSX writes a summary sheet and one sheet per match category.
func ExportAnalysisXLSX(a *storage.Analysis, result internal.MatchResult, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return err
	}
	summary := [][]any{
		{"analysis_id", a.ID},
		{"trace_id", a.TraceID},
		{"category", a.Category},
		{"status", string(a.Status)},
		{"local_total", a.LocalTotal},
		{"external_total", a.ExternalTotal},
		{"apply_status", string(a.ApplyStatus)},
	}
	for _, c := range internal.AllCategories {
		summary = append(summary, []any{string(c), len(result[c])})
	}
	for i, row := range summary {
		writeRow(f, summarySheet, i+1, row)
	}

	headers := []any{"normalized_title", "local_ids", "local_titles", "external_ids", "external_names", "issn_l"}
	for _, c := range internal.AllCategories {
		sheet := string(c)
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		writeRow(f, sheet, 1, headers)
		for i, entry := range result[c] {
			writeRow(f, sheet, i+2, entryRow(entry))
		}
	}

	return save(f, outputPath)
}

func entryRow(e internal.MatchEntry) []any {
	var localIDs, localTitles, externalIDs, names, issns []string
	for _, l := range e.Local {
		localIDs = append(localIDs, strconv.FormatInt(l.ID, 10))
		localTitles = append(localTitles, l.Title)
	}
	for _, x := range e.External {
		externalIDs = append(externalIDs, x.ExternalID)
		names = append(names, x.CanonicalName)
		if x.ISSNL != "" {
			issns = append(issns, x.ISSNL)
		}
	}
	return []any{
		e.NormalizedTitle,
		strings.Join(localIDs, ", "),
		strings.Join(localTitles, " | "),
		strings.Join(externalIDs, ", "),
		strings.Join(names, " | "),
		strings.Join(issns, ", "),
	}
}

func ExportImportErrorsXLSX(l *storage.ImportLog, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	writeRow(f, sheet, 1, []any{"issn", "title", "reason", "timestamp"})
	for i, e := range l.Errors {
		writeRow(f, sheet, i+2, []any{e.Identifier, e.Title, e.Reason, e.At.UTC().Format("2006-01-02 15:04:05")})
	}
	return save(f, outputPath)
}

func writeRow(f *excelize.File, sheet string, r int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, r)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func save(f *excelize.File, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
