package catalog

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"journalsync/internal"
)

const fileProgressEvery = 10

// FileImporter loads a JSON export (an array of rows or a single row) and
// feeds it through the same mapping and upsert path as the API sync.
type FileImporter struct {
	im *Importer
}

func NewFileImporter(im *Importer) *FileImporter {
	return &FileImporter{im: im}
}

func (f *FileImporter) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return ImportResult{}, err
	}
	rows, err := decodeRows(blob)
	if err != nil {
		return ImportResult{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.ImportRows(ctx, rows)
}

func (f *FileImporter) ImportRows(ctx context.Context, rows []map[string]any) (ImportResult, error) {
	im := f.im
	total := len(rows)
	im.log.WithField("rows", total).Info("importing file rows")

	for i, row := range rows {
		if err := im.processRow(ctx, row); err != nil {
			return im.result(total, im.checkpoint(1, i, total)), err
		}
		im.processed++

		if im.processed%fileProgressEvery == 0 || im.processed == total {
			im.report(total, fmt.Sprintf("imported %d/%d", im.processed, total))
		}
		if im.processed%im.opts.PauseCheckInterval == 0 {
			if err := internal.CheckStop(im.opts.Stop); err != nil {
				return im.result(total, im.checkpoint(1, i+1, total)), err
			}
		}
	}

	return im.result(total, im.checkpoint(1, total, total)), nil
}

func decodeRows(blob []byte) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, err
	}
	switch v := raw.(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is not an object", i)
			}
			rows = append(rows, m)
		}
		return rows, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("expected an array or object, got %T", raw)
	}
}
