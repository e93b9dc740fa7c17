package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"journalsync/internal"
)

var (
	ErrAnalysisActive  = errors.New("an analysis is already processing")
	ErrAnalysisMissing = errors.New("analysis not found")
	ErrImportMissing   = errors.New("import log not found")
)

const timeLayout = "2006-01-02 15:04:05"

type Analysis struct {
	ID              int64
	TraceID         string
	Category        string
	Status          internal.AnalysisStatus
	Counts          map[internal.MatchCategory]int
	LocalTotal      int
	ExternalTotal   int
	ProgressMessage string
	ErrorMessage    string

	ApplyStatus     internal.ApplyStatus
	ApplyStats      internal.RunStats
	ApplyCheckpoint *internal.SyncCheckpoint
	ApplyError      string
	ApplyStartedAt  *time.Time
	ApplyFinishedAt *time.Time

	CompletedAt *time.Time
	CreatedAt   time.Time
}

func (a Analysis) CanApply() bool {
	return a.Status == internal.AnalysisCompleted &&
		a.ApplyStatus != internal.ApplyProcessing && a.ApplyStatus != internal.ApplyCancelling
}

func (a Analysis) CanResumeApply() bool {
	return a.Status == internal.AnalysisCompleted &&
		(a.ApplyStatus == internal.ApplyPaused || a.ApplyStatus == internal.ApplyFailed)
}

type DetailsPage struct {
	Category   internal.MatchCategory `json:"category"`
	Items      []internal.MatchEntry  `json:"items"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	PerPage    int                    `json:"per_page"`
	TotalPages int                    `json:"total_pages"`
}

const analysisColumns = `id, traceId, category, status, countsJson, localTotal, externalTotal, progressMessage, errorMessage,
  applyStatus, applyStatsJson, applyCheckpointJson, applyErrorMessage, applyStartedAt, applyFinishedAt, completedAt, createdAt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*Analysis, error) {
	var a Analysis
	var status, applyStatus, countsJSON, statsJSON string
	var checkpointJSON, applyStarted, applyFinished, completed sql.NullString
	var created string
	err := row.Scan(
		&a.ID, &a.TraceID, &a.Category, &status, &countsJSON, &a.LocalTotal, &a.ExternalTotal, &a.ProgressMessage, &a.ErrorMessage,
		&applyStatus, &statsJSON, &checkpointJSON, &a.ApplyError, &applyStarted, &applyFinished, &completed, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a.Status = internal.AnalysisStatus(status)
	a.ApplyStatus = internal.ApplyStatus(applyStatus)
	a.Counts = map[internal.MatchCategory]int{}
	_ = json.Unmarshal([]byte(countsJSON), &a.Counts)
	_ = json.Unmarshal([]byte(statsJSON), &a.ApplyStats)
	if checkpointJSON.Valid && checkpointJSON.String != "" {
		var cp internal.SyncCheckpoint
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err == nil {
			a.ApplyCheckpoint = &cp
		}
	}
	a.ApplyStartedAt = parseTime(applyStarted)
	a.ApplyFinishedAt = parseTime(applyFinished)
	a.CompletedAt = parseTime(completed)
	if t := parseTime(sql.NullString{String: created, Valid: true}); t != nil {
		a.CreatedAt = *t
	}
	return &a, nil
}

// CreateAnalysis starts a new pending analysis. Finished analyses of the
// category are cleared first; a processing one blocks creation.
func (d *DB) CreateAnalysis(ctx context.Context, category, traceID string) (*Analysis, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM analyses
WHERE category = ? AND (status = ? OR applyStatus = ?)`, category, internal.AnalysisProcessing, internal.ApplyProcessing).Scan(&active); err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrAnalysisActive
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_entries WHERE analysisId IN (SELECT id FROM analyses WHERE category = ?)`, category); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE category = ?`, category); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO analyses (traceId, category, status) VALUES (?, ?, ?)`, traceID, category, internal.AnalysisPending)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetAnalysis(ctx, id)
}

func (d *DB) GetAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	return scanAnalysis(d.conn.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id))
}

func (d *DB) MustAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	a, err := d.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrAnalysisMissing, id)
	}
	return a, nil
}

func (d *DB) LatestAnalysis(ctx context.Context, category string) (*Analysis, error) {
	return scanAnalysis(d.conn.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE category = ? ORDER BY id DESC LIMIT 1`, category))
}

func (d *DB) SetAnalysisStatus(ctx context.Context, id int64, status internal.AnalysisStatus, message string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE analyses SET status = ?, progressMessage = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, message, id)
	return err
}

func (d *DB) SetAnalysisProgress(ctx context.Context, id int64, message string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE analyses SET progressMessage = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, message, id)
	return err
}

func (d *DB) FailAnalysis(ctx context.Context, id int64, errMsg string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE analyses SET status = ?, errorMessage = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, internal.AnalysisFailed, errMsg, id)
	return err
}

// RequestAnalysisPause marks a processing analysis paused; the running
// matcher sees it at its next stop check.
func (d *DB) RequestAnalysisPause(ctx context.Context, id int64) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `UPDATE analyses SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`, internal.AnalysisPaused, id, internal.AnalysisProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteAnalysis stores every category entry in order and the counts.
func (d *DB) CompleteAnalysis(ctx context.Context, id int64, result internal.MatchResult, localTotal, externalTotal int) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_entries WHERE analysisId = ?`, id); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO analysis_entries (analysisId, category, position, entryJson) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, category := range internal.AllCategories {
		for pos, entry := range result[category] {
			blob, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, id, string(category), pos, string(blob)); err != nil {
				return err
			}
		}
	}

	countsJSON, _ := json.Marshal(result.Counts())
	if _, err := tx.ExecContext(ctx, `
UPDATE analyses SET status = ?, countsJson = ?, localTotal = ?, externalTotal = ?, errorMessage = '',
  completedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP
WHERE id = ?`, internal.AnalysisCompleted, string(countsJSON), localTotal, externalTotal, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) AnalysisDetails(ctx context.Context, id int64, category internal.MatchCategory, page, perPage int) (DetailsPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	out := DetailsPage{Category: category, Page: page, PerPage: perPage, Items: []internal.MatchEntry{}}

	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_entries WHERE analysisId = ? AND category = ?`, id, string(category)).Scan(&out.Total); err != nil {
		return out, err
	}
	out.TotalPages = (out.Total + perPage - 1) / perPage

	rows, err := d.conn.QueryContext(ctx, `
SELECT entryJson FROM analysis_entries
WHERE analysisId = ? AND category = ?
ORDER BY position ASC
LIMIT ? OFFSET ?`, id, string(category), perPage, (page-1)*perPage)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return out, err
		}
		var entry internal.MatchEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return out, err
		}
		out.Items = append(out.Items, entry)
	}
	return out, rows.Err()
}

// AnalysisResult reloads every category of a completed analysis in order.
func (d *DB) AnalysisResult(ctx context.Context, id int64) (internal.MatchResult, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT category, entryJson FROM analysis_entries
WHERE analysisId = ?
ORDER BY category ASC, position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := internal.MatchResult{}
	for rows.Next() {
		var category, blob string
		if err := rows.Scan(&category, &blob); err != nil {
			return nil, err
		}
		var entry internal.MatchEntry
		if err := json.Unmarshal([]byte(blob), &entry); err != nil {
			return nil, err
		}
		c := internal.MatchCategory(category)
		out[c] = append(out[c], entry)
	}
	return out, rows.Err()
}

// BeginApply moves an analysis into apply processing. A fresh apply resets
// stats and checkpoint; a resumed one keeps them.
func (d *DB) BeginApply(ctx context.Context, id int64, resume bool) error {
	query := `UPDATE analyses SET applyStatus = ?, applyErrorMessage = '', applyStartedAt = CURRENT_TIMESTAMP, applyFinishedAt = NULL, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	if !resume {
		query = `UPDATE analyses SET applyStatus = ?, applyErrorMessage = '', applyStatsJson = '{}', applyCheckpointJson = NULL, applyPlanJson = NULL,
  applyStartedAt = CURRENT_TIMESTAMP, applyFinishedAt = NULL, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	}
	_, err := d.conn.ExecContext(ctx, query, internal.ApplyProcessing, id)
	return err
}

func (d *DB) SaveApplyPlan(ctx context.Context, id int64, plan internal.ActionPlan) error {
	blob, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `UPDATE analyses SET applyPlanJson = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(blob), id)
	return err
}

// LoadApplyPlan returns the cached plan, or nil when none was stored.
func (d *DB) LoadApplyPlan(ctx context.Context, id int64) (*internal.ActionPlan, error) {
	var blob sql.NullString
	err := d.conn.QueryRowContext(ctx, `SELECT applyPlanJson FROM analyses WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (!blob.Valid || blob.String == "")) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var plan internal.ActionPlan
	if err := json.Unmarshal([]byte(blob.String), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (d *DB) SaveApplyProgress(ctx context.Context, id int64, cp internal.SyncCheckpoint, stats internal.RunStats) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `UPDATE analyses SET applyCheckpointJson = ?, applyStatsJson = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(cpJSON), string(statsJSON), id)
	return err
}

// FinishApply records the final apply state. Completion drops the
// checkpoint and cached plan; pause and failure keep them for resume.
func (d *DB) FinishApply(ctx context.Context, id int64, status internal.ApplyStatus, stats internal.RunStats, errMsg string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	query := `UPDATE analyses SET applyStatus = ?, applyStatsJson = ?, applyErrorMessage = ?, applyFinishedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	if status == internal.ApplyCompleted {
		query = `UPDATE analyses SET applyStatus = ?, applyStatsJson = ?, applyErrorMessage = ?, applyCheckpointJson = NULL, applyPlanJson = NULL,
  applyFinishedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	}
	_, err = d.conn.ExecContext(ctx, query, status, string(statsJSON), errMsg, id)
	return err
}

func (d *DB) DiscardApplyCheckpoint(ctx context.Context, id int64) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE analyses SET applyCheckpointJson = NULL, applyPlanJson = NULL, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (d *DB) RequestApplyPause(ctx context.Context, id int64) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `UPDATE analyses SET applyStatus = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ? AND applyStatus = ?`, internal.ApplyPaused, id, internal.ApplyProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelApply abandons an apply. A processing apply is flagged so the
// running process stops at its next check; a paused or failed one is reset
// to not_applied here, dropping its checkpoint, cached plan and stats. It
// reports false when there was nothing to cancel.
func (d *DB) CancelApply(ctx context.Context, id int64) (bool, error) {
	res, err := d.conn.ExecContext(ctx, `UPDATE analyses SET applyStatus = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ? AND applyStatus = ?`,
		internal.ApplyCancelling, id, internal.ApplyProcessing)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return n > 0, err
	}

	res, err = d.conn.ExecContext(ctx, `UPDATE analyses SET applyStatus = ?, applyErrorMessage = '', applyStatsJson = '{}', applyCheckpointJson = NULL, applyPlanJson = NULL,
  applyFinishedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ? AND applyStatus IN (?, ?)`,
		internal.ApplyNotApplied, id, internal.ApplyPaused, internal.ApplyFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AnalysisStop reports ErrPaused once the analysis has been marked paused
// from outside the running process.
func (d *DB) AnalysisStop(ctx context.Context, id int64) internal.StopToken {
	return internal.StopFunc(func() error {
		var status string
		if err := d.conn.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = ?`, id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return internal.ErrCancelled
			}
			return nil
		}
		if internal.AnalysisStatus(status) == internal.AnalysisPaused {
			return internal.ErrPaused
		}
		return nil
	})
}

func (d *DB) ApplyStop(ctx context.Context, id int64) internal.StopToken {
	return internal.StopFunc(func() error {
		var status string
		if err := d.conn.QueryRowContext(ctx, `SELECT applyStatus FROM analyses WHERE id = ?`, id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return internal.ErrCancelled
			}
			return nil
		}
		switch internal.ApplyStatus(status) {
		case internal.ApplyPaused:
			return internal.ErrPaused
		case internal.ApplyCancelling:
			return internal.ErrCancelled
		}
		return nil
	})
}

type ImportLog struct {
	ID            int64
	RunID         string
	Mode          internal.ImportMode
	Status        internal.ImportStatus
	Filters       internal.Filters
	PageSize      int
	CurrentPage   int
	PageOffset    int
	TotalRecords  int
	Processed     int
	Stats         internal.RunStats
	Errors        []internal.ImportError
	ResultMessage string
	ErrorMessage  string
	PausedAt      *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
}

func (l ImportLog) CanResume() bool {
	return l.Mode == internal.ImportModeAllPages &&
		(l.Status == internal.ImportPaused || l.Status == internal.ImportFailed) &&
		l.CurrentPage > 0
}

// ImportProgress is the checkpoint written while an import runs.
type ImportProgress struct {
	CurrentPage  int
	PageOffset   int
	TotalRecords int
	Processed    int
	Stats        internal.RunStats
	Errors       []internal.ImportError
}

const importColumns = `id, runId, mode, status, filtersJson, pageSize, currentPage, pageOffset, totalRecords, processed,
  statsJson, errorsJson, resultMessage, errorMessage, pausedAt, startedAt, finishedAt, createdAt`

func scanImportLog(row rowScanner) (*ImportLog, error) {
	var l ImportLog
	var mode, status, filtersJSON, statsJSON, errorsJSON, created string
	var paused, started, finished sql.NullString
	err := row.Scan(
		&l.ID, &l.RunID, &mode, &status, &filtersJSON, &l.PageSize, &l.CurrentPage, &l.PageOffset, &l.TotalRecords, &l.Processed,
		&statsJSON, &errorsJSON, &l.ResultMessage, &l.ErrorMessage, &paused, &started, &finished, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.Mode = internal.ImportMode(mode)
	l.Status = internal.ImportStatus(status)
	_ = json.Unmarshal([]byte(filtersJSON), &l.Filters)
	_ = json.Unmarshal([]byte(statsJSON), &l.Stats)
	_ = json.Unmarshal([]byte(errorsJSON), &l.Errors)
	l.PausedAt = parseTime(paused)
	l.StartedAt = parseTime(started)
	l.FinishedAt = parseTime(finished)
	if t := parseTime(sql.NullString{String: created, Valid: true}); t != nil {
		l.CreatedAt = *t
	}
	return &l, nil
}

func (d *DB) CreateImportLog(ctx context.Context, runID string, mode internal.ImportMode, filters internal.Filters, pageSize int) (*ImportLog, error) {
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, err
	}
	res, err := d.conn.ExecContext(ctx, `
INSERT INTO import_logs (runId, mode, status, filtersJson, pageSize, startedAt)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`, runID, mode, internal.ImportProcessing, string(filtersJSON), pageSize)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetImportLog(ctx, id)
}

func (d *DB) GetImportLog(ctx context.Context, id int64) (*ImportLog, error) {
	l, err := scanImportLog(d.conn.QueryRowContext(ctx, `SELECT `+importColumns+` FROM import_logs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrImportMissing, id)
	}
	return l, nil
}

func (d *DB) ListImportLogs(ctx context.Context, limit int) ([]ImportLog, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+importColumns+` FROM import_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImportLog
	for rows.Next() {
		l, err := scanImportLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (d *DB) SaveImportProgress(ctx context.Context, id int64, p ImportProgress) error {
	statsJSON, err := json.Marshal(p.Stats)
	if err != nil {
		return err
	}
	errorsJSON, err := json.Marshal(nonNilErrors(p.Errors))
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
UPDATE import_logs SET currentPage = ?, pageOffset = ?, totalRecords = ?, processed = ?, statsJson = ?, errorsJson = ?,
  updatedAt = CURRENT_TIMESTAMP
WHERE id = ?`, p.CurrentPage, p.PageOffset, p.TotalRecords, p.Processed, string(statsJSON), string(errorsJSON), id)
	return err
}

// ResumeImport flips a paused or failed log back to processing.
func (d *DB) ResumeImport(ctx context.Context, id int64) error {
	_, err := d.conn.ExecContext(ctx, `
UPDATE import_logs SET status = ?, errorMessage = '', pausedAt = NULL, finishedAt = NULL, updatedAt = CURRENT_TIMESTAMP
WHERE id = ?`, internal.ImportProcessing, id)
	return err
}

// FinishImport records the final status. Cancellation discards the
// checkpoint.
func (d *DB) FinishImport(ctx context.Context, id int64, status internal.ImportStatus, resultMessage, errMsg string) error {
	var query string
	switch status {
	case internal.ImportPaused:
		query = `UPDATE import_logs SET status = ?, resultMessage = ?, errorMessage = ?, pausedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	case internal.ImportCancelled:
		query = `UPDATE import_logs SET status = ?, resultMessage = ?, errorMessage = ?, currentPage = 0, pageOffset = 0,
  finishedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	default:
		query = `UPDATE import_logs SET status = ?, resultMessage = ?, errorMessage = ?, finishedAt = CURRENT_TIMESTAMP, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`
	}
	_, err := d.conn.ExecContext(ctx, query, status, resultMessage, errMsg, id)
	return err
}

// RequestImportStop asks a processing import to pause or cancel. A log that
// is not running is cancelled directly.
func (d *DB) RequestImportStop(ctx context.Context, id int64, status internal.ImportStatus) error {
	if status != internal.ImportPaused && status != internal.ImportCancelled {
		return fmt.Errorf("unsupported stop status %q", status)
	}
	l, err := d.GetImportLog(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case l.Status == internal.ImportProcessing:
		_, err = d.conn.ExecContext(ctx, `UPDATE import_logs SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	case status == internal.ImportCancelled && l.Status != internal.ImportCompleted:
		err = d.FinishImport(ctx, id, internal.ImportCancelled, l.ResultMessage, "")
	}
	return err
}

func (d *DB) ImportStop(ctx context.Context, id int64) internal.StopToken {
	return internal.StopFunc(func() error {
		var status string
		if err := d.conn.QueryRowContext(ctx, `SELECT status FROM import_logs WHERE id = ?`, id).Scan(&status); err != nil {
			return nil
		}
		switch internal.ImportStatus(status) {
		case internal.ImportPaused:
			return internal.ErrPaused
		case internal.ImportCancelled:
			return internal.ErrCancelled
		}
		return nil
	})
}

func nonNilErrors(errs []internal.ImportError) []internal.ImportError {
	if errs == nil {
		return []internal.ImportError{}
	}
	return errs
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return &t
		}
	}
	return nil
}
