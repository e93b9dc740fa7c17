package internal

import (
	"context"
	"time"
)

type LocalRecord struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type ExternalRecord struct {
	ExternalID    string
	CanonicalName string
	ISSNL         string
	Payload       map[string]any
}

func (r ExternalRecord) Ref() ExternalRecordRef {
	return ExternalRecordRef{ExternalID: r.ExternalID, CanonicalName: r.CanonicalName, ISSNL: r.ISSNL}
}

type ExternalRecordRef struct {
	ExternalID    string `json:"id"`
	CanonicalName string `json:"name"`
	ISSNL         string `json:"issn_l,omitempty"`
}

type MatchCategory string

const (
	CategoryExact1to1       MatchCategory = "exact_1to1"
	CategoryLocal1ExternalN MatchCategory = "local_1_to_external_n"
	CategoryLocalNExternal1 MatchCategory = "local_n_to_external_1"
	CategoryLocalNExternalM MatchCategory = "local_n_to_external_m"
	CategoryLocalOnly       MatchCategory = "local_only"
	CategoryExternalOnly    MatchCategory = "external_only"
)

var AllCategories = []MatchCategory{
	CategoryExact1to1,
	CategoryLocal1ExternalN,
	CategoryLocalNExternal1,
	CategoryLocalNExternalM,
	CategoryLocalOnly,
	CategoryExternalOnly,
}

func ParseCategory(s string) (MatchCategory, bool) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

type MatchEntry struct {
	NormalizedTitle string              `json:"normalized_title"`
	Local           []LocalRecord       `json:"local,omitempty"`
	External        []ExternalRecordRef `json:"external,omitempty"`
}

type MatchResult map[MatchCategory][]MatchEntry

func (m MatchResult) Counts() map[MatchCategory]int {
	out := make(map[MatchCategory]int, len(AllCategories))
	for _, c := range AllCategories {
		out[c] = len(m[c])
	}
	return out
}

type UpdateAction struct {
	ExternalID string `json:"external_id"`
	LocalID    int64  `json:"local_id"`
}

type ActionPlan struct {
	Updates []UpdateAction `json:"updates"`
	Creates []string       `json:"creates"`
	Deletes []int64        `json:"deletes"`
}

func (p ActionPlan) UpdateMap() map[string]int64 {
	out := make(map[string]int64, len(p.Updates))
	for _, u := range p.Updates {
		out[u.ExternalID] = u.LocalID
	}
	return out
}

// SyncIDs is the ordered work list of the api_sync phase.
func (p ActionPlan) SyncIDs() []string {
	out := make([]string, 0, len(p.Updates)+len(p.Creates))
	for _, u := range p.Updates {
		out = append(out, u.ExternalID)
	}
	return append(out, p.Creates...)
}

type SyncPhase string

const (
	PhaseDeletes SyncPhase = "deletes"
	PhaseAPISync SyncPhase = "api_sync"
)

type SyncCheckpoint struct {
	Phase  SyncPhase `json:"phase"`
	Offset int       `json:"offset"`
}

type RunStats struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Deleted int64 `json:"deleted"`
	Skipped int64 `json:"skipped"`
	Errors  int64 `json:"errors"`
}

type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisPaused     AnalysisStatus = "paused"
)

type ApplyStatus string

const (
	ApplyNotApplied ApplyStatus = "not_applied"
	ApplyProcessing ApplyStatus = "processing"
	ApplyCompleted  ApplyStatus = "completed"
	ApplyFailed     ApplyStatus = "failed"
	ApplyPaused     ApplyStatus = "paused"
	// ApplyCancelling marks a running apply that was asked to cancel; the
	// running process resets it to not_applied when it stops.
	ApplyCancelling ApplyStatus = "cancelling"
)

type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
	ImportPaused     ImportStatus = "paused"
	ImportCancelled  ImportStatus = "cancelled"
)

type ImportMode string

const (
	ImportModeFirstPage ImportMode = "first_page"
	ImportModeAllPages  ImportMode = "all_pages"
	ImportModeFile      ImportMode = "file"
)

type Filters struct {
	Query        string `json:"q,omitempty"`
	InDOAJ       *bool  `json:"inDoaj,omitempty"`
	InNLM        *bool  `json:"inNlm,omitempty"`
	HasWikidata  *bool  `json:"hasWikidata,omitempty"`
	IsOpenAccess *bool  `json:"isOpenAccess,omitempty"`
	SortBy       string `json:"sortBy,omitempty"`
	SortOrder    string `json:"sortOrder,omitempty"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	TotalPages int `json:"totalPages"`
}

type Page struct {
	Rows       []map[string]any
	Pagination Pagination
}

// SourceRecord is one provider's contribution to a journal, reduced to its
// main attributes and its named list sections.
type SourceRecord struct {
	Provider string           `json:"provider"`
	Main     map[string]any   `json:"main,omitempty"`
	Lists    map[string][]any `json:"lists,omitempty"`
}

type JournalFields struct {
	Identifier string                  `json:"issn_l"`
	Title      string                  `json:"title"`
	Publisher  string                  `json:"publisher,omitempty"`
	Country    string                  `json:"country,omitempty"`
	CoverURL   string                  `json:"cover_url,omitempty"`
	Sources    map[string]SourceRecord `json:"sources,omitempty"`
	Tags       []string                `json:"tags,omitempty"`
}

type UpsertOutcome string

const (
	UpsertCreated UpsertOutcome = "created"
	UpsertUpdated UpsertOutcome = "updated"
)

type Upserter interface {
	Upsert(ctx context.Context, fields JournalFields, existingID *int64) (UpsertOutcome, error)
}

type Progress struct {
	Phase   string
	Percent float64
	Current int
	Total   int
	Message string
	Stats   RunStats
}

type ProgressFunc func(Progress)

func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

type ImportError struct {
	Identifier string    `json:"issn,omitempty"`
	Title      string    `json:"title,omitempty"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"timestamp"`
}
