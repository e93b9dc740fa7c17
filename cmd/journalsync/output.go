package main

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"journalsync/internal"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func statusColor(status string) string {
	switch status {
	case "completed":
		return green(status)
	case "processing", "paused", "pending":
		return yellow(status)
	case "failed", "cancelled", "cancelling":
		return red(status)
	default:
		return gray(status)
	}
}

func printStats(s internal.RunStats) {
	fmt.Printf("  created %s, updated %s, deleted %s, skipped %d, errors %s\n",
		green(s.Created), green(s.Updated), yellow(s.Deleted), s.Skipped, errCount(s.Errors))
}

func errCount(n int64) string {
	if n == 0 {
		return gray(n)
	}
	return red(n)
}

// progressPrinter logs a progress line whenever the whole percent of a
// phase moves.
type progressPrinter struct {
	mu   sync.Mutex
	log  *logrus.Logger
	last map[string]int
}

func newProgressPrinter(log *logrus.Logger) *progressPrinter {
	return &progressPrinter{log: log, last: map[string]int{}}
}

func (p *progressPrinter) Report(pr internal.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pct := int(pr.Percent)
	if prev, ok := p.last[pr.Phase]; ok && prev == pct && pr.Current != pr.Total {
		return
	}
	p.last[pr.Phase] = pct
	p.log.WithFields(logrus.Fields{"phase": pr.Phase, "percent": pct}).Info(pr.Message)
}

type filterFlags struct {
	query        string
	inDOAJ       bool
	inNLM        bool
	hasWikidata  bool
	isOpenAccess bool
	sortBy       string
	sortOrder    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.query, "q", "", "Free-text filter")
	fs.BoolVar(&f.inDOAJ, "in-doaj", false, "Only journals listed in DOAJ")
	fs.BoolVar(&f.inNLM, "in-nlm", false, "Only journals listed in NLM")
	fs.BoolVar(&f.hasWikidata, "has-wikidata", false, "Only journals with a Wikidata entry")
	fs.BoolVar(&f.isOpenAccess, "open-access", false, "Only open access journals")
	fs.StringVar(&f.sortBy, "sort-by", "", "Sort field")
	fs.StringVar(&f.sortOrder, "sort-order", "", "asc|desc")
}

// filters only sets the boolean filters the user passed explicitly.
func (f *filterFlags) filters(cmd *cobra.Command) internal.Filters {
	out := internal.Filters{Query: f.query, SortBy: f.sortBy, SortOrder: f.sortOrder}
	fs := cmd.Flags()
	pick := func(name string, v bool) *bool {
		if !fs.Changed(name) {
			return nil
		}
		return &v
	}
	out.InDOAJ = pick("in-doaj", f.inDOAJ)
	out.InNLM = pick("in-nlm", f.inNLM)
	out.HasWikidata = pick("has-wikidata", f.hasWikidata)
	out.IsOpenAccess = pick("open-access", f.isOpenAccess)
	return out
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
