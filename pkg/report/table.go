package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/eunmann/s3crawl/pkg/humanfmt"
)

var headers = []string{
	"BUCKET", "SCANNED", "REMEDIATED", "DENIED", "MISSING", "THROTTLED",
	"ERRORS", "DONE", "CALLS", "LISTING ERR",
}

// WriteTable renders the summary as a console table followed by the
// global diagnostic sets. Counts are exact unless human is set.
func WriteTable(w io.Writer, s Summary, human bool) error {
	num := func(n int64) string {
		if human {
			return humanfmt.Count(n)
		}
		return strconv.FormatInt(n, 10)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for _, b := range s.Buckets {
		t.Row(bucketRow(b, num)...)
	}
	if len(s.Buckets) > 1 {
		t.Row(bucketRow(BucketSummary{Outcomes: s.Totals()}, num)...)
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	categories := make([]string, 0, len(s.Global))
	for c := range s.Global {
		categories = append(categories, c)
	}
	slices.Sort(categories)
	for _, c := range categories {
		if _, err := fmt.Fprintf(w, "%s (%d): %s\n", c, len(s.Global[c]), strings.Join(s.Global[c], ", ")); err != nil {
			return fmt.Errorf("write %s: %w", c, err)
		}
	}
	return nil
}

func bucketRow(b BucketSummary, num func(int64) string) []string {
	d := b.Outcomes
	name := b.Bucket.String()
	if b.Bucket.Account == "" {
		name = "total"
	}
	errs := d.SessionError + d.ConnectionError + d.EndpointError + d.Unknown
	return []string{
		name,
		num(d.Scanned),
		num(d.Remediated),
		num(d.Denied),
		num(d.Missing),
		num(d.Throttled),
		num(errs),
		humanfmt.Percent(d.Remediated, d.Scanned),
		num(b.PartitionCalls),
		num(b.ListingDenied + b.ListingErrors),
	}
}
