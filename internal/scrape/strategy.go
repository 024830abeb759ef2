package scrape

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/vasaquant/securities-ingest/internal/page"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// Strategy turns one rendered listing page into raw instrument records.
// Malformed rows are returned for diagnostics instead of aborting extraction;
// a source changing its layout shows up as a malformed count, not a dead run.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, p page.Page) (records []model.RawInstrument, malformed []string, err error)
}

var lineBreaks = regexp.MustCompile(`\r?\n`)

// TableRowStrategy reads one large text block from a listing container and
// groups its non-empty lines into fixed-size strides, one stride per
// instrument row. Field offsets are relative to the stride start.
type TableRowStrategy struct {
	Selector    string
	Stride      int
	NameIdx     int
	SymbolIdx   int
	IndustryIdx int // negative when the source has no industry column
}

func (s TableRowStrategy) Name() string { return "table-row" }

func (s TableRowStrategy) Extract(ctx context.Context, p page.Page) ([]model.RawInstrument, []string, error) {
	if s.Stride <= 0 {
		return nil, nil, fmt.Errorf("table-row strategy: invalid stride %d", s.Stride)
	}

	raw, err := p.Text(ctx, s.Selector)
	if err != nil {
		return nil, nil, fmt.Errorf("table-row strategy: %w", err)
	}

	var lines []string
	for _, line := range lineBreaks.Split(raw, -1) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	maxIdx := s.NameIdx
	if s.SymbolIdx > maxIdx {
		maxIdx = s.SymbolIdx
	}
	if s.IndustryIdx > maxIdx {
		maxIdx = s.IndustryIdx
	}

	var records []model.RawInstrument
	var malformed []string
	for i := 0; i < len(lines); i += s.Stride {
		if i+maxIdx >= len(lines) {
			// Truncated stride: record the offending text, resume at the
			// next stride boundary.
			malformed = append(malformed, lines[i])
			continue
		}
		rec := model.RawInstrument{
			Name:   lines[i+s.NameIdx],
			Symbol: lines[i+s.SymbolIdx],
		}
		if s.IndustryIdx >= 0 {
			rec.Industry = lines[i+s.IndustryIdx]
		}
		records = append(records, rec)
	}
	return records, malformed, nil
}

// AttributeStrategy reads one attribute from each repeated row element and
// splits it into a (symbol, name) pair on a fixed delimiter.
type AttributeStrategy struct {
	Selector  string
	Attribute string
	Delimiter string // defaults to " - "
}

func (s AttributeStrategy) Name() string { return "attribute" }

func (s AttributeStrategy) Extract(ctx context.Context, p page.Page) ([]model.RawInstrument, []string, error) {
	delim := s.Delimiter
	if delim == "" {
		delim = " - "
	}

	values, err := p.Attributes(ctx, s.Selector, s.Attribute)
	if err != nil {
		return nil, nil, fmt.Errorf("attribute strategy: %w", err)
	}

	var records []model.RawInstrument
	var malformed []string
	for _, v := range values {
		parts := strings.SplitN(v, delim, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			malformed = append(malformed, v)
			continue
		}
		records = append(records, model.RawInstrument{
			Symbol: parts[0],
			Name:   parts[1],
		})
	}
	return records, malformed, nil
}
