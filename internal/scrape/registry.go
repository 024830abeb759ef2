package scrape

import "github.com/vasaquant/securities-ingest/pkg/config"

// Pipeline binds an ordered list of source URLs to an extraction strategy and
// a destination market list. The set of pipelines is a fixed, enumerable
// configuration, not a plugin system.
type Pipeline struct {
	Name       string
	URLs       []string
	Strategy   Strategy
	MarketList string
}

// listedCompaniesStrategy extracts from the exchange listing tables: six text
// lines per company row, company name first, symbol second, industry fifth.
func listedCompaniesStrategy() Strategy {
	return TableRowStrategy{
		Selector:    "#listedCompanies tbody",
		Stride:      6,
		NameIdx:     0,
		SymbolIdx:   1,
		IndustryIdx: 4,
	}
}

// indexMembersStrategy extracts from the index constituent tables, where each
// row carries a "SYMBOL - Company Name" title attribute.
func indexMembersStrategy() Strategy {
	return AttributeStrategy{
		Selector:  "#sharesInIndexTable tbody tr",
		Attribute: "title",
		Delimiter: " - ",
	}
}

// Registry returns the full pipeline list, constructed once from config and
// handed to the runner. Pipelines are processed in this order.
func Registry(cfg *config.Config) []Pipeline {
	table := listedCompaniesStrategy()
	index := indexMembersStrategy()

	return []Pipeline{
		{
			Name:       "omxspi",
			URLs:       []string{cfg.OMXURL},
			Strategy:   table,
			MarketList: "omxspi",
		},
		{
			Name:       "omxs",
			URLs:       []string{cfg.OMXURL, cfg.FirstNorthURL},
			Strategy:   table,
			MarketList: "omxs",
		},
		{
			Name:       "omxs_large_caps",
			URLs:       []string{cfg.NordicLargeCapsURL},
			Strategy:   table,
			MarketList: "omxs_large_caps",
		},
		{
			Name:       "omxs_mid_caps",
			URLs:       []string{cfg.NordicMidCapsURL},
			Strategy:   table,
			MarketList: "omxs_mid_caps",
		},
		{
			Name:       "omxs_small_caps",
			URLs:       []string{cfg.NordicSmallCapsURL},
			Strategy:   table,
			MarketList: "omxs_small_caps",
		},
		{
			Name:       "first_north",
			URLs:       []string{cfg.FirstNorthURL},
			Strategy:   table,
			MarketList: "first_north",
		},
		{
			Name:       "omxs30",
			URLs:       []string{cfg.OMXS30URL},
			Strategy:   index,
			MarketList: "omxs30",
		},
		{
			Name:       "first_north25",
			URLs:       []string{cfg.FirstNorth25URL},
			Strategy:   index,
			MarketList: "first_north25",
		},
	}
}
