// Package schema defines the canonical snapshot row written to the columnar
// store and builds rows from order-book depth.
package schema

import (
	"math"

	"github.com/shopspring/decimal"

	"pmsurveil/internal/book"
)

// Status tags carried in every written row.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
	StatusStale   = "stale"
)

// Row is one snapshot row; field order here is the column order in the
// written files. List columns (BidPx/BidSz/AskPx/AskSz) are written as
// native Parquet list columns, not JSON-encoded strings; the writer stamps
// the choice in the file footer so readers can auto-detect it.
type Row struct {
	TsRecv    int64  `parquet:"ts_recv"`
	Venue     string `parquet:"venue"`
	MarketID  string `parquet:"market_id"`
	OutcomeID string `parquet:"outcome_id"`
	Seq       int64  `parquet:"seq"`

	BestBidPx float64 `parquet:"best_bid_px"`
	BestBidSz float64 `parquet:"best_bid_sz"`
	BestAskPx float64 `parquet:"best_ask_px"`
	BestAskSz float64 `parquet:"best_ask_sz"`
	Mid       float64 `parquet:"mid"`
	Spread    float64 `parquet:"spread"`

	BidPx []float64 `parquet:"bid_px,list"`
	BidSz []float64 `parquet:"bid_sz,list"`
	AskPx []float64 `parquet:"ask_px,list"`
	AskSz []float64 `parquet:"ask_sz,list"`

	Status string `parquet:"status"`
	Err    string `parquet:"err"`
	// SourceTs is the venue-provided timestamp, if any (0 ⇒ absent: the
	// wire format doesn't distinguish zero from missing at this layer, so
	// callers building a row from a source lacking a timestamp just omit it).
	SourceTs int64 `parquet:"source_ts,optional"`
}

// FromDepth constructs a row from a key, a receive timestamp, and the book's
// depth snapshot, truncating to topK levels per side. seq and source_ts come
// from the depth itself: seq is the adapter's per-key counter, source_ts the
// venue-provided timestamp if any.
func FromDepth(venue, marketID, outcomeID string, tsRecv int64, depth book.Depth, topK int) Row {
	bids := truncate(depth.Bids, topK)
	asks := truncate(depth.Asks, topK)

	row := Row{
		TsRecv:    tsRecv,
		Venue:     venue,
		MarketID:  marketID,
		OutcomeID: outcomeID,
		Seq:       depth.Seq,
		SourceTs:  depth.SourceTs,
	}

	switch {
	case len(bids) == 0 && len(asks) == 0:
		row.Status = StatusEmpty
		row.BestBidPx, row.BestBidSz = math.NaN(), math.NaN()
		row.BestAskPx, row.BestAskSz = math.NaN(), math.NaN()
		row.Mid, row.Spread = math.NaN(), math.NaN()
	case len(bids) == 0 || len(asks) == 0:
		row.Status = StatusPartial
		if len(bids) > 0 {
			row.BestBidPx, row.BestBidSz = bids[0].Price, bids[0].Size
			row.BestAskPx, row.BestAskSz = math.NaN(), math.NaN()
		} else {
			row.BestAskPx, row.BestAskSz = asks[0].Price, asks[0].Size
			row.BestBidPx, row.BestBidSz = math.NaN(), math.NaN()
		}
		row.Mid, row.Spread = math.NaN(), math.NaN()
	default:
		bb, ba := bids[0], asks[0]
		row.BestBidPx, row.BestBidSz = bb.Price, bb.Size
		row.BestAskPx, row.BestAskSz = ba.Price, ba.Size

		bbD := decimal.NewFromFloat(bb.Price)
		baD := decimal.NewFromFloat(ba.Price)
		if bbD.GreaterThanOrEqual(baD) {
			// Crossed book. Tag partial instead of ok rather than drop the
			// row; the violation itself is what downstream analysis needs
			// to see.
			row.Status = StatusPartial
		} else {
			row.Status = StatusOK
		}
		mid := bbD.Add(baD).Div(decimal.NewFromInt(2))
		spread := baD.Sub(bbD)
		row.Mid, _ = mid.Float64()
		row.Spread, _ = spread.Float64()
	}

	row.BidPx, row.BidSz = levelsToArrays(bids)
	row.AskPx, row.AskSz = levelsToArrays(asks)
	return row
}

func truncate(levels []book.Level, topK int) []book.Level {
	if len(levels) <= topK {
		return levels
	}
	return levels[:topK]
}

func levelsToArrays(levels []book.Level) (px, sz []float64) {
	px = make([]float64, len(levels))
	sz = make([]float64, len(levels))
	for i, l := range levels {
		px[i] = l.Price
		sz[i] = l.Size
	}
	return px, sz
}
