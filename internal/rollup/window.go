package rollup

import (
	"fmt"
	"sort"
	"time"

	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/schema"
)

// WindowDownsampler computes aggregate rows for one raw partition at a
// time: for every chunk, every resolution, and every resolution-aligned
// period touching the chunk, it locates the period's row range in the
// timestamp vector and reduces each aggregator over it.
//
// A period at resolution R is the interval (k*R, (k+1)*R]: left-open,
// right-closed. A sample landing exactly on a boundary t = k*R belongs
// to the period ENDING at k*R, and the emitted row timestamp for a
// period is always its end.
type WindowDownsampler struct {
	aggs []Aggregator
	row  Row // reused across windows
}

// NewWindowDownsampler builds a downsampler for one schema's descriptors
func NewWindowDownsampler(descs []schema.AggregatorDescriptor) *WindowDownsampler {
	return &WindowDownsampler{
		aggs: NewAggregators(descs),
		row:  make(Row, len(descs)),
	}
}

// Run downsamples part into outs, one DownsamplePartition per resolution.
//
// A period is emitted iff its end falls inside [userTimeStart,
// userTimeEnd]. Gating on the period END rather than its start is what
// makes batch windows composable: a period straddling two batch windows
// belongs to exactly the batch that owns its closing boundary. Periods
// with no raw samples are skipped, never fabricated.
//
// Every emitted row is ingested with ingestionTime = userTimeStart, so
// re-running the same window yields byte-identical chunks.
func (w *WindowDownsampler) Run(
	part *columnar.PagedRawPartition,
	outs map[time.Duration]*DownsamplePartition,
	userTimeStart, userTimeEnd int64,
) error {
	resolutions := make([]time.Duration, 0, len(outs))
	for r := range outs {
		resolutions = append(resolutions, r)
	}
	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

	var reader columnar.LongReader

	for _, chunk := range part.ChunkInfos() {
		tsVec := chunk.TimeVector()

		for _, res := range resolutions {
			rms := res.Milliseconds()
			if rms <= 0 {
				return fmt.Errorf("invalid resolution %s", res)
			}
			dsPart := outs[res]

			// First period touching the chunk. The -1/+1 offsets encode
			// the left-open, right-closed period convention.
			pStart := ((chunk.StartTime-1)/rms)*rms + 1
			pEnd := pStart + rms - 1

			for pStart <= chunk.EndTime {
				if pEnd >= userTimeStart && pEnd <= userTimeEnd {
					sRow := reader.BinarySearch(tsVec, pStart) & 0x7FFFFFFF
					eRow := reader.CeilingIndex(tsVec, pEnd)
					if eRow > chunk.NumRows-1 {
						eRow = chunk.NumRows - 1
					}
					if sRow <= eRow {
						for i := range w.aggs {
							if err := w.aggs[i].Reduce(chunk, sRow, eRow, pEnd, &w.row[i]); err != nil {
								return fmt.Errorf("resolution %s period %d: %w", res, pEnd, err)
							}
						}
						if err := dsPart.Ingest(userTimeStart, w.row); err != nil {
							return fmt.Errorf("resolution %s period %d: %w", res, pEnd, err)
						}
					}
				}
				pStart += rms
				pEnd += rms
			}
		}
	}
	return nil
}
