package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soltixdb/rollup/internal/arena"
	"github.com/soltixdb/rollup/internal/columnar"
	"github.com/soltixdb/rollup/internal/config"
	"github.com/soltixdb/rollup/internal/logging"
	"github.com/soltixdb/rollup/internal/rollup"
	"github.com/soltixdb/rollup/internal/schema"
	"github.com/soltixdb/rollup/internal/sink"
)

// Driver orchestrates one downsample batch end to end: page each raw
// partition, downsample it into one partition per resolution, collect
// the flushable chunk sets, persist them, and tear everything down.
//
// Per-partition problems (unknown schema, malformed blob, aggregator
// failure) are logged and skipped; the batch carries on without that
// partition's periods. Store-level failures are terminal and abort the
// batch after cleanup has run.
type Driver struct {
	cfg  config.RollupConfig
	reg  *schema.Registry
	sink sink.Sink
	log  *logging.Logger
}

// NewDriver creates a batch driver
func NewDriver(cfg config.RollupConfig, reg *schema.Registry, snk sink.Sink, log *logging.Logger) *Driver {
	return &Driver{cfg: cfg, reg: reg, sink: snk, log: log}
}

// Run processes one batch of raw partitions over the user time window
// [userTimeStart, userTimeEnd] (epoch-ms, both inclusive).
//
// The arena is the calling worker's; it is never shared. Whatever
// happens, batch teardown runs in this order: blocks are marked
// reclaimable, paged raw partitions are freed, downsample partitions
// are shut down. Getting this order wrong leaks arena memory.
func (d *Driver) Run(ctx context.Context, ar *arena.Arena, parts []columnar.RawPartData, userTimeStart, userTimeEnd int64) error {
	if userTimeStart > userTimeEnd {
		return fmt.Errorf("invalid window: start %d after end %d", userTimeStart, userTimeEnd)
	}

	log := d.log.With("batch_id", uuid.NewString())
	started := time.Now()

	resolutions := make([]time.Duration, len(d.cfg.Resolutions))
	copy(resolutions, d.cfg.Resolutions)
	sort.Slice(resolutions, func(i, j int) bool { return resolutions[i] < resolutions[j] })

	perResolution := make(map[time.Duration][]rollup.ChunkSetIterator, len(resolutions))

	var rawFrees []*columnar.PagedRawPartition
	var dsFrees []*rollup.DownsamplePartition
	defer func() {
		ar.Blocks.MarkUsedBlocksReclaimable()
		for _, p := range rawFrees {
			p.Free()
		}
		for _, p := range dsFrees {
			p.Shutdown()
		}
	}()

	downsamplers := make(map[int32]*rollup.WindowDownsampler)

	for i, raw := range parts {
		schemaID, err := columnar.PeekSchemaID(raw)
		if err != nil {
			log.Warn("Skipping malformed raw partition", "index", i, "error", err)
			continue
		}
		rawSchema, ok := d.reg.ByID(schemaID)
		if !ok {
			log.Warn("Skipping partition with unknown schema", "index", i, "schema_id", schemaID)
			continue
		}
		if rawSchema.Downsample == nil {
			log.Warn("Skipping partition: schema has no downsample schema",
				"index", i, "schema", rawSchema.Name)
			continue
		}

		paged, err := columnar.NewPagedRawPartition(rawSchema, raw, ar.Allocator)
		if err != nil {
			log.Warn("Skipping malformed raw partition",
				"index", i, "schema", rawSchema.Name, "error", err)
			continue
		}
		rawFrees = append(rawFrees, paged)

		pool, ok := ar.Pool(schemaID)
		if !ok {
			log.Warn("Skipping partition: arena has no buffer pool for schema",
				"index", i, "schema", rawSchema.Name)
			continue
		}

		ds, ok := downsamplers[schemaID]
		if !ok {
			ds = rollup.NewWindowDownsampler(rawSchema.Aggregators)
			downsamplers[schemaID] = ds
		}

		outs := make(map[time.Duration]*rollup.DownsamplePartition, len(resolutions))
		for _, res := range resolutions {
			p := rollup.NewDownsamplePartition(rawSchema.Downsample, paged.PartitionKey(), pool, ar.Blocks)
			outs[res] = p
			dsFrees = append(dsFrees, p)
		}

		if err := ds.Run(paged, outs, userTimeStart, userTimeEnd); err != nil {
			// The partition's partial output is discarded at teardown;
			// nothing from it reaches the store.
			log.Warn("Downsampling failed, skipping partition",
				"index", i, "schema", rawSchema.Name, "error", err)
			continue
		}

		for _, res := range resolutions {
			p := outs[res]
			if err := p.SwitchBuffers(ar.Blocks, true); err != nil {
				return fmt.Errorf("switch buffers for resolution %s: %w", res, err)
			}
			iter, err := p.MakeFlushChunks(ar.Blocks)
			if err != nil {
				return fmt.Errorf("flush chunks for resolution %s: %w", res, err)
			}
			perResolution[res] = append(perResolution[res], iter)
		}
	}

	if err := d.persist(ctx, log, resolutions, perResolution); err != nil {
		return err
	}

	log.Info("Batch complete",
		"partitions", len(parts),
		"window_start", userTimeStart,
		"window_end", userTimeEnd,
		"elapsed", time.Since(started))
	return nil
}

type writeOutcome struct {
	resolution time.Duration
	resp       sink.Response
	err        error
}

// persist writes each resolution's chunk sets to its dataset, one write
// per resolution in parallel, and waits for every acknowledgement. All
// writes must succeed for the batch to succeed; the driver never
// retries.
func (d *Driver) persist(ctx context.Context, log *logging.Logger, resolutions []time.Duration, perResolution map[time.Duration][]rollup.ChunkSetIterator) error {
	outcomes := make(chan writeOutcome, len(resolutions))

	for _, res := range resolutions {
		ttl, ok := d.cfg.TTLFor(res)
		if !ok {
			return fmt.Errorf("no TTL configured for resolution %s", res)
		}
		go func(res time.Duration, ttl time.Duration, iters []rollup.ChunkSetIterator) {
			wctx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
			defer cancel()

			resp, err := d.sink.Write(wctx, d.cfg.DatasetFor(res), rollup.ChainChunkSets(iters...), ttl)
			outcomes <- writeOutcome{resolution: res, resp: resp, err: err}
		}(res, ttl, perResolution[res])
	}

	var firstErr error
	for range resolutions {
		out := <-outcomes
		if out.err != nil {
			log.Error("Store write failed",
				"resolution", out.resolution,
				"dataset", d.cfg.DatasetFor(out.resolution),
				"error", out.err)
			if firstErr == nil {
				firstErr = fmt.Errorf("store write for resolution %s: %w", out.resolution, out.err)
			}
			continue
		}
		log.Debug("Store write acknowledged",
			"resolution", out.resolution,
			"dataset", out.resp.Dataset,
			"chunks", out.resp.ChunksWritten,
			"rows", out.resp.RowsWritten)
	}
	return firstErr
}
