package couchkit

import "context"

// DefaultBatchSize is the batch size the pagination batcher uses when
// the caller does not override it.
const DefaultBatchSize = 100

// PaginateAllDocs turns an unbounded input sequence of document ids into
// bounded _all_docs batches (include_docs=true, ignore_not_found=true),
// forwarding every Row event as it arrives and emitting one rolled-up
// TotalCount/Offset/UpdateSequence summary after the input is exhausted
// and the final partial batch has been flushed. At most
// ceil(N/batchSize) requests are issued for N input ids.
//
// Offset is rolled up as the minimum across batches (the overall
// position is the earliest batch's) and UpdateSequence as the maximum
// (later batches observe a newer or equal cluster sequence), per
// spec.md §4.5.
func PaginateAllDocs[K, V, T any](ctx context.Context, c *Client, db string, ids <-chan string, batchSize int, cfg ViewDecoderConfig[K, V, T]) <-chan ViewEvent[K, V, T] {
	if batchSize <= 0 {
		batchSize = c.BatchSize()
	}

	out := make(chan ViewEvent[K, V, T])

	go func() {
		defer close(out)

		send := func(ev ViewEvent[K, V, T]) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var (
			totalSum    int
			haveOffset  bool
			minOffset   int
			haveSeq     bool
			maxSeq      int64
			batch       = make([]interface{}, 0, batchSize)
			ranAnyBatch bool
		)

		runBatch := func() bool {
			if len(batch) == 0 {
				return true
			}
			ranAnyBatch = true

			query := ViewQuery{
				Keys:           batch,
				IncludeDocs:    true,
				IgnoreNotFound: true,
			}
			batchCfg := cfg
			batchCfg.IncludeDocs = true
			batchCfg.IgnoreNotFound = true

			events, err := QueryView(ctx, c, db, query, batchCfg)
			if err != nil {
				send(ViewEvent[K, V, T]{Kind: EventError, Err: err})
				return false
			}

			for ev := range events {
				switch ev.Kind {
				case EventRow:
					if !send(ev) {
						return false
					}
				case EventTotalCount:
					totalSum += ev.TotalCount
				case EventOffset:
					if ev.Offset >= 0 && (!haveOffset || ev.Offset < minOffset) {
						minOffset = ev.Offset
						haveOffset = true
					}
				case EventUpdateSequence:
					if !haveSeq || ev.UpdateSeq > maxSeq {
						maxSeq = ev.UpdateSeq
						haveSeq = true
					}
				case EventError:
					send(ev)
					return false
				}
			}

			batch = batch[:0]
			return true
		}

	loop:
		for {
			select {
			case id, ok := <-ids:
				if !ok {
					break loop
				}
				batch = append(batch, id)
				if len(batch) >= batchSize {
					if !runBatch() {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}

		if !runBatch() {
			return
		}

		if !ranAnyBatch {
			return
		}

		if !send(ViewEvent[K, V, T]{Kind: EventTotalCount, TotalCount: totalSum}) {
			return
		}
		if haveOffset {
			if !send(ViewEvent[K, V, T]{Kind: EventOffset, Offset: minOffset}) {
				return
			}
		}
		if haveSeq {
			send(ViewEvent[K, V, T]{Kind: EventUpdateSequence, UpdateSeq: maxSeq})
		}
	}()

	return out
}
