package pipeline

import (
	"iter"

	"github.com/sells-group/sub-zapper/internal/model"
)

// DefaultBatchSize is the number of emails sent to the oracle per request.
const DefaultBatchSize = 10

// Batches yields contiguous, order-preserving chunks of at most size emails,
// numbered from 1. Empty input yields nothing. size <= 0 uses DefaultBatchSize.
func Batches(emails []model.EmailRecord, size int) iter.Seq2[int, []model.EmailRecord] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return func(yield func(int, []model.EmailRecord) bool) {
		for n, start := 1, 0; start < len(emails); n, start = n+1, start+size {
			end := min(start+size, len(emails))
			if !yield(n, emails[start:end:end]) {
				return
			}
		}
	}
}

// BatchCount returns how many batches Batches yields for n emails.
func BatchCount(n, size int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return (n + size - 1) / size
}
