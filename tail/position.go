package tail

import (
	"github.com/hugolhafner/ktail/kafka"
)

// ConsumerPosition is an immutable progress snapshot. Offsets are summed
// across all subscribed partitions into single scalars.
type ConsumerPosition struct {
	Start        int64 `json:"start"`
	End          int64 `json:"end"`
	Current      int64 `json:"current"`
	Percentage   int   `json:"percentage"`
	TotalRecords int64 `json:"totalRecords"`
}

// trackPosition computes a snapshot from the start, end and live current
// offset maps. End is raised to current before the percentage is computed, so
// data produced after subscription never pushes the percentage past 100.
// O(partitions), independent of batch size.
func trackPosition(start, end, current map[kafka.TopicPartition]int64, totalRecords int64) ConsumerPosition {
	startSum := sumOffsets(start)
	endSum := sumOffsets(end)
	currentSum := sumOffsets(current)

	if endSum < currentSum {
		endSum = currentSum
	}

	span := endSum - startSum
	if span < 1 {
		span = 1
	}

	return ConsumerPosition{
		Start:        startSum,
		End:          endSum,
		Current:      currentSum,
		Percentage:   int((currentSum - startSum) * 100 / span),
		TotalRecords: totalRecords,
	}
}

func sumOffsets(offsets map[kafka.TopicPartition]int64) int64 {
	var total int64
	for _, offset := range offsets {
		total += offset
	}

	return total
}
