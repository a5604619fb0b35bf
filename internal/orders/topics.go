package orders

import "strconv"

// All lifecycle events share one topic; the type travels in the
// x-event-type header.
const TopicOrderEvents = "orders.events"

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID int64) []byte {
	return []byte(strconv.FormatInt(orderID, 10))
}
