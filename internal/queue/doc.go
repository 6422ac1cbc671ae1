// Package queue is a Redis-backed durable job queue with FIFO message groups.
//
// Messages carry a group key and an optional deduplication key. A duplicate
// sent inside the dedup window is accepted but not enqueued. Within a group,
// messages are delivered in send order and a group stays locked while any of
// its messages is in flight, so one consumer at a time works a group.
//
// Receive hides messages for the visibility timeout. Ack deletes them. Reap
// returns expired in-flight messages to the head of their group, or moves
// them to the dead-letter list once they have been received max_receives
// times. Every state transition runs as a single Lua script so concurrent
// consumers never observe a half-moved message.
//
// Key layout under prefix p ("<queue name>:"):
//
//	p:seq          message id counter
//	p:msg:<id>     hash: body, group, dedup, receives
//	p:dedup:<key>  dedup marker with TTL
//	p:group:<g>    list of pending ids
//	p:groups       set of groups with pending messages
//	p:locked       hash: group -> in-flight count
//	p:inflight     zset: id -> visibility deadline (unix ms)
//	p:dlq          list of dead-lettered ids
package queue
