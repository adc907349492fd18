// Package partition assigns change events to N durable FIFO queues.
//
// A resource always lands in the same partition:
//
//	index = murmur3_x86_32(namespace + "/" + name, seed 0) mod N
//
// and each partition is drained by exactly one worker holding its lease, so
// two reconciliations of the same resource never run concurrently.
//
// Two Queue implementations exist: SQLiteQueue persists events and leases in a
// SQLite database shared by all worker processes of a block, and MemoryQueue
// keeps everything in process for single-binary runs and tests.
package partition
