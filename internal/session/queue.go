// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// =============================================================================
// TURN QUEUE
// =============================================================================

// turnQueue is a FIFO of raw user texts accepted while a generation is
// active. Entries are promoted to generation strictly in arrival order,
// one at a time, each time the generation state returns to idle.
//
// turnQueue is not safe for concurrent use. The owning session serializes
// access under its mutex.
type turnQueue struct {
	entries []string
}

// enqueue appends text to the back of the queue.
func (q *turnQueue) enqueue(text string) {
	q.entries = append(q.entries, text)
}

// dequeue removes and returns the oldest entry. The second return value is
// false if the queue is empty.
func (q *turnQueue) dequeue() (string, bool) {
	if len(q.entries) == 0 {
		return "", false
	}
	head := q.entries[0]
	copy(q.entries, q.entries[1:])
	q.entries[len(q.entries)-1] = ""
	q.entries = q.entries[:len(q.entries)-1]
	return head, true
}

// len returns the number of pending entries.
func (q *turnQueue) len() int {
	return len(q.entries)
}

// clear drops all pending entries.
func (q *turnQueue) clear() {
	for i := range q.entries {
		q.entries[i] = ""
	}
	q.entries = q.entries[:0]
}
