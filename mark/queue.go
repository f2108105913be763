/*
    Copyright (c) 2012, 2013 by Jonathan Ross (jonross@alum.mit.edu)

    Permission is hereby granted, free of charge, to any person obtaining a copy
    of this software and associated documentation files (the "Software"), to deal
    in the Software without restriction, including without limitation the rights
    to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
    copies of the Software, and to permit persons to whom the Software is
    furnished to do so, subject to the following conditions:

    The above copyright notice and this permission notice shall be included in
    all copies or substantial portions of the Software.

    THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
    IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
    FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
    AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
    LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
    OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
    SOFTWARE.
*/

package mark

import (
    "math/rand"
    "sync"
    "sync/atomic"
)

// Default ring capacity per worker queue.
//
const DefaultQueueCapacity = 1 << 14

// A worker's task queue: a bounded ring owned by one worker, plus the
// overflow stack shared by every queue in the set.  The owner pushes and
// pops at the tail; thieves take from the head, so they get the oldest
// (typically largest) work first.
//
// Push never fails.  When the ring is full its older half is spilled to the
// overflow stack, which grows without bound; a runaway object graph shows
// up as memory pressure here rather than as a lost task.
//
type Queue struct {
    id int
    set *QueueSet
    mu sync.Mutex
    ring []Task
    // index of oldest task
    head int
    // number of tasks in ring
    n int
}

// Spilled segments, each at most half a ring.
//
type overflowStack struct {
    mu sync.Mutex
    segments [][]Task
    // total tasks across segments, readable without the lock
    count atomic.Int64
}

// One queue per worker, sharing an overflow stack.
//
type QueueSet struct {
    queues []*Queue
    overflow overflowStack
}

func NewQueueSet(workers int, capacity int) *QueueSet {
    assertf(workers > 0, "queue set needs at least one queue, got %d", workers)
    if capacity < 2 {
        capacity = 2
    }
    set := &QueueSet{queues: make([]*Queue, workers)}
    for i := range set.queues {
        set.queues[i] = &Queue{id: i, set: set, ring: make([]Task, capacity)}
    }
    return set
}

func (set *QueueSet) Size() int {
    return len(set.queues)
}

func (set *QueueSet) Queue(worker int) *Queue {
    return set.queues[worker]
}

// Total tasks in all rings plus the overflow stack.  Only exact when the
// set is quiescent.
//
func (set *QueueSet) TaskCount() int {
    total := int(set.overflow.count.Load())
    for _, q := range set.queues {
        total += q.Size()
    }
    return total
}

func (set *QueueSet) IsEmpty() bool {
    if set.overflow.count.Load() != 0 {
        return false
    }
    for _, q := range set.queues {
        if q.Size() != 0 {
            return false
        }
    }
    return true
}

// Steal one task from another worker's ring, trying two random victims and
// taking from the fuller one, then falling back to a sweep of all queues.
//
func (set *QueueSet) Steal(worker int, rnd *rand.Rand) (Task, bool) {
    n := len(set.queues)
    if n > 1 {
        a, b := rnd.Intn(n), rnd.Intn(n)
        if a == worker {
            a = (a + 1) % n
        }
        if b == worker || b == a {
            b = (a + 1) % n
        }
        victim := set.queues[a]
        if b != worker && set.queues[b].Size() > victim.Size() {
            victim = set.queues[b]
        }
        if t, ok := victim.steal(); ok {
            return t, true
        }
    }
    for i := 1; i < n; i++ {
        if t, ok := set.queues[(worker + i) % n].steal(); ok {
            return t, true
        }
    }
    return 0, false
}

func (q *Queue) Size() int {
    q.mu.Lock()
    n := q.n
    q.mu.Unlock()
    return n
}

// Push a task.  Always succeeds; the boolean is there so call sites can
// assert on it as a contract.
//
func (q *Queue) Push(t Task) bool {
    q.mu.Lock()
    if q.n == len(q.ring) {
        q.spill()
    }
    q.ring[(q.head + q.n) % len(q.ring)] = t
    q.n++
    q.mu.Unlock()
    return true
}

// Pop the newest task from the ring, refilling from the overflow stack when
// the ring is empty.
//
func (q *Queue) Pop() (Task, bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.n == 0 && !q.refill() {
        return 0, false
    }
    q.n--
    return q.ring[(q.head + q.n) % len(q.ring)], true
}

// Take the oldest task; used by thieves.
//
func (q *Queue) steal() (Task, bool) {
    q.mu.Lock()
    defer q.mu.Unlock()
    if q.n == 0 {
        return 0, false
    }
    t := q.ring[q.head]
    q.head = (q.head + 1) % len(q.ring)
    q.n--
    return t, true
}

// Move the older half of a full ring to the overflow stack.  Caller holds
// q.mu.
//
func (q *Queue) spill() {
    half := len(q.ring) / 2
    seg := make([]Task, half)
    for i := range seg {
        seg[i] = q.ring[(q.head + i) % len(q.ring)]
    }
    q.head = (q.head + half) % len(q.ring)
    q.n -= half
    q.set.overflow.push(seg)
}

// Fill an empty ring from one overflow segment.  Caller holds q.mu.
//
func (q *Queue) refill() bool {
    seg := q.set.overflow.pop()
    if seg == nil {
        return false
    }
    assertf(len(seg) <= len(q.ring), "overflow segment of %d tasks exceeds ring of %d", len(seg), len(q.ring))
    q.head = 0
    copy(q.ring, seg)
    q.n = len(seg)
    return true
}

func (o *overflowStack) push(seg []Task) {
    o.mu.Lock()
    o.segments = append(o.segments, seg)
    o.count.Add(int64(len(seg)))
    o.mu.Unlock()
}

func (o *overflowStack) pop() []Task {
    if o.count.Load() == 0 {
        return nil
    }
    o.mu.Lock()
    defer o.mu.Unlock()
    top := len(o.segments) - 1
    if top < 0 {
        return nil
    }
    seg := o.segments[top]
    o.segments[top] = nil
    o.segments = o.segments[:top]
    o.count.Add(-int64(len(seg)))
    return seg
}
