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
    "sync"
    "sync/atomic"
)

// Default entries per SATB buffer.
//
const DefaultSATBBufferSize = 256

// Snapshot-at-the-beginning buffers.  Mutators record the old value of
// each reference they overwrite during marking in a thread-local buffer;
// full buffers are completed to this set, where markers pick them up and
// mark every entry as if it were a root.
//
type SATBQueueSet struct {
    bufferSize int
    mu sync.Mutex
    completed [][]Address
    pending atomic.Int64
}

func NewSATBQueueSet(bufferSize int) *SATBQueueSet {
    if bufferSize <= 0 {
        bufferSize = DefaultSATBBufferSize
    }
    return &SATBQueueSet{bufferSize: bufferSize}
}

// One mutator's buffer.  Not safe for concurrent use.
//
type SATBBuffer struct {
    set *SATBQueueSet
    entries []Address
}

func (set *SATBQueueSet) NewBuffer() *SATBBuffer {
    return &SATBBuffer{set: set, entries: make([]Address, 0, set.bufferSize)}
}

// Record a pre-write value.  Nulls are dropped.
//
func (b *SATBBuffer) Enqueue(obj Address) {
    if obj == 0 {
        return
    }
    b.entries = append(b.entries, obj)
    if len(b.entries) == cap(b.entries) {
        b.Flush()
    }
}

// Complete whatever is buffered, even if not full.
//
func (b *SATBBuffer) Flush() {
    if len(b.entries) == 0 {
        return
    }
    b.set.complete(b.entries)
    b.entries = make([]Address, 0, b.set.bufferSize)
}

func (set *SATBQueueSet) complete(entries []Address) {
    set.mu.Lock()
    set.completed = append(set.completed, entries)
    set.pending.Add(1)
    set.mu.Unlock()
}

func (set *SATBQueueSet) claim() []Address {
    if set.pending.Load() == 0 {
        return nil
    }
    set.mu.Lock()
    defer set.mu.Unlock()
    top := len(set.completed) - 1
    if top < 0 {
        return nil
    }
    entries := set.completed[top]
    set.completed[top] = nil
    set.completed = set.completed[:top]
    set.pending.Add(-1)
    return entries
}

func (set *SATBQueueSet) IsEmpty() bool {
    return set.pending.Load() == 0
}

// Mark through every entry of one completed buffer.  Entries have no heap
// slot, so they never dirty cards.  Returns false if there was nothing to
// claim.
//
func (w *worker) drainSATB() bool {
    entries := w.m.satb.claim()
    if entries == nil {
        return false
    }
    for _, obj := range entries {
        w.m.markThrough(0, obj, w.q, w.oldQ, false)
    }
    w.stats.SATBEntries += int64(len(entries))
    return true
}
