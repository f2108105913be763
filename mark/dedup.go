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
    "fmt"
    "sync"
)

// When to hand strings to deduplication during marking.
//
type DedupPolicy int

const (
    DedupDisabled DedupPolicy = iota
    // age candidates each time they're marked, request at the threshold age
    DedupEnqueue
    // request every string not yet requested
    DedupAlways
)

var dedupNames = []string{"off", "enqueue", "always"}

func (p DedupPolicy) String() string {
    if p >= 0 && int(p) < len(dedupNames) {
        return dedupNames[p]
    }
    return fmt.Sprintf("DedupPolicy(%d)", int(p))
}

func ParseDedupPolicy(name string) (DedupPolicy, bool) {
    for i, n := range dedupNames {
        if n == name {
            return DedupPolicy(i), true
        }
    }
    return DedupDisabled, false
}

// Size of a worker's request buffer before it is handed off.
//
const dedupBufferSize = 128

// A worker's buffer of dedup requests.  Requests are claimed on the string
// itself so each one is made at most once per string.
//
type DedupRequests struct {
    strings Strings
    sink DedupSink
    buffer []Address
}

func NewDedupRequests(strings Strings, sink DedupSink) *DedupRequests {
    return &DedupRequests{strings: strings, sink: sink, buffer: make([]Address, 0, dedupBufferSize)}
}

func (r *DedupRequests) Add(obj Address) {
    if !r.strings.TrySetDedupRequested(obj) {
        return
    }
    r.buffer = append(r.buffer, obj)
    if len(r.buffer) == cap(r.buffer) {
        r.Flush()
    }
}

func (r *DedupRequests) Flush() {
    for _, obj := range r.buffer {
        r.sink.Add(obj)
    }
    r.buffer = r.buffer[:0]
}

// Is obj a string that should be requested now under the enqueue policy.
// Bumps its age as a side effect.
//
func (w *worker) isDedupCandidate(obj Address) bool {
    s := w.m.strings
    if !s.IsStringCandidate(obj) {
        return false
    }
    threshold := w.m.config.DedupAgeThreshold
    age, bumped := s.IncrementAge(obj, threshold)
    return bumped && age == threshold && !s.DedupRequested(obj)
}

func (w *worker) dedupString(obj Address) {
    switch w.m.config.Dedup {
        case DedupEnqueue:
            if w.isDedupCandidate(obj) {
                w.dedup.Add(obj)
            }
        case DedupAlways:
            s := w.m.strings
            if s.IsStringCandidate(obj) && !s.DedupRequested(obj) {
                w.dedup.Add(obj)
            }
    }
}

// A DedupSink collecting requests for an external dedup engine.  Safe for
// concurrent use.
//
type DedupQueue struct {
    mu sync.Mutex
    requests []Address
}

func (dq *DedupQueue) Add(obj Address) {
    dq.mu.Lock()
    dq.requests = append(dq.requests, obj)
    dq.mu.Unlock()
}

// Take everything queued so far.
//
func (dq *DedupQueue) Drain() []Address {
    dq.mu.Lock()
    defer dq.mu.Unlock()
    requests := dq.requests
    dq.requests = nil
    return requests
}
