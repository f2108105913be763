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
    "log"
    "math/rand"
    "runtime"
    "sync"
    "sync/atomic"
)

const (
    // Elements of an object array scanned per task, at most.
    DefaultStride = 2048
    // Age at which an enqueue-policy string is handed to dedup.
    DefaultDedupAgeThreshold = 3
)

// Marking options, fixed for the life of a Marker.
//
type Config struct {
    // which generation this marker traces
    Generation Generation
    // number of parallel workers, one queue each
    Workers int
    // object array elements per chunk task
    Stride int
    // ring capacity of each worker queue
    QueueCapacity int
    // string deduplication policy
    Dedup DedupPolicy
    // age an enqueue-policy string must reach before it is requested
    DedupAgeThreshold int
    // relativize stack chunks and scan them strong
    Continuations bool
    // visit class metadata while scanning
    VisitMetadata bool
    // sample young object ages into the census
    AdaptiveTenuring bool
}

func DefaultConfig() Config {
    return Config{
        Generation: NonGen,
        Workers: runtime.NumCPU(),
        Stride: DefaultStride,
        QueueCapacity: DefaultQueueCapacity,
        Dedup: DedupDisabled,
        DedupAgeThreshold: DefaultDedupAgeThreshold,
        Continuations: true,
        VisitMetadata: true,
        AdaptiveTenuring: false,
    }
}

// Collaborators a Marker works against.  Heap and Context are required;
// RememberedSet is required for generational markers.
//
type Env struct {
    Heap Heap
    Context *MarkingContext
    RememberedSet RememberedSet
    // optional age census sink
    Census AgeCensus
    // non-nil while old marking runs beside a young marker
    OldQueues *QueueSet
    // optional SATB buffers to drain when out of work
    SATB *SATBQueueSet
    // where dedup requests end up; required unless dedup is disabled
    DedupSink DedupSink
    // optional safepoint hook consulted between tasks
    Yielder Yielder
}

// Lets the caller stop workers between tasks, in the manner of a
// suspendible thread set.
//
type Yielder interface {
    // Should this worker stop before its next task.
    ShouldYield(worker int) bool
    // Block until the worker may continue.
    Yield(worker int)
}

// Counters gathered across workers.
//
type Stats struct {
    Tasks int64
    ChunkTasks int64
    Steals int64
    SATBEntries int64
}

// The mark engine for one generation and one cycle.
//
type Marker struct {
    config Config
    heap Heap
    ctx *MarkingContext
    rset RememberedSet
    census AgeCensus
    stacks StackChunks
    strings Strings
    queues *QueueSet
    oldQueues *QueueSet
    satb *SATBQueueSet
    yielder Yielder
    // generational or non-generational routing, picked once
    markThrough func(slot Address, obj Address, q *Queue, oldQ *Queue, weak bool)
    workers []*worker
    term terminator
    cancelled atomic.Bool
    draining atomic.Int32
}

// Per-worker state.  Only the owning goroutine touches it.
//
type worker struct {
    id int
    m *Marker
    q *Queue
    oldQ *Queue
    cl closure
    // local live word cache, indexed by region
    live []uint16
    dedup *DedupRequests
    rnd *rand.Rand
    stats Stats
}

func NewMarker(config Config, env Env) *Marker {

    if config.Workers <= 0 {
        config.Workers = 1
    }
    if config.Stride <= 0 {
        config.Stride = DefaultStride
    }
    if config.QueueCapacity <= 0 {
        config.QueueCapacity = DefaultQueueCapacity
    }
    if config.DedupAgeThreshold <= 0 {
        config.DedupAgeThreshold = DefaultDedupAgeThreshold
    }

    assertf(env.Heap != nil && env.Context != nil, "marker needs a heap and a marking context")
    assertf(config.Generation == NonGen || env.RememberedSet != nil,
            "%v marking needs a remembered set", config.Generation)
    assertf(env.OldQueues == nil || config.Generation == Young,
            "old queues only make sense beside young marking, not %v", config.Generation)
    if env.OldQueues != nil {
        assertf(env.OldQueues.Size() >= config.Workers,
                "old queue set has %d queues for %d workers", env.OldQueues.Size(), config.Workers)
    }

    m := &Marker{
        config: config,
        heap: env.Heap,
        ctx: env.Context,
        rset: env.RememberedSet,
        census: env.Census,
        queues: NewQueueSet(config.Workers, config.QueueCapacity),
        oldQueues: env.OldQueues,
        satb: env.SATB,
        yielder: env.Yielder,
        term: terminator{workers: int32(config.Workers)},
    }

    if config.Continuations {
        m.stacks, _ = env.Heap.(StackChunks)
    }
    if config.Dedup != DedupDisabled {
        m.strings, _ = env.Heap.(Strings)
        assertf(m.strings != nil, "string dedup needs a heap with string support")
        assertf(env.DedupSink != nil, "string dedup needs a request sink")
    }

    if config.Generation == NonGen {
        m.markThrough = m.markNonGenerational
    } else {
        m.markThrough = m.markGenerational
    }

    m.workers = make([]*worker, config.Workers)
    for i := range m.workers {
        w := &worker{
            id: i,
            m: m,
            q: m.queues.Queue(i),
            live: make([]uint16, env.Heap.NumRegions()),
            rnd: rand.New(rand.NewSource(int64(i) + 1)),
        }
        if m.oldQueues != nil {
            w.oldQ = m.oldQueues.Queue(i)
        }
        if config.Dedup != DedupDisabled {
            w.dedup = NewDedupRequests(m.strings, env.DedupSink)
        }
        w.cl.w = w
        m.workers[i] = w
    }

    return m
}

func (m *Marker) Config() Config {
    return m.config
}

// The queue set this marker drains; a young marker running beside old
// marking is handed the old marker's set as Env.OldQueues.
//
func (m *Marker) Queues() *QueueSet {
    return m.queues
}

func (m *Marker) TaskQueueCount() int {
    return m.queues.Size()
}

// Mark through each root slot, spreading the resulting tasks across the
// worker queues.  Call before any worker starts draining.
//
func (m *Marker) EnqueueInitialRoots(roots []Address) {
    m.enqueueRoots(roots, false)
}

// As EnqueueInitialRoots, for slots reached only through a weak reference
// such as a finalizable referent.  Everything found solely through them is
// marked weak.
//
func (m *Marker) EnqueueWeakRoots(roots []Address) {
    m.enqueueRoots(roots, true)
}

func (m *Marker) enqueueRoots(roots []Address, weak bool) {
    for i, slot := range roots {
        w := m.workers[i % len(m.workers)]
        m.markThroughRef(slot, w.q, w.oldQ, weak)
    }
}

// Request that workers stop at their next task boundary.  Tasks in flight
// complete; nothing is rolled back.
//
func (m *Marker) Cancel() {
    m.cancelled.Store(true)
}

func (m *Marker) IsCancelled() bool {
    return m.cancelled.Load()
}

// Process tasks for one worker until it can find no more, or until it is
// cancelled or asked to yield.  Returns true if it stopped with work
// possibly remaining, false if it ran dry.  Running dry does not mean
// marking is done; other workers may still be producing work.
//
func (m *Marker) Drain(worker int) bool {
    w := m.workers[worker]
    m.draining.Add(1)
    defer m.draining.Add(-1)
    for {
        if m.cancelled.Load() {
            return true
        }
        if m.yielder != nil && m.yielder.ShouldYield(worker) {
            return true
        }
        t, ok := w.next()
        if !ok {
            return false
        }
        w.doTask(t)
    }
}

// True when no queue holds a task, no SATB buffer is pending and no worker
// is inside Drain.
//
func (m *Marker) Finished() bool {
    return m.draining.Load() == 0 && !m.workAvailable()
}

func (m *Marker) workAvailable() bool {
    return !m.queues.IsEmpty() || (m.satb != nil && !m.satb.IsEmpty())
}

// Push one worker's cached live words to the regions and hand off its
// pending dedup requests.  Call once the worker is done for the cycle.
//
func (m *Marker) FlushLiveData(worker int) {
    w := m.workers[worker]
    for idx, words := range w.live {
        if words != 0 {
            m.heap.Region(idx).IncreaseLiveWords(int(words))
            w.live[idx] = 0
        }
    }
    if w.dedup != nil {
        w.dedup.Flush()
    }
}

// Run every worker on its own goroutine until marking terminates or is
// cancelled, then flush liveness.
//
func (m *Marker) Run() Stats {
    var wg sync.WaitGroup
    wg.Add(len(m.workers))
    for i := range m.workers {
        go func(id int) {
            m.runWorker(id)
            wg.Done()
        }(i)
    }
    wg.Wait()
    stats := m.Stats()
    log.Printf("%v mark with %d workers: %d tasks, %d chunk tasks, %d steals, %d marked%s",
               m.config.Generation, len(m.workers), stats.Tasks, stats.ChunkTasks, stats.Steals,
               m.ctx.MarkedCount(), cancelNote(m.cancelled.Load()))
    return stats
}

func cancelNote(cancelled bool) string {
    if cancelled {
        return " (cancelled)"
    }
    return ""
}

func (m *Marker) runWorker(id int) {
    for {
        if m.Drain(id) {
            if m.cancelled.Load() {
                break
            }
            if m.yielder != nil {
                m.yielder.Yield(id)
            }
            continue
        }
        if m.term.offer(m) {
            break
        }
    }
    m.FlushLiveData(id)
}

// Sum of per-worker counters.  Only meaningful once workers are idle.
//
func (m *Marker) Stats() Stats {
    var total Stats
    for _, w := range m.workers {
        total.Tasks += w.stats.Tasks
        total.ChunkTasks += w.stats.ChunkTasks
        total.Steals += w.stats.Steals
        total.SATBEntries += w.stats.SATBEntries
    }
    return total
}

// Next task for a worker: own queue, then SATB buffers, then stealing.
//
func (w *worker) next() (Task, bool) {
    for {
        if t, ok := w.q.Pop(); ok {
            return t, true
        }
        if w.m.satb != nil && w.drainSATB() {
            continue
        }
        if t, ok := w.m.queues.Steal(w.id, w.rnd); ok {
            w.stats.Steals++
            return t, true
        }
        return 0, false
    }
}

func (w *worker) push(t Task) {
    if pushed := w.q.Push(t); checked && !pushed {
        fail("overflow queue should always succeed pushing %s", describe(t))
    }
}

// Apply one task: scan a plain object, start or continue chunked scanning
// of an object array, and count liveness for whole objects.
//
func (w *worker) doTask(t Task) {
    m := w.m
    obj := t.Obj()
    if checked && !m.ctx.IsMarked(obj) {
        fail("task for unmarked object %s", describe(t))
    }

    w.stats.Tasks++
    weak := t.IsWeak()
    w.cl.SetWeak(weak)

    if t.IsNotChunked() {
        kind := m.heap.Kind(obj)
        switch {
            case kind.IsInstance():
                if m.stacks != nil && m.stacks.RelativizeStackChunk(obj) {
                    // stack chunks can't mix weak and strong marking
                    w.cl.SetWeak(false)
                }
                m.heap.OopIterate(obj, &w.cl)
                w.dedupString(obj)
            case kind == KindObjArray:
                // first visit; split it up rather than scan it whole
                w.doChunkedArrayStart(obj, weak)
            default:
                if checked && kind != KindTypeArray {
                    fail("unexpected %v object at %v", kind, obj)
                }
        }
        // after child work is pushed
        if t.CountLiveness() {
            w.countLiveness(obj)
        }
    } else {
        w.stats.ChunkTasks++
        w.doChunkedArray(obj, t.Chunk(), t.Pow(), weak)
    }
}

// The marking visitor.  One per worker, reused across tasks; the weak flag
// is reset from each task.
//
type closure struct {
    w *worker
    weak bool
}

func (cl *closure) SetWeak(weak bool) {
    cl.weak = weak
}

func (cl *closure) IsWeak() bool {
    return cl.weak
}

func (cl *closure) VisitReference(slot Address) {
    w := cl.w
    w.m.markThroughRef(slot, w.q, w.oldQ, cl.weak)
}

func (cl *closure) DoMetadata() bool {
    return cl.w.m.config.VisitMetadata
}

func (cl *closure) VisitMetadata(obj Address) {
    if slot := cl.w.m.heap.MetadataSlot(obj); slot != 0 {
        cl.VisitReference(slot)
    }
}
