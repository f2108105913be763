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

package heap

import (
    "fmt"
    "log"

    "github.com/jonross/regionmark/mark"
    "github.com/jonross/regionmark/util"
)

// The objects reachable from a set of root slots, found by a plain
// sequential walk.  A parallel marking from the same roots should agree
// with it exactly.
//
type GCRoots struct {
    heap *Heap
    // one bit per heap word, set at object starts
    live util.BitSet
    // How many are live
    numLive int
    // live words per region, as marking should account them
    regionLive []int
}

// Walk everything reachable from roots.  With metadata set, class mirrors
// are followed as marking does when it visits metadata.
//
func FindLiveObjects(h *Heap, roots []mark.Address, metadata bool) *GCRoots {
    gcr := &GCRoots{
        heap: h,
        live: util.MakeBitSet(h.SizeBytes() / mark.WordSize),
        regionLive: make([]int, h.NumRegions()),
    }
    walker := &rootWalker{gcr: gcr, metadata: metadata, stack: make([]mark.Address, 0, 10000)}
    for _, slot := range roots {
        walker.VisitReference(slot)
    }
    // explicit stack; object graphs get deep
    for {
        top := len(walker.stack) - 1
        if top < 0 {
            break
        }
        obj := walker.stack[top]
        walker.stack = walker.stack[:top]
        // primitive arrays hold nothing, not even their class
        if h.Kind(obj) != mark.KindTypeArray {
            h.OopIterate(obj, walker)
        }
    }
    log.Printf("%d objects reachable from %d roots\n", gcr.numLive, len(roots))
    return gcr
}

func (gcr *GCRoots) bit(obj mark.Address) int {
    return int(obj - HeapBase) >> mark.LogWordSize
}

func (gcr *GCRoots) IsLive(obj mark.Address) bool {
    return gcr.live.Has(gcr.bit(obj))
}

func (gcr *GCRoots) NumLive() int {
    return gcr.numLive
}

// Live words each region should have been credited with.
//
func (gcr *GCRoots) RegionLiveWords() []int {
    return gcr.regionLive
}

func (gcr *GCRoots) add(obj mark.Address) bool {
    i := gcr.bit(obj)
    if gcr.live.Has(i) {
        return false
    }
    gcr.live.Set(i)
    gcr.numLive++
    h := gcr.heap
    idx := h.RegionIndex(obj)
    size := h.SizeWords(obj)
    if h.regions[idx].IsHumongousStart() {
        for j := idx; j < idx + h.RequiredRegions(size); j++ {
            gcr.regionLive[j] += h.regions[j].UsedWords()
        }
    } else {
        gcr.regionLive[idx] += size
    }
    return true
}

// Compare a finished marking with the walk: every reachable object marked,
// nothing else marked, and region live data matching.  Returns an error
// describing the first few differences.
//
func (gcr *GCRoots) Verify(ctx *mark.MarkingContext) error {
    h := gcr.heap
    var problems []string
    report := func(format string, args ...interface{}) {
        if len(problems) < 10 {
            problems = append(problems, fmt.Sprintf(format, args...))
        } else if len(problems) == 10 {
            problems = append(problems, "...")
        }
    }
    h.Objects(func(obj mark.Address) {
        live, marked := gcr.IsLive(obj), ctx.IsMarked(obj)
        if live && !marked {
            report("reachable %s at %v not marked", h.ClassOf(obj).Name, obj)
        } else if marked && !live {
            report("unreachable %s at %v marked", h.ClassOf(obj).Name, obj)
        }
    })
    for i, r := range h.regions {
        if r.LiveWords() != gcr.regionLive[i] {
            report("region %d has %d live words, expected %d", i, r.LiveWords(), gcr.regionLive[i])
        }
    }
    if len(problems) > 0 {
        return fmt.Errorf("marking disagrees with reachability: %v", problems)
    }
    return nil
}

// FieldVisitor for the walk.
//
type rootWalker struct {
    gcr *GCRoots
    metadata bool
    stack []mark.Address
}

func (w *rootWalker) SetWeak(weak bool) {}

func (w *rootWalker) IsWeak() bool {
    return false
}

func (w *rootWalker) VisitReference(slot mark.Address) {
    obj := w.gcr.heap.LoadRef(slot)
    if obj != 0 && w.gcr.add(obj) {
        w.stack = append(w.stack, obj)
    }
}

func (w *rootWalker) DoMetadata() bool {
    return w.metadata
}

func (w *rootWalker) VisitMetadata(obj mark.Address) {
    if slot := w.gcr.heap.MetadataSlot(obj); slot != 0 {
        w.VisitReference(slot)
    }
}
