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
    "io"
    "sort"

    "github.com/jonross/regionmark/mark"
)

// Report on the # of live instances of each class and the total byte count
// per class, a la 'jmap -histo:live', from a finished marking.
//
type Histo struct {
    // counts indexed by class ID
    counts []*ClassCount
}

type ClassCount struct {
    Name string
    Count int
    Bytes uint64
    // how many of Count were only reached weakly
    Weak int
}

// Support sort weirdness. :-(
//
type classCounts []*ClassCount
func (cc classCounts) Len() int { return len(cc) }
func (cc classCounts) Swap(i, j int) { cc[i], cc[j] = cc[j], cc[i] }

func (cc classCounts) Less(i, j int) bool {
    if cc[i].Bytes != cc[j].Bytes {
        return cc[i].Bytes > cc[j].Bytes
    }
    return cc[i].Name < cc[j].Name
}

// Tally every object the context marked.
//
func LiveHisto(h *Heap, ctx *mark.MarkingContext) *Histo {
    histo := &Histo{counts: make([]*ClassCount, h.Classes.Count() + 1)}
    h.Objects(func(obj mark.Address) {
        if ctx.IsMarked(obj) {
            histo.Add(h.ClassOf(obj), h.SizeWords(obj) * mark.WordSize, !ctx.IsMarkedStrong(obj))
        }
    })
    return histo
}

func (histo *Histo) Add(class *ClassDef, size int, weak bool) {
    slot := histo.counts[class.Cid]
    if slot == nil {
        slot = &ClassCount{Name: class.Name}
        histo.counts[class.Cid] = slot
    }
    slot.Count++
    slot.Bytes += uint64(size)
    if weak {
        slot.Weak++
    }
}

// Return count, bytes for a class.
//
func (histo *Histo) Counts(class *ClassDef) (int, uint64) {
    slot := histo.counts[class.Cid]
    if slot != nil {
        return slot.Count, slot.Bytes
    }
    return 0, 0
}

// Classes with live instances, biggest first.
//
func (histo *Histo) Sorted() []*ClassCount {
    // Some classes have no instances
    counts := []*ClassCount{}
    for _, slot := range histo.counts {
        if slot != nil {
            counts = append(counts, slot)
        }
    }
    sort.Sort(classCounts(counts))
    return counts
}

// Print the histogram.
//
func (histo *Histo) Print(out io.Writer) {

    totalCount := 0
    totalBytes := uint64(0)

    for _, slot := range histo.Sorted() {
        fmt.Fprintf(out, "%10d %10d %8d %s\n", slot.Count, slot.Bytes, slot.Weak, slot.Name)
        totalCount += slot.Count
        totalBytes += slot.Bytes
    }

    fmt.Fprintf(out, "%10d %10d          total\n", totalCount, totalBytes)
}
