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
    "log"
    "sync"
    "sync/atomic"

    "github.com/jonross/regionmark/mark"
    "github.com/jonross/regionmark/util"
)

// For accumulating references from instance and array dumps.  We know the
// slot holding each reference but not the address of its target, because
// targets may appear later in the dump.
//
type RefBag struct {
    slots [][]mark.Address
    to [][]HeapId
    count int
}

const refBagChunk = 100000

// Add a reference.
//
func (refs *RefBag) Add(slot mark.Address, to HeapId) {
    if refs.count == 0 {
        refs.slots = [][]mark.Address{make([]mark.Address, 0, refBagChunk)}
        refs.to = [][]HeapId{make([]HeapId, 0, refBagChunk)}
    }
    refs.slots = util.Append(refs.slots, slot)
    refs.to = util.Append(refs.to, to)
    refs.count++
}

func (refs *RefBag) Len() int {
    return refs.count
}

// Resolve every reference in the bag and store it into its slot, a chunk
// per goroutine.  Returns the number of targets the resolver couldn't find;
// those slots stay null.  The bag should be discarded afterward to save
// memory.
//
func (refs *RefBag) Resolve(h *Heap, resolver func(HeapId) mark.Address) int {

    log.Printf("Resolving %d references\n", refs.count)

    var wg sync.WaitGroup
    var missing atomic.Int64

    wg.Add(len(refs.slots))
    for i := range refs.slots {
        go func(slots []mark.Address, to []HeapId) {
            for j, slot := range slots {
                target := resolver(to[j])
                if target == 0 {
                    missing.Add(1)
                    continue
                }
                h.StoreRef(slot, target)
            }
            wg.Done()
        }(refs.slots[i], refs.to[i])
    }

    wg.Wait()
    return int(missing.Load())
}
