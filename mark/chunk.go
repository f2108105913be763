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
    "math/bits"
)

// Smallest power of two >= n, as an exponent.  n must be > 0.
//
func log2Ceil(n int) int {
    if n <= 1 {
        return 0
    }
    return bits.Len(uint(n - 1))
}

// First visit to an object array.  Short arrays are scanned in place.
// Longer ones are cut into full power-of-two chunks which go on the queue,
// so that later chunk tasks never need to check the array length; whatever
// doesn't fill a chunk (the irregular tail) is scanned here.
//
func (w *worker) doChunkedArrayStart(array Address, weak bool) {
    m := w.m
    h := m.heap
    if checked && h.Kind(array) != KindObjArray {
        fail("chunked start on %v object %v", h.Kind(array), array)
    }
    length := h.ArrayLength(array)
    stride := m.config.Stride

    if w.cl.DoMetadata() {
        w.cl.VisitMetadata(array)
    }

    if length <= stride * 2 {
        // a few slices only
        h.OopIterateRange(array, &w.cl, 0, length)
        return
    }

    // Cover the array in excess with one chunk of 2^pow elements, then
    // keep halving.
    pow := log2Ceil(length)
    if checked && pow > PowMax {
        fail("array %v of length %d too long to chunk", array, length)
    }

    lastIdx := 0
    chunk := 1

    if pow == PowMax {
        // chunk 1 at 2^31 would overflow 32-bit element indexes; start one
        // level down with chunk 1 already pushed
        pow--
        chunk = 2
        lastIdx = 1 << uint(pow)
        w.push(NewChunkTask(array, true, weak, 1, pow))
    }

    // Push full left halves, keep the right half, and remember where the
    // last pushed chunk ended.
    for 1 << uint(pow) > stride && chunk * 2 < ChunkSize {
        pow--
        left := chunk * 2 - 1
        right := chunk * 2
        leftEnd := left * (1 << uint(pow))
        if leftEnd < length {
            w.push(NewChunkTask(array, true, weak, left, pow))
            chunk = right
            lastIdx = leftEnd
        } else {
            chunk = left
        }
    }

    if lastIdx < length {
        h.OopIterateRange(array, &w.cl, lastIdx, length)
    }
}

// Scan one chunk of an object array, first splitting off halves for other
// workers while the chunk is still bigger than the stride.  Splitting is
// lazy: a chunk is only refined as deep as whoever pops it needs.
//
func (w *worker) doChunkedArray(array Address, chunk int, pow int, weak bool) {
    m := w.m
    h := m.heap
    stride := m.config.Stride
    if checked && h.Kind(array) != KindObjArray {
        fail("chunk task on %v object %v", h.Kind(array), array)
    }

    for 1 << uint(pow) > stride && chunk * 2 < ChunkSize {
        pow--
        chunk *= 2
        // upper half goes back on the queue, lower half stays here
        w.push(NewChunkTask(array, true, weak, chunk, pow))
        chunk--
    }

    size := 1 << uint(pow)
    from := (chunk - 1) * size
    to := chunk * size

    if checked {
        length := h.ArrayLength(array)
        if from < 0 || from >= length {
            fail("chunk %d/2^%d of %v: from %d outside length %d", chunk, pow, array, from, length)
        }
        if to <= 0 || to > length {
            fail("chunk %d/2^%d of %v: to %d outside length %d", chunk, pow, array, to, length)
        }
    }

    h.OopIterateRange(array, &w.cl, from, to)
}
