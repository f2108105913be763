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
    "sync/atomic"
)

// Per-cycle mark bitmap over [base, base+size): two bits per heap word, one
// strong and one weak, packed 32 words to a uint64 so a single CAS covers
// both bits of an object.
//
type MarkingContext struct {
    base Address
    words int
    bitmap []atomic.Uint64
}

func NewMarkingContext(base Address, sizeBytes int) *MarkingContext {
    words := sizeBytes >> LogWordSize
    return &MarkingContext{
        base: base,
        words: words,
        bitmap: make([]atomic.Uint64, (words * 2 + 63) / 64),
    }
}

// Clear all marks for a new cycle.
//
func (ctx *MarkingContext) Reset() {
    for i := range ctx.bitmap {
        ctx.bitmap[i].Store(0)
    }
}

// Return the bitmap word and the strong bit for obj; the weak bit is the
// next one up.
//
func (ctx *MarkingContext) bitFor(obj Address) (*atomic.Uint64, uint64) {
    if checked && (obj < ctx.base || obj & (WordSize - 1) != 0) {
        fail("object %v not a word in marked range at %v", obj, ctx.base)
    }
    index := int(obj - ctx.base) >> LogWordSize
    if checked && index >= ctx.words {
        fail("object %v beyond marked range of %d words", obj, ctx.words)
    }
    bit := uint(index * 2)
    return &ctx.bitmap[bit / 64], uint64(1) << (bit % 64)
}

// Mark obj strong.  Returns true if this call set the strong bit, and
// whether the object had already been marked weak (an upgrade, whose
// liveness was already counted).
//
func (ctx *MarkingContext) MarkStrong(obj Address) (marked bool, upgraded bool) {
    word, strong := ctx.bitFor(obj)
    weak := strong << 1
    for {
        old := word.Load()
        if old & strong != 0 {
            return false, false
        }
        if word.CompareAndSwap(old, old | strong) {
            return true, old & weak != 0
        }
    }
}

// Mark obj weak.  Returns true if this call marked it; false if it was
// already marked either way.
//
func (ctx *MarkingContext) MarkWeak(obj Address) bool {
    word, strong := ctx.bitFor(obj)
    weak := strong << 1
    for {
        old := word.Load()
        if old & (strong | weak) != 0 {
            return false
        }
        if word.CompareAndSwap(old, old | weak) {
            return true
        }
    }
}

func (ctx *MarkingContext) IsMarked(obj Address) bool {
    word, strong := ctx.bitFor(obj)
    return word.Load() & (strong | strong << 1) != 0
}

func (ctx *MarkingContext) IsMarkedStrong(obj Address) bool {
    word, strong := ctx.bitFor(obj)
    return word.Load() & strong != 0
}

// Marked weak and only weak.
//
func (ctx *MarkingContext) IsMarkedWeak(obj Address) bool {
    word, strong := ctx.bitFor(obj)
    return word.Load() & (strong | strong << 1) == strong << 1
}

// Number of marked objects, strong or weak.
//
func (ctx *MarkingContext) MarkedCount() int {
    const evens = 0x5555555555555555
    count := 0
    for i := range ctx.bitmap {
        w := ctx.bitmap[i].Load()
        count += bits.OnesCount64((w | w >> 1) & evens)
    }
    return count
}
