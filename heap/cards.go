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
    "sync/atomic"

    "github.com/jonross/regionmark/mark"
)

// A card table over the heap, one dirty flag per card.  It is the
// remembered set the generational markers report old-to-young pointers to.
//
type CardTable struct {
    base mark.Address
    cardShift uint
    cards []uint32
}

func NewCardTable(base mark.Address, cardBytes int) *CardTable {
    return &CardTable{base: base, cardShift: uint(log2(cardBytes))}
}

// Grow the table to cover the heap up to end.  Not safe while marking is
// running.
//
func (ct *CardTable) Cover(end mark.Address) {
    n := int((end - ct.base) >> ct.cardShift)
    if n > len(ct.cards) {
        ct.cards = append(ct.cards, make([]uint32, n - len(ct.cards))...)
    }
}

func (ct *CardTable) CardBytes() int {
    return 1 << ct.cardShift
}

func (ct *CardTable) cardIndex(slot mark.Address) int {
    index := int((slot - ct.base) >> ct.cardShift)
    if slot < ct.base || index >= len(ct.cards) {
        return -1
    }
    return index
}

// Dirty the card covering slot; off-heap slots have no card.
//
func (ct *CardTable) MarkCardDirty(slot mark.Address) {
    if i := ct.cardIndex(slot); i >= 0 {
        atomic.StoreUint32(&ct.cards[i], 1)
    }
}

func (ct *CardTable) IsDirty(slot mark.Address) bool {
    i := ct.cardIndex(slot)
    return i >= 0 && atomic.LoadUint32(&ct.cards[i]) != 0
}

// Start address of every dirty card, ascending.
//
func (ct *CardTable) DirtyCards() []mark.Address {
    var dirty []mark.Address
    for i := range ct.cards {
        if atomic.LoadUint32(&ct.cards[i]) != 0 {
            dirty = append(dirty, ct.base + mark.Address(i) << ct.cardShift)
        }
    }
    return dirty
}

func (ct *CardTable) Clear() {
    for i := range ct.cards {
        atomic.StoreUint32(&ct.cards[i], 0)
    }
}
