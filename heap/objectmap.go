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
    "sync"

    "github.com/jonross/regionmark/mark"
)

// Maps native heap ids from a dump to the addresses the objects were given
// in the simulated heap.  Ids are bucketed by their high bits, each bucket
// mapping the low 16 bits.  Buckets collect (id, address) pairs cheaply while
// the dump is read, and are turned into maps in parallel by PostProcess.
//
type ObjectMap struct {
    slots map[HeapId]*omSlot
    count int
}

type omSlot struct {
    // Start by just saving the heap ids
    heapIds []uint16
    // and addresses
    addrs []mark.Address
    // and later we'll put them in a map
    mapping map[uint16]mark.Address
}

func NewObjectMap() *ObjectMap {
    return &ObjectMap{slots: make(map[HeapId]*omSlot, 1 << 10)}
}

func (m *ObjectMap) Add(hid HeapId, addr mark.Address) {
    index := hid >> 16
    slot := m.slots[index]
    if slot == nil {
        slot = &omSlot{}
        m.slots[index] = slot
    }
    slot.heapIds = append(slot.heapIds, uint16(hid & 0xFFFF))
    slot.addrs = append(slot.addrs, addr)
    m.count++
}

func (m *ObjectMap) Len() int {
    return m.count
}

// Build the lookup maps.  Call once, after the last Add and before any Get.
//
func (m *ObjectMap) PostProcess() {
    var wg sync.WaitGroup
    for _, slot := range m.slots {
        wg.Add(1)
        go func(slot *omSlot) {
            slot.mapping = make(map[uint16]mark.Address, len(slot.heapIds))
            for i, hid := range slot.heapIds {
                slot.mapping[hid] = slot.addrs[i]
            }
            slot.heapIds = nil
            slot.addrs = nil
            wg.Done()
        }(slot)
    }
    wg.Wait()
}

// Address for a heap id, or 0 if the dump held no such object.  Safe for
// concurrent use after PostProcess.
//
func (m *ObjectMap) Get(hid HeapId) mark.Address {
    slot := m.slots[hid >> 16]
    if slot != nil {
        return slot.mapping[uint16(hid & 0xFFFF)]
    }
    return 0
}
