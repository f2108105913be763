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

// This package is a simulated region heap: fixed-size regions with their
// own word storage, young and old affiliation, humongous objects spanning
// regions, compressed or raw references and a card table.  It implements
// the interfaces the marker consumes, and can be populated from an HPROF
// heap dump.
//
package heap

import (
    "fmt"
    "log"
    "sync/atomic"

    "github.com/jonross/regionmark/mark"
)

const (
    // Start of the heap proper.
    HeapBase = mark.Address(1 << 32)
    // Start of off-heap slots (roots, class mirrors); well below HeapBase.
    RootBase = mark.Address(1 << 20)
    // Words in an object header: header word plus size/length word.
    HeaderWords = 2
    // Compressed references count words from here, so an object at
    // HeapBase doesn't encode as null.
    narrowBase = HeapBase - mark.WordSize
)

type Config struct {
    // words per region, a power of two
    RegionWords int
    // store references as 32-bit word offsets
    Compressed bool
    // bytes covered by one card, a power of two
    CardBytes int
}

func DefaultConfig() Config {
    return Config{RegionWords: 1 << 15, Compressed: true, CardBytes: 512}
}

type Heap struct {
    config Config
    // log2 of region size in bytes
    regionShift uint
    regions []*Region
    // current allocation region per affiliation, or nil
    allocRegions [numAffiliations]*Region
    // reference codec, fixed at construction
    encode func(mark.Address) uint64
    decode func(uint64) mark.Address
    // off-heap slots
    roots []uint64
    // which off-heap slots are GC roots, as opposed to mirror handles
    rootSlots []mark.Address
    *Classes
    Cards *CardTable
}

func New(config Config) *Heap {
    if config.RegionWords <= 0 || config.RegionWords & (config.RegionWords - 1) != 0 {
        log.Fatalf("Region size %d words is not a power of two\n", config.RegionWords)
    }
    if config.CardBytes <= 0 || config.CardBytes & (config.CardBytes - 1) != 0 {
        log.Fatalf("Card size %d bytes is not a power of two\n", config.CardBytes)
    }
    h := &Heap{
        config: config,
        regionShift: uint(log2(config.RegionWords * mark.WordSize)),
        Cards: NewCardTable(HeapBase, config.CardBytes),
    }
    if config.Compressed {
        h.encode = encodeNarrow
        h.decode = decodeNarrow
    } else {
        h.encode = encodeWide
        h.decode = decodeWide
    }
    h.Classes = newClasses(h)
    return h
}

func log2(n int) int {
    k := 0
    for n > 1 {
        n >>= 1
        k++
    }
    return k
}

func encodeNarrow(addr mark.Address) uint64 {
    if addr == 0 {
        return 0
    }
    narrow := uint64(addr - narrowBase) >> mark.LogWordSize
    if narrow > 0xFFFFFFFF {
        log.Fatalf("Address %v out of compressed reference range\n", addr)
    }
    return narrow
}

func decodeNarrow(word uint64) mark.Address {
    narrow := uint32(word)
    if narrow == 0 {
        return 0
    }
    return narrowBase + mark.Address(narrow) << mark.LogWordSize
}

func encodeWide(addr mark.Address) uint64 {
    return uint64(addr)
}

func decodeWide(word uint64) mark.Address {
    return mark.Address(word)
}

func (h *Heap) Config() Config {
    return h.config
}

func (h *Heap) RegionWords() int {
    return h.config.RegionWords
}

// One past the last heap byte.
//
func (h *Heap) End() mark.Address {
    return HeapBase + mark.Address(len(h.regions)) << h.regionShift
}

func (h *Heap) SizeBytes() int {
    return len(h.regions) << h.regionShift
}

func (h *Heap) Regions() []*Region {
    return h.regions
}

//////////////////////////////////////////////////////////////////////////////////////////
// mark.Heap

func (h *Heap) IsIn(p mark.Address) bool {
    return p >= HeapBase && p < h.End()
}

func (h *Heap) RegionIndex(obj mark.Address) int {
    return int((obj - HeapBase) >> h.regionShift)
}

func (h *Heap) Region(index int) mark.Region {
    return h.regions[index]
}

func (h *Heap) NumRegions() int {
    return len(h.regions)
}

func (h *Heap) RequiredRegions(words int) int {
    return (words + h.config.RegionWords - 1) / h.config.RegionWords
}

func (h *Heap) LoadRef(slot mark.Address) mark.Address {
    if slot >= HeapBase {
        return h.decode(atomic.LoadUint64(h.word(slot)))
    }
    return mark.Address(atomic.LoadUint64(h.rootWord(slot)))
}

func (h *Heap) Kind(obj mark.Address) mark.Kind {
    return h.ClassOf(obj).Kind
}

func (h *Heap) SizeWords(obj mark.Address) int {
    class := h.ClassOf(obj)
    n := int(h.load(obj + mark.WordSize))
    switch class.Kind {
        case mark.KindObjArray:
            return HeaderWords + n
        case mark.KindTypeArray:
            return HeaderWords + (n * int(class.Elem.Size) + mark.WordSize - 1) / mark.WordSize
    }
    return n
}

func (h *Heap) ArrayLength(obj mark.Address) int {
    return int(h.load(obj + mark.WordSize))
}

func (h *Heap) Age(obj mark.Address) int {
    return headerAge(h.load(obj))
}

func (h *Heap) MetadataSlot(obj mark.Address) mark.Address {
    return h.ClassOf(obj).mirrorSlot
}

func (h *Heap) OopIterate(obj mark.Address, v mark.FieldVisitor) {
    class := h.ClassOf(obj)
    if v.DoMetadata() {
        v.VisitMetadata(obj)
    }
    switch class.Kind {
        case mark.KindObjArray:
            h.OopIterateRange(obj, v, 0, h.ArrayLength(obj))
        case mark.KindTypeArray:
            // no references
        case mark.KindStackChunk:
            for i, n := 0, h.numFields(obj); i < n; i++ {
                v.VisitReference(h.FieldSlot(obj, i))
            }
        default:
            for _, i := range class.refIndexes {
                v.VisitReference(h.FieldSlot(obj, i))
            }
    }
}

func (h *Heap) OopIterateRange(array mark.Address, v mark.FieldVisitor, from, to int) {
    for i := from; i < to; i++ {
        v.VisitReference(h.ElementSlot(array, i))
    }
}

//////////////////////////////////////////////////////////////////////////////////////////
// raw word access

func (h *Heap) word(addr mark.Address) *uint64 {
    offset := addr - HeapBase
    r := h.regions[int(offset >> h.regionShift)]
    return &r.mem[int(offset & (1 << h.regionShift - 1)) >> mark.LogWordSize]
}

func (h *Heap) load(addr mark.Address) uint64 {
    return atomic.LoadUint64(h.word(addr))
}

func (h *Heap) store(addr mark.Address, value uint64) {
    atomic.StoreUint64(h.word(addr), value)
}

func (h *Heap) rootWord(slot mark.Address) *uint64 {
    index := int(slot - RootBase) >> mark.LogWordSize
    if slot < RootBase || index >= len(h.roots) {
        log.Fatalf("Bad off-heap slot %v\n", slot)
    }
    return &h.roots[index]
}

// Store a reference into a heap or off-heap slot.
//
func (h *Heap) StoreRef(slot mark.Address, target mark.Address) {
    if target != 0 && !h.IsIn(target) {
        log.Fatalf("Storing %v outside the heap into %v\n", target, slot)
    }
    if slot >= HeapBase {
        h.store(slot, h.encode(target))
    } else {
        atomic.StoreUint64(h.rootWord(slot), uint64(target))
    }
}

// Allocate an off-heap slot.  Not safe while marking is running.
//
func (h *Heap) newSlot(target mark.Address) mark.Address {
    slot := RootBase + mark.Address(len(h.roots)) << mark.LogWordSize
    if slot >= HeapBase {
        log.Fatalf("Out of off-heap slots\n")
    }
    h.roots = append(h.roots, 0)
    h.StoreRef(slot, target)
    return slot
}

// Make target a GC root; returns its root slot.
//
func (h *Heap) AddRoot(target mark.Address) mark.Address {
    slot := h.newSlot(target)
    h.rootSlots = append(h.rootSlots, slot)
    return slot
}

// Root slots, in the order added.
//
func (h *Heap) Roots() []mark.Address {
    return h.rootSlots
}

// Root slots plus class mirror handles: everything that keeps objects alive
// from outside the heap.
//
func (h *Heap) AllRoots() []mark.Address {
    all := append([]mark.Address{}, h.rootSlots...)
    for _, class := range h.Classes.All() {
        if class.mirrorSlot != 0 {
            all = append(all, class.mirrorSlot)
        }
    }
    return all
}

func (h *Heap) String() string {
    return fmt.Sprintf("heap %v-%v, %d regions of %d words, %d classes",
                       HeapBase, h.End(), len(h.regions), h.config.RegionWords, h.Classes.Count())
}
