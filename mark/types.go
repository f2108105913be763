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

// Package mark is the concurrent mark phase of a region-based tracing
// collector.  Workers drain per-worker task queues, route each reference they
// find by generation, split large object arrays into bounded chunks and
// account live words per heap region.  The heap itself is reached only
// through the interfaces in this file.
//
package mark

import (
    "fmt"
)

// Byte address of a heap word; always 8-byte aligned.  Zero is null.
//
type Address uint64

const (
    WordSize = 8
    LogWordSize = 3
)

func (a Address) String() string {
    return fmt.Sprintf("%#x", uint64(a))
}

// Object shapes the marker dispatches on.
//
type Kind int

const (
    KindInstance Kind = iota
    KindObjArray
    KindTypeArray
    KindStackChunk
    KindString
)

var kindNames = []string{"instance", "objArray", "typeArray", "stackChunk", "string"}

func (k Kind) String() string {
    if k >= 0 && int(k) < len(kindNames) {
        return kindNames[k]
    }
    return fmt.Sprintf("Kind(%d)", int(k))
}

// Plain instances, stack chunks and strings all have their fields iterated
// as a whole.
//
func (k Kind) IsInstance() bool {
    return k == KindInstance || k == KindStackChunk || k == KindString
}

// Which part of the heap a marker is working on.
//
type Generation int

const (
    NonGen Generation = iota
    Global
    Young
    Old
)

var generationNames = []string{"nongen", "global", "young", "old"}

func (g Generation) String() string {
    if g >= 0 && int(g) < len(generationNames) {
        return generationNames[g]
    }
    return fmt.Sprintf("Generation(%d)", int(g))
}

// Parse a generation name as printed by String.
//
func ParseGeneration(name string) (Generation, error) {
    for i, n := range generationNames {
        if n == name {
            return Generation(i), nil
        }
    }
    return NonGen, fmt.Errorf("unknown generation %q", name)
}

// One heap region as seen by the liveness accumulator and the router.
//
type Region interface {
    Index() int
    IsHumongousStart() bool
    // true for both humongous start and continuation regions
    IsHumongous() bool
    IsYoung() bool
    IsOld() bool
    IsAffiliated() bool
    Age() int
    UsedWords() int
    // Add to the authoritative live word count; safe for concurrent use.
    IncreaseLiveWords(words int)
}

// Everything the marker needs to know about the heap and its objects.
//
type Heap interface {
    // Is p inside the heap proper (not a root or buffer slot).
    IsIn(p Address) bool
    RegionIndex(obj Address) int
    Region(index int) Region
    NumRegions() int
    // How many regions a humongous object of this many words spans.
    RequiredRegions(words int) int

    // Load and decode the reference held in slot; 0 if null.
    LoadRef(slot Address) Address

    Kind(obj Address) Kind
    SizeWords(obj Address) int
    ArrayLength(obj Address) int
    Age(obj Address) int
    // Off-heap slot holding the reference that keeps obj's class alive, or
    // 0 if there is none.
    MetadataSlot(obj Address) Address

    // Visit the metadata (if the visitor asks for it) and every reference
    // field of an object.
    OopIterate(obj Address, v FieldVisitor)
    // Visit the element slots [from, to) of an object array, no metadata.
    OopIterateRange(array Address, v FieldVisitor, from, to int)
}

// Optional Heap capability for heaps with relocatable stack chunks.
//
type StackChunks interface {
    // Returns true if obj is a stack chunk, relativizing it if needed.
    RelativizeStackChunk(obj Address) bool
}

// Optional Heap capability needed for string deduplication.
//
type Strings interface {
    IsStringCandidate(obj Address) bool
    DedupRequested(obj Address) bool
    // Set the requested flag; true if this call set it.
    TrySetDedupRequested(obj Address) bool
    // Atomically bump the object's age if it is below max; returns the new
    // age and whether this call bumped it.
    IncrementAge(obj Address, max int) (int, bool)
}

// Reference field visitor handed to the object model for each task.
//
type FieldVisitor interface {
    SetWeak(weak bool)
    IsWeak() bool
    VisitReference(slot Address)
    DoMetadata() bool
    // Visit class metadata for obj; only called when DoMetadata is true.
    VisitMetadata(obj Address)
}

// Remembered set for old-to-young pointers.
//
type RememberedSet interface {
    MarkCardDirty(slot Address)
}

// Sink for string deduplication requests.
//
type DedupSink interface {
    Add(obj Address)
}

// Statistics sink for young object ages.
//
type AgeCensus interface {
    Add(age, regionAge, words, worker int)
}
