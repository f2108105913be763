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
    "sync/atomic"

    "github.com/jonross/regionmark/mark"
)

// Header word layout.  The low bits are left clear, as for lock state.
//
//     bits 3-6     age
//     bit 7        string dedup requested
//     bit 8        stack chunk relativized
//     bits 32-63   class id
//
// The second header word is the instance size in words, or the array
// length.
//
const (
    ageShift = 3
    ageMask = uint64(0xF) << ageShift
    dedupRequestedBit = uint64(1) << 7
    relativizedBit = uint64(1) << 8
    classShift = 32
)

func makeHeader(class *ClassDef) uint64 {
    return uint64(class.Cid) << classShift
}

func headerAge(header uint64) int {
    return int((header & ageMask) >> ageShift)
}

func (h *Heap) ClassOf(obj mark.Address) *ClassDef {
    cid := ClassId(h.load(obj) >> classShift)
    if cid == 0 || int(cid) >= len(h.Classes.classes) {
        log.Fatalf("No class for object at %v, header %x\n", obj, h.load(obj))
    }
    return h.Classes.classes[cid]
}

// Bump-allocate words in the current region for the affiliation, opening a
// new region when it is full.  Anything bigger than a region is humongous
// and gets regions of its own.  Not safe while marking is running.
//
func (h *Heap) allocate(words int, affiliation Affiliation) mark.Address {
    if affiliation != Young && affiliation != Old {
        log.Fatalf("Can't allocate %d words as %v\n", words, affiliation)
    }
    if words > h.config.RegionWords {
        return h.allocateHumongous(words, affiliation)
    }
    r := h.allocRegions[affiliation]
    if r == nil || r.top + words > h.config.RegionWords {
        r = h.newRegion(RegionRegular, affiliation)
        h.allocRegions[affiliation] = r
    }
    obj := r.Top()
    r.top += words
    return obj
}

func (h *Heap) allocateHumongous(words int, affiliation Affiliation) mark.Address {
    count := h.RequiredRegions(words)
    var start *Region
    for i := 0; i < count; i++ {
        state := RegionHumongousCont
        if i == 0 {
            state = RegionHumongousStart
        }
        r := h.newRegion(state, affiliation)
        r.top = words
        if r.top > h.config.RegionWords {
            r.top = h.config.RegionWords
        }
        words -= r.top
        if start == nil {
            start = r
        }
    }
    return start.bottom
}

func (h *Heap) initObject(obj mark.Address, class *ClassDef, second int) {
    h.store(obj, makeHeader(class))
    h.store(obj + mark.WordSize, uint64(second))
}

// Allocate an instance of a class, all fields null.
//
func (h *Heap) NewInstance(class *ClassDef, affiliation Affiliation) mark.Address {
    if !class.Kind.IsInstance() || class.Kind == mark.KindStackChunk {
        log.Fatalf("NewInstance of %v class %s\n", class.Kind, class.Name)
    }
    words := HeaderWords + class.NumFields()
    obj := h.allocate(words, affiliation)
    h.initObject(obj, class, words)
    return obj
}

func (h *Heap) NewObjArray(length int, affiliation Affiliation) mark.Address {
    return h.NewObjArrayOf(h.Classes.ObjArray, length, affiliation)
}

// Allocate an object array of a specific array class.
//
func (h *Heap) NewObjArrayOf(class *ClassDef, length int, affiliation Affiliation) mark.Address {
    if class.Kind != mark.KindObjArray || length < 0 {
        log.Fatalf("Bad object array %s[%d]\n", class.Name, length)
    }
    obj := h.allocate(HeaderWords + length, affiliation)
    h.initObject(obj, class, length)
    return obj
}

// Allocate a primitive array; contents are zero and never read.
//
func (h *Heap) NewTypeArray(jtype *JType, length int, affiliation Affiliation) mark.Address {
    if jtype.IsObj || jtype.Class == nil || length < 0 {
        log.Fatalf("Bad primitive array %s[%d]\n", jtype.ArrayClass, length)
    }
    bytes := length * int(jtype.Size)
    obj := h.allocate(HeaderWords + (bytes + mark.WordSize - 1) / mark.WordSize, affiliation)
    h.initObject(obj, jtype.Class, length)
    return obj
}

// Allocate a string and its char array, both in the same generation.
//
func (h *Heap) NewString(s string, affiliation Affiliation) mark.Address {
    value := h.NewTypeArray(h.Classes.Jtypes[TypeChar], len(s), affiliation)
    str := h.NewInstance(h.Classes.String, affiliation)
    h.SetField(str, h.Classes.stringValue, value)
    return str
}

// Allocate a stack chunk with room for the given number of frame slots.
// Every slot may hold a reference.
//
func (h *Heap) NewStackChunk(slots int, affiliation Affiliation) mark.Address {
    words := HeaderWords + slots
    obj := h.allocate(words, affiliation)
    h.initObject(obj, h.Classes.StackChunk, words)
    return obj
}

// Number of field words in an instance.
//
func (h *Heap) numFields(obj mark.Address) int {
    return int(h.load(obj + mark.WordSize)) - HeaderWords
}

func (h *Heap) FieldSlot(obj mark.Address, i int) mark.Address {
    return obj + mark.Address(HeaderWords + i) << mark.LogWordSize
}

func (h *Heap) ElementSlot(array mark.Address, i int) mark.Address {
    return array + mark.Address(HeaderWords + i) << mark.LogWordSize
}

func (h *Heap) SetField(obj mark.Address, i int, target mark.Address) {
    class := h.ClassOf(obj)
    if !class.Kind.IsInstance() || i < 0 || i >= h.numFields(obj) {
        log.Fatalf("No field %d in %s at %v\n", i, class.Name, obj)
    }
    h.StoreRef(h.FieldSlot(obj, i), target)
}

func (h *Heap) Field(obj mark.Address, i int) mark.Address {
    return h.LoadRef(h.FieldSlot(obj, i))
}

func (h *Heap) SetElement(array mark.Address, i int, target mark.Address) {
    if h.Kind(array) != mark.KindObjArray || i < 0 || i >= h.ArrayLength(array) {
        log.Fatalf("No element %d in array at %v\n", i, array)
    }
    h.StoreRef(h.ElementSlot(array, i), target)
}

func (h *Heap) Element(array mark.Address, i int) mark.Address {
    return h.LoadRef(h.ElementSlot(array, i))
}

// Set an object's age, as if it had survived that many young cycles.
//
func (h *Heap) SetAge(obj mark.Address, age int) {
    if age < 0 || age > mark.MaxAge {
        log.Fatalf("Age %d out of range\n", age)
    }
    header := h.load(obj)
    h.store(obj, header &^ ageMask | uint64(age) << ageShift)
}

// Atomically update header bits; update returns the new header and
// whether to store it.
//
func (h *Heap) casHeader(obj mark.Address, update func(old uint64) (uint64, bool)) (uint64, bool) {
    p := h.word(obj)
    for {
        old := atomic.LoadUint64(p)
        header, ok := update(old)
        if !ok {
            return old, false
        }
        if atomic.CompareAndSwapUint64(p, old, header) {
            return header, true
        }
    }
}

//////////////////////////////////////////////////////////////////////////////////////////
// mark.StackChunks

func (h *Heap) RelativizeStackChunk(obj mark.Address) bool {
    if h.Kind(obj) != mark.KindStackChunk {
        return false
    }
    h.casHeader(obj, func(old uint64) (uint64, bool) {
        return old | relativizedBit, old & relativizedBit == 0
    })
    return true
}

func (h *Heap) IsRelativized(obj mark.Address) bool {
    return h.load(obj) & relativizedBit != 0
}

//////////////////////////////////////////////////////////////////////////////////////////
// mark.Strings

// A string whose value array is present.
//
func (h *Heap) IsStringCandidate(obj mark.Address) bool {
    return h.Kind(obj) == mark.KindString && h.Classes.stringValue >= 0 &&
           h.Field(obj, h.Classes.stringValue) != 0
}

func (h *Heap) DedupRequested(obj mark.Address) bool {
    return h.load(obj) & dedupRequestedBit != 0
}

func (h *Heap) TrySetDedupRequested(obj mark.Address) bool {
    _, set := h.casHeader(obj, func(old uint64) (uint64, bool) {
        return old | dedupRequestedBit, old & dedupRequestedBit == 0
    })
    return set
}

func (h *Heap) IncrementAge(obj mark.Address, max int) (int, bool) {
    header, bumped := h.casHeader(obj, func(old uint64) (uint64, bool) {
        age := headerAge(old)
        if age >= max {
            return old, false
        }
        return old &^ ageMask | uint64(age + 1) << ageShift, true
    })
    return headerAge(header), bumped
}

//////////////////////////////////////////////////////////////////////////////////////////
// walking

// Call fn for every object in the heap, in address order.
//
func (h *Heap) Objects(fn func(obj mark.Address)) {
    for _, r := range h.regions {
        switch r.state {
            case RegionRegular:
                for obj := r.bottom; obj < r.Top(); obj += mark.Address(h.SizeWords(obj)) << mark.LogWordSize {
                    fn(obj)
                }
            case RegionHumongousStart:
                fn(r.bottom)
        }
    }
}
