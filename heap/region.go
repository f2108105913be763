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
    "sync/atomic"

    "github.com/jonross/regionmark/mark"
)

type RegionState int

const (
    RegionFree RegionState = iota
    RegionRegular
    RegionHumongousStart
    RegionHumongousCont
)

// Which generation a region belongs to.
//
type Affiliation int

const (
    Unaffiliated Affiliation = iota
    Young
    Old
    numAffiliations
)

var affiliationNames = []string{"free", "young", "old"}

func (a Affiliation) String() string {
    return affiliationNames[a]
}

type Region struct {
    index int
    // address of first word
    bottom mark.Address
    state RegionState
    affiliation Affiliation
    // words allocated
    top int
    // cycles survived as a whole
    age int
    // authoritative live words for the current cycle
    live atomic.Int64
    // backing words
    mem []uint64
}

// Add a region to the end of the heap.
//
func (h *Heap) newRegion(state RegionState, affiliation Affiliation) *Region {
    r := &Region{
        index: len(h.regions),
        state: state,
        affiliation: affiliation,
        mem: make([]uint64, h.config.RegionWords),
    }
    r.bottom = HeapBase + mark.Address(r.index) << h.regionShift
    h.regions = append(h.regions, r)
    h.Cards.Cover(h.End())
    return r
}

func (r *Region) Index() int {
    return r.index
}

func (r *Region) Bottom() mark.Address {
    return r.bottom
}

// Address of the first unallocated word.
//
func (r *Region) Top() mark.Address {
    return r.bottom + mark.Address(r.top) << mark.LogWordSize
}

func (r *Region) State() RegionState {
    return r.state
}

func (r *Region) Affiliation() Affiliation {
    return r.affiliation
}

func (r *Region) IsHumongousStart() bool {
    return r.state == RegionHumongousStart
}

func (r *Region) IsHumongous() bool {
    return r.state == RegionHumongousStart || r.state == RegionHumongousCont
}

func (r *Region) IsYoung() bool {
    return r.affiliation == Young
}

func (r *Region) IsOld() bool {
    return r.affiliation == Old
}

func (r *Region) IsAffiliated() bool {
    return r.affiliation != Unaffiliated
}

func (r *Region) Age() int {
    return r.age
}

func (r *Region) SetAge(age int) {
    r.age = age
}

func (r *Region) UsedWords() int {
    return r.top
}

func (r *Region) IncreaseLiveWords(words int) {
    r.live.Add(int64(words))
}

func (r *Region) LiveWords() int {
    return int(r.live.Load())
}

func (r *Region) ResetLiveWords() {
    r.live.Store(0)
}

func (r *Region) String() string {
    kind := "regular"
    switch r.state {
        case RegionFree:
            kind = "free"
        case RegionHumongousStart:
            kind = "humongous-start"
        case RegionHumongousCont:
            kind = "humongous-cont"
    }
    return fmt.Sprintf("region %d %s %v used %d live %d", r.index, kind, r.affiliation, r.top, r.LiveWords())
}
