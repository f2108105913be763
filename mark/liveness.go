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

// Largest value a worker's cached per-region live count may hold.
//
const LiveDataMax = 1 << 16 - 1

// Attribute obj's size to the region holding it.  Regular regions go
// through the worker's local cache, flushed to the region when the cache
// would overflow.  A humongous object owns its regions outright, so each
// of them is credited with its full used size directly.
//
func (w *worker) countLiveness(obj Address) {
    m := w.m
    h := m.heap
    idx := h.RegionIndex(obj)
    region := h.Region(idx)
    size := h.SizeWords(obj)

    gen := m.config.Generation
    if m.census != nil && m.config.AdaptiveTenuring &&
            (gen == Young || (gen == Global && region.IsYoung())) {
        if checked && !region.IsYoung() {
            fail("census sample for %v in non-young region %d", obj, idx)
        }
        m.census.Add(h.Age(obj), region.Age(), size, w.id)
    }

    if !region.IsHumongousStart() {
        if checked && region.IsHumongous() {
            fail("object %v in humongous continuation region %d", obj, idx)
        }
        if checked && !region.IsAffiliated() {
            fail("counting live data in free region %d for %v", idx, obj)
        }
        total := size + int(w.live[idx])
        if total >= LiveDataMax {
            // overflow, flush to region
            region.IncreaseLiveWords(total)
            w.live[idx] = 0
        } else {
            w.live[idx] = uint16(total)
        }
    } else {
        if checked && !region.IsAffiliated() {
            fail("counting live data in free humongous region %d for %v", idx, obj)
        }
        count := h.RequiredRegions(size)
        for i := idx; i < idx + count; i++ {
            chain := h.Region(i)
            if checked && !chain.IsHumongous() {
                fail("region %d in chain of %v is not humongous", i, obj)
            }
            if checked && !chain.IsAffiliated() {
                fail("counting live data in free humongous region %d for %v", i, obj)
            }
            chain.IncreaseLiveWords(chain.UsedWords())
        }
    }
}
