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

// Load the reference in slot and, if it isn't null, mark it and route the
// resulting task to the right generation's queue.
//
func (m *Marker) markThroughRef(slot Address, q *Queue, oldQ *Queue, weak bool) {
    obj := m.heap.LoadRef(slot)
    if obj != 0 {
        m.markThrough(slot, obj, q, oldQ, weak)
    }
}

// Single-queue path: no generation checks, no cards.
//
func (m *Marker) markNonGenerational(slot Address, obj Address, q *Queue, oldQ *Queue, weak bool) {
    m.markRef(q, weak, obj)
}

// Route obj, found in slot (0 for an off-heap source such as an SATB
// buffer), by generation:
//
//   - in this marker's generation: mark it here, and remember the slot if it
//     is an old-to-young pointer we will need to find again;
//   - outside it while old marking is active: mark it onto the old queue;
//   - a young object found by old marking: dirty the card for the slot.
//
func (m *Marker) markGenerational(slot Address, obj Address, q *Queue, oldQ *Queue, weak bool) {
    gen := m.config.Generation
    if m.inGeneration(obj) {
        m.markRef(q, weak, obj)
        if gen == Young && m.isInOld(slot) {
            // remembered set scanning must still find this pointer
            m.rset.MarkCardDirty(slot)
        } else if gen == Global && m.isInOld(slot) && m.isInYoung(obj) {
            m.rset.MarkCardDirty(slot)
        }
    } else if oldQ != nil {
        // young mark bootstrapping, or running beside, old marking
        m.markRef(oldQ, weak, obj)
    } else if gen == Old {
        if slot != 0 && m.heap.IsIn(slot) {
            if checked && !m.isInYoung(obj) {
                fail("old mark found %v from %v outside both generations", obj, slot)
            }
            m.rset.MarkCardDirty(slot)
        }
    }
}

func (m *Marker) inGeneration(obj Address) bool {
    switch m.config.Generation {
        case Young:
            return m.isInYoung(obj)
        case Old:
            return m.isInOld(obj)
    }
    if checked && !m.heap.IsIn(obj) {
        fail("object %v not in heap", obj)
    }
    return true
}

func (m *Marker) isInYoung(p Address) bool {
    return p != 0 && m.heap.IsIn(p) && m.heap.Region(m.heap.RegionIndex(p)).IsYoung()
}

func (m *Marker) isInOld(p Address) bool {
    return p != 0 && m.heap.IsIn(p) && m.heap.Region(m.heap.RegionIndex(p)).IsOld()
}

// Mark obj weak or strong and push a task for it if this call won the
// mark.  A strong mark that upgrades a weak one pushes a task that skips
// liveness, since the weak pass already counted the object.
//
func (m *Marker) markRef(q *Queue, weak bool, obj Address) {
    skipLive := false
    var marked bool
    if weak {
        marked = m.ctx.MarkWeak(obj)
    } else {
        marked, skipLive = m.ctx.MarkStrong(obj)
    }
    if marked {
        t := NewTask(obj, skipLive, weak)
        if pushed := q.Push(t); checked && !pushed {
            fail("overflow queue should always succeed pushing %s", describe(t))
        }
    }
}
