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

package mark_test

import (
    "math/rand"

    . "gopkg.in/check.v1"

    "github.com/jonross/regionmark/heap"
    "github.com/jonross/regionmark/mark"
)

// Marking a simulated heap, checked against a plain walk of it.
//
type HeapMarkSuite struct{}
var _ = Suite(&HeapMarkSuite{})

// A random heap of instances, strings, stack chunks and arrays, humongous
// ones included, spread over both generations.
//
func randomHeap(rnd *rand.Rand, compressed bool) (*heap.Heap, []mark.Address) {
    h := heap.New(heap.Config{RegionWords: 256, Compressed: compressed, CardBytes: 512})
    node := h.DefineRefClass("Node", 3)
    var objs []mark.Address
    for i := 0; i < 400; i++ {
        gen := heap.Young
        if rnd.Intn(3) == 0 {
            gen = heap.Old
        }
        var obj mark.Address
        switch rnd.Intn(10) {
            case 0:
                obj = h.NewObjArray(1 + rnd.Intn(600), gen)
            case 1:
                obj = h.NewTypeArray(h.Jtypes[heap.TypeChar], rnd.Intn(40), gen)
            case 2:
                obj = h.NewStackChunk(1 + rnd.Intn(4), gen)
            case 3:
                obj = h.NewString("s", gen)
            default:
                obj = h.NewInstance(node, gen)
        }
        objs = append(objs, obj)
    }

    pick := func() mark.Address {
        if rnd.Intn(4) == 0 {
            return 0
        }
        return objs[rnd.Intn(len(objs))]
    }
    for _, obj := range objs {
        switch h.Kind(obj) {
            case mark.KindObjArray:
                for i, n := 0, h.ArrayLength(obj); i < n; i++ {
                    if rnd.Intn(8) == 0 {
                        h.SetElement(obj, i, pick())
                    }
                }
            case mark.KindStackChunk:
                for i, n := 0, h.SizeWords(obj) - heap.HeaderWords; i < n; i++ {
                    h.SetField(obj, i, pick())
                }
            case mark.KindInstance:
                for i := 0; i < 3; i++ {
                    h.SetField(obj, i, pick())
                }
        }
    }
    return h, objs
}

func (s *HeapMarkSuite) TestLivenessConservation(c *C) {
    for seed, compressed := range []bool{true, false, true} {
        rnd := rand.New(rand.NewSource(int64(seed)))
        h, objs := randomHeap(rnd, compressed)
        var strong, weak []mark.Address
        for i := 0; i < 8; i++ {
            strong = append(strong, h.AddRoot(objs[rnd.Intn(len(objs))]))
        }
        for i := 0; i < 3; i++ {
            weak = append(weak, h.AddRoot(objs[rnd.Intn(len(objs))]))
        }

        ctx := mark.NewMarkingContext(heap.HeapBase, h.SizeBytes())
        config := mark.DefaultConfig()
        config.Workers = 4
        config.Stride = 16
        config.QueueCapacity = 16
        config.Continuations = seed % 2 == 0
        m := mark.NewMarker(config, mark.Env{Heap: h, Context: ctx})
        m.EnqueueInitialRoots(strong)
        m.EnqueueWeakRoots(weak)
        m.Run()

        gcr := heap.FindLiveObjects(h, h.Roots(), true)
        c.Check(gcr.Verify(ctx), IsNil)
        c.Check(ctx.MarkedCount(), Equals, gcr.NumLive())
        c.Check(m.Finished(), Equals, true)
    }
}

// Old and young objects wired every way, with the card table cleared.
//
type genHeap struct {
    *heap.Heap
    old1, old2, young1, young2 mark.Address
}

func newGenHeap() *genHeap {
    h := heap.New(heap.Config{RegionWords: 64, Compressed: true, CardBytes: 64})
    node := h.DefineRefClass("Node", 2)
    g := &genHeap{
        Heap: h,
        old1: h.NewInstance(node, heap.Old),
        old2: h.NewInstance(node, heap.Old),
        young1: h.NewInstance(node, heap.Young),
        young2: h.NewInstance(node, heap.Young),
    }
    h.SetField(g.old1, 0, g.young1)
    h.SetField(g.old1, 1, g.old2)
    h.SetField(g.young1, 0, g.old2)
    h.SetField(g.young1, 1, g.young2)
    h.Cards.Clear()
    return g
}

func (g *genHeap) mark(gen mark.Generation, roots []mark.Address) *mark.MarkingContext {
    ctx := mark.NewMarkingContext(heap.HeapBase, g.SizeBytes())
    config := mark.DefaultConfig()
    config.Generation = gen
    config.Workers = 2
    m := mark.NewMarker(config, mark.Env{Heap: g.Heap, Context: ctx, RememberedSet: g.Cards})
    m.EnqueueInitialRoots(roots)
    m.Run()
    return ctx
}

func (g *genHeap) marked(ctx *mark.MarkingContext) []bool {
    return []bool{ctx.IsMarked(g.old1), ctx.IsMarked(g.old2), ctx.IsMarked(g.young1), ctx.IsMarked(g.young2)}
}

// Young marking starts from old slots the remembered set yields and keeps
// their cards dirty; it never marks old objects.
//
func (s *HeapMarkSuite) TestYoungCards(c *C) {
    g := newGenHeap()
    ctx := g.mark(mark.Young, []mark.Address{g.FieldSlot(g.old1, 0), g.FieldSlot(g.old1, 1)})
    c.Check(g.marked(ctx), DeepEquals, []bool{false, false, true, true})
    c.Check(g.Cards.IsDirty(g.FieldSlot(g.old1, 0)), Equals, true)
    c.Check(g.Cards.DirtyCards(), HasLen, 1)
    young := g.Regions()[g.RegionIndex(g.young1)]
    c.Check(young.LiveWords(), Equals, 8)
    c.Check(g.Regions()[g.RegionIndex(g.old1)].LiveWords(), Equals, 0)
}

// Old marking ignores young objects but dirties the card of every heap slot
// that holds one.  Off-heap roots to young objects are dropped.
//
func (s *HeapMarkSuite) TestOldCards(c *C) {
    g := newGenHeap()
    ctx := g.mark(mark.Old, []mark.Address{g.AddRoot(g.old1), g.AddRoot(g.young2)})
    c.Check(g.marked(ctx), DeepEquals, []bool{true, true, false, false})
    c.Check(g.Cards.IsDirty(g.FieldSlot(g.old1, 0)), Equals, true)
    c.Check(g.Cards.DirtyCards(), HasLen, 1)
}

// Global marking marks everything and cards only old-to-young slots.
//
func (s *HeapMarkSuite) TestGlobalCards(c *C) {
    g := newGenHeap()
    roots := []mark.Address{g.AddRoot(g.young1), g.AddRoot(g.old1)}
    ctx := g.mark(mark.Global, roots)
    c.Check(g.marked(ctx), DeepEquals, []bool{true, true, true, true})
    c.Check(g.Cards.IsDirty(g.FieldSlot(g.old1, 0)), Equals, true)
    c.Check(g.Cards.DirtyCards(), HasLen, 1)
    c.Check(heap.FindLiveObjects(g.Heap, roots, true).Verify(ctx), IsNil)
}
