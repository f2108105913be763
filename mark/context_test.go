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
    "sync"
    "sync/atomic"

    . "gopkg.in/check.v1"
)

type ContextSuite struct{}
var _ = Suite(&ContextSuite{})

func (s *ContextSuite) TestStrongThenWeak(c *C) {
    ctx := NewMarkingContext(fakeBase, 1 << 16)
    obj := fakeBase + 64

    marked, upgraded := ctx.MarkStrong(obj)
    c.Check(marked, Equals, true)
    c.Check(upgraded, Equals, false)
    c.Check(ctx.IsMarkedStrong(obj), Equals, true)
    c.Check(ctx.IsMarkedWeak(obj), Equals, false)

    // strong already covers weak
    c.Check(ctx.MarkWeak(obj), Equals, false)
    marked, _ = ctx.MarkStrong(obj)
    c.Check(marked, Equals, false)
}

func (s *ContextSuite) TestWeakUpgrade(c *C) {
    ctx := NewMarkingContext(fakeBase, 1 << 16)
    obj := fakeBase + 8

    c.Check(ctx.MarkWeak(obj), Equals, true)
    c.Check(ctx.MarkWeak(obj), Equals, false)
    c.Check(ctx.IsMarked(obj), Equals, true)
    c.Check(ctx.IsMarkedWeak(obj), Equals, true)
    c.Check(ctx.IsMarkedStrong(obj), Equals, false)

    marked, upgraded := ctx.MarkStrong(obj)
    c.Check(marked, Equals, true)
    c.Check(upgraded, Equals, true)
    c.Check(ctx.IsMarkedStrong(obj), Equals, true)
    c.Check(ctx.IsMarkedWeak(obj), Equals, false)
    c.Check(ctx.MarkedCount(), Equals, 1)
}

// Neighboring words share bitmap words but not bits.
//
func (s *ContextSuite) TestNeighbors(c *C) {
    ctx := NewMarkingContext(fakeBase, 1 << 16)
    for i := 0; i < 100; i++ {
        obj := fakeBase + Address(i) * WordSize
        if i % 2 == 0 {
            ctx.MarkStrong(obj)
        } else if i % 3 == 0 {
            ctx.MarkWeak(obj)
        }
    }
    for i := 0; i < 100; i++ {
        obj := fakeBase + Address(i) * WordSize
        c.Check(ctx.IsMarkedStrong(obj), Equals, i % 2 == 0)
        c.Check(ctx.IsMarkedWeak(obj), Equals, i % 2 != 0 && i % 3 == 0)
    }
    c.Check(ctx.MarkedCount(), Equals, 50 + 17)
    ctx.Reset()
    c.Check(ctx.MarkedCount(), Equals, 0)
}

// However many goroutines race, exactly one wins each mark.
//
func (s *ContextSuite) TestOneWinner(c *C) {
    const objects = 1000
    ctx := NewMarkingContext(fakeBase, objects * WordSize)
    var wins [objects]atomic.Int32
    var upgrades atomic.Int32
    var wg sync.WaitGroup
    for g := 0; g < 8; g++ {
        wg.Add(1)
        go func(g int) {
            defer wg.Done()
            for i := 0; i < objects; i++ {
                obj := fakeBase + Address(i) * WordSize
                if g % 2 == 1 && ctx.MarkWeak(obj) {
                    continue
                }
                if marked, upgraded := ctx.MarkStrong(obj); marked {
                    wins[i].Add(1)
                    if upgraded {
                        upgrades.Add(1)
                    }
                }
            }
        }(g)
    }
    wg.Wait()
    for i := range wins {
        c.Assert(wins[i].Load(), Equals, int32(1))
    }
    c.Check(ctx.MarkedCount(), Equals, objects)
    c.Check(int(upgrades.Load()) <= objects, Equals, true)
}

func (s *ContextSuite) TestOutOfRange(c *C) {
    if !checked {
        c.Skip("assertions compiled out")
    }
    ctx := NewMarkingContext(fakeBase, 1 << 10)
    c.Check(func() { ctx.IsMarked(fakeBase + 1 << 10) }, PanicMatches, ".*beyond marked range.*")
    c.Check(func() { ctx.IsMarked(fakeBase - WordSize) }, PanicMatches, ".*not a word in marked range.*")
}
