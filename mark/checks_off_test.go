//go:build noassert

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
    . "gopkg.in/check.v1"
)

type UncheckedSuite struct{}
var _ = Suite(&UncheckedSuite{})

// With checks compiled out a broken invariant goes unreported.
//
func (s *UncheckedSuite) TestAssertionsOff(c *C) {
    c.Assert(checked, Equals, false)
    assertf(false, "never reported")

    // a task for an object nobody marked is applied without complaint
    h := newFakeHeap(1)
    obj := h.typeArray(0, 2)
    m := newTestMarker(h, NonGen, 1, Env{})
    w := m.workers[0]
    w.push(NewTask(obj, true, false))
    t, ok := w.q.Pop()
    c.Assert(ok, Equals, true)
    w.doTask(t)
    c.Check(m.Stats().Tasks, Equals, int64(1))
}
