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
    "fmt"
    "io"
)

// Oldest age tracked; older objects are folded into the last bucket.
//
const MaxAge = 15

// Age census: per-worker histograms of words by effective age, merged on
// demand.  Workers only touch their own row, so no locking.
//
type Census struct {
    rows [][MaxAge + 1]uint64
}

func NewCensus(workers int) *Census {
    return &Census{rows: make([][MaxAge + 1]uint64, workers)}
}

func clampAge(age int) int {
    switch {
        case age < 0:
            return 0
        case age > MaxAge:
            return MaxAge
    }
    return age
}

// An object's effective age is its own age plus that of its region, which
// ages as a whole while the object sits in it.
//
func (c *Census) Add(age, regionAge, words, worker int) {
    c.rows[worker][clampAge(age + regionAge)] += uint64(words)
}

// Words per age, summed across workers.
//
func (c *Census) Totals() [MaxAge + 1]uint64 {
    var total [MaxAge + 1]uint64
    for _, row := range c.rows {
        for age, words := range row {
            total[age] += words
        }
    }
    return total
}

func (c *Census) Reset() {
    for i := range c.rows {
        c.rows[i] = [MaxAge + 1]uint64{}
    }
}

func (c *Census) Print(out io.Writer) {
    total := c.Totals()
    for age, words := range total {
        if words != 0 {
            fmt.Fprintf(out, "age %2d %12d words\n", age, words)
        }
    }
}
