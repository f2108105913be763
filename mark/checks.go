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
    "log"

    "github.com/kr/pretty"
)

// Called with a diagnostic when an invariant breaks.  There is no recovery
// from these; tests swap in a panicking version.
//
var fatalf = log.Fatalf

// Report a broken invariant if cond is false.  Compiled down to nothing in
// builds tagged noassert, though args are still evaluated; per-task paths
// test checked themselves and only build a message on failure.
//
func assertf(cond bool, format string, args ...interface{}) {
    if checked && !cond {
        fail(format, args...)
    }
}

func fail(format string, args ...interface{}) {
    fatalf("mark: invariant violated: %s", fmt.Sprintf(format, args...))
}

// Render a task for a diagnostic message.
//
func describe(t Task) string {
    return pretty.Sprint(t.Info())
}
