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

// A Task packs everything a worker needs to scan an object, or one chunk of
// an object array, into a single word:
//
//     63         54 53    49 48                          2   1      0
//     +------------+--------+----------------------------+------+------+
//     |  chunk id  |  pow   |        object address      | weak | skip |
//     +------------+--------+----------------------------+------+------+
//
// Addresses are word aligned, so the two lowest address bits carry the
// weak and skip-live flags.  Chunk id 0 means the task is not chunked; a
// chunked task covers elements [(chunk-1) << pow, chunk << pow).
//
type Task uint64

const (
    ChunkBits = 10
    PowBits = 5
    OopBits = 64 - ChunkBits - PowBits

    // Chunk ids must stay below this.
    ChunkSize = 1 << ChunkBits
    PowMax = 1 << PowBits - 1
    MaxAddress = Address(1 << OopBits - 1)

    powShift = OopBits
    chunkShift = OopBits + PowBits

    skipLiveMask = Task(1 << 0)
    weakMask = Task(1 << 1)
    oopMask = Task(1 << OopBits - 1) &^ (skipLiveMask | weakMask)
    chunkPowMask = ^Task(1 << OopBits - 1)
)

// Make a task for a whole object.
//
func NewTask(obj Address, skipLive bool, weak bool) Task {
    return encodeTask(obj, skipLive, weak, 0, 0)
}

// Make a task for one chunk of an object array.
//
func NewChunkTask(array Address, skipLive bool, weak bool, chunk int, pow int) Task {
    if checked && (chunk <= 0 || chunk >= ChunkSize) {
        fail("chunk id %d out of range for %v", chunk, array)
    }
    if checked && (pow < 0 || pow > PowMax) {
        fail("chunk pow %d out of range for %v", pow, array)
    }
    return encodeTask(array, skipLive, weak, chunk, pow)
}

func encodeTask(obj Address, skipLive bool, weak bool, chunk int, pow int) Task {
    if checked && obj & (WordSize - 1) != 0 {
        fail("unaligned task object %v", obj)
    }
    if checked && obj > MaxAddress {
        fail("task object %v beyond %d address bits", obj, OopBits)
    }
    t := Task(obj) | Task(chunk) << chunkShift | Task(pow) << powShift
    if skipLive {
        t |= skipLiveMask
    }
    if weak {
        t |= weakMask
    }
    return t
}

func (t Task) Obj() Address {
    return Address(t & oopMask)
}

func (t Task) IsNotChunked() bool {
    return t & chunkPowMask == 0
}

func (t Task) Chunk() int {
    return int(t >> chunkShift)
}

func (t Task) Pow() int {
    return int(t >> powShift) & PowMax
}

func (t Task) IsWeak() bool {
    return t & weakMask != 0
}

func (t Task) CountLiveness() bool {
    return t & skipLiveMask == 0
}

// Element range [from, to) covered by a chunked task.
//
func (t Task) Range() (int, int) {
    size := 1 << uint(t.Pow())
    chunk := t.Chunk()
    return (chunk - 1) * size, chunk * size
}

// Unpacked form, used for diagnostics.
//
type TaskInfo struct {
    Obj Address
    Chunk int
    Pow int
    Weak bool
    CountLiveness bool
}

func (t Task) Info() TaskInfo {
    return TaskInfo{t.Obj(), t.Chunk(), t.Pow(), t.IsWeak(), t.CountLiveness()}
}
