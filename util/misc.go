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

// Odds and ends shared by the heap loader and its tools: memory mapping,
// big-endian decoding, bit sets and chunked slices.
//
package util

import (
    "os"
    "syscall"
)

// MMap maps size bytes of a file read-only, starting at offset, which must
// be page aligned.
//
func MMap(file *os.File, offset int64, size int64) ([]byte, error) {
    return syscall.Mmap(int(file.Fd()), offset, int(size),
                           syscall.PROT_READ, syscall.MAP_SHARED)
}

// MUnmap unmaps a mapped file read with MMap.
//
func MUnmap(data []byte) error {
    return syscall.Munmap(data)
}

func GetUInt16(buf []byte) uint16 {
    return uint16(buf[0]) << 8 | uint16(buf[1])
}

func GetUInt32(buf []byte) uint32 {
    bits := uint32(buf[0]) << 24 |
            uint32(buf[1]) << 16 |
            uint32(buf[2]) <<  8 |
            uint32(buf[3])
    return bits
}

func GetUInt64(buf []byte) uint64 {
    bits := uint64(buf[0]) << 56 |
            uint64(buf[1]) << 48 |
            uint64(buf[2]) << 40 |
            uint64(buf[3]) << 32 |
            uint64(buf[4]) << 24 |
            uint64(buf[5]) << 16 |
            uint64(buf[6]) <<  8 |
            uint64(buf[7])
    return bits
}

// A simple bit set, no frills, no bounds checking, no dynamic sizing.
//
type BitSet []uint64

func MakeBitSet(size int) BitSet {
    return make(BitSet, (size + 63) / 64)
}

func (b BitSet) Set(i int) {
    b[i/64] |= 1 << uint(i % 64)
}

func (b BitSet) Clear(i int) {
    b[i/64] &^= 1 << uint(i % 64)
}

func (b BitSet) Has(i int) bool {
    return b[i/64] & (1 << uint(i % 64)) != 0
}

// GC-friendly approach to building enormous arrays.  Start with e.g.
//   aa := [][]T{make([]T, 0, 100000)}
// This continually appends to the last array in aa and grows aa as needed but
// never copies the 2nd-level arrays, which is O(n**2) in the worst case for 1-D
// arrays + generates some large tracts of garbage.
//
func Append[T any](aa [][]T, val T) [][]T {
    slot := len(aa) - 1
    a := aa[slot]
    if len(a) == cap(a) {
        a = make([]T, 0, cap(a))
        aa = append(aa, a)
        slot += 1
    }
    a = append(a, val)
    aa[slot] = a
    return aa
}

// Total length of a chunked array built with Append.
//
func Len[T any](aa [][]T) int {
    n := 0
    for _, a := range aa {
        n += len(a)
    }
    return n
}
