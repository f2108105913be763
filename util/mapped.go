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

package util

import (
    "fmt"
    "log"
    "math"
    "os"
    "sync"
)

// MappedFile tracks a set of memory-mapped sections on a file and provides
// low-level data access like GetUInt32.  A single mapping is capped at
// 2^31-1 bytes, so a reader that runs off the end of one section has it
// remapped from where it stands.
//
type MappedFile struct {
    filename string
    file *os.File
    // total size of the file
    size uint64
    // what have we mapped so far
    sections [][]byte
    // for concurrent modification
    lock sync.Mutex
}

// A cursor over one mapped window of a MappedFile.  Not safe for concurrent
// use; give each goroutine its own with MapAt.
//
type MappedSection struct {
    // Underlying MappedFile
    mappedFile *MappedFile
    // As returned by MMap
    base []byte
    // Offset of base within the file
    globalOffset uint64
    // Where are we now, relative to base
    localOffset int
}

// Largest window mapped at once.
//
var maxSection = uint64(math.MaxInt32)

//////////////////////////////////////////////////////////////////////////////////////////

// Create a MappedFile.
//
func MapFile(filename string) (*MappedFile, error) {
    file, err := os.Open(filename)
    if err != nil {
        return nil, err
    }
    info, err := file.Stat()
    if err != nil {
        file.Close()
        return nil, err
    }
    return &MappedFile{filename: filename, file: file, size: uint64(info.Size())}, nil
}

func (mf *MappedFile) Size() uint64 {
    return mf.size
}

// Map the largest possible section starting at a given offset.  Normally this
// happens automatically in Demand().
//
func (mf *MappedFile) MapAt(offset uint64) (*MappedSection, error) {
    if offset > mf.size {
        return nil, fmt.Errorf("offset %d past end of %s (%d bytes)", offset, mf.filename, mf.size)
    }
    // mmap offsets must be page aligned
    page := uint64(os.Getpagesize())
    start := offset - offset % page
    length := mf.size - start
    if length > maxSection {
        length = maxSection
    }
    var bytes []byte
    if length > 0 {
        var err error
        bytes, err = MMap(mf.file, int64(start), int64(length))
        if err != nil {
            return nil, fmt.Errorf("can't map %s %d bytes at %d: %v", mf.filename, length, start, err)
        }
        mf.addSection(bytes)
    }
    return &MappedSection{mf, bytes, start, int(offset - start)}, nil
}

// Unmap all mapped sections from a mapped file.  Does not close the file.
//
func (mf *MappedFile) UnmapAll() {
    mf.lock.Lock()
    defer mf.lock.Unlock()
    for _, bytes := range mf.sections {
        if err := MUnmap(bytes); err != nil {
            log.Fatalf("Failed to unmap %d bytes of %s: %s\n", len(bytes), mf.filename, err)
        }
    }
    mf.sections = nil
}

// Does UnmapAll and closes the file.
//
func (mf *MappedFile) Close() {
    mf.UnmapAll()
    mf.file.Close()
}

// Add a new section to the list of mapped sections.  This uses the lock field because multiple
// goroutines may be independently mapping different locations.
//
func (mf *MappedFile) addSection(bytes []byte) {
    mf.lock.Lock()
    defer mf.lock.Unlock()
    mf.sections = append(mf.sections, bytes)
}

//////////////////////////////////////////////////////////////////////////////////////////

// Require at least count bytes in the current mapped section, remapping from
// the current location if the section runs short.  Returns false if the file
// itself doesn't have count more bytes.
//
func (ms *MappedSection) Demand(count int) bool {
    if len(ms.base) - ms.localOffset >= count {
        return true
    }
    offset := ms.Offset()
    if offset + uint64(count) > ms.mappedFile.size {
        return false
    }
    next, err := ms.mappedFile.MapAt(offset)
    if err != nil {
        log.Fatalf("%s\n", err)
    }
    *ms = *next
    return len(ms.base) - ms.localOffset >= count
}

// Offset of the cursor within the file.
//
func (ms *MappedSection) Offset() uint64 {
    return ms.globalOffset + uint64(ms.localOffset)
}

// Read a byte at the current offset and advance the offset 1 byte.
//
func (ms *MappedSection) GetByte() byte {
    ret := ms.base[ms.localOffset]
    ms.localOffset++
    return ret
}

// Read an unsigned 16-bit integer at the current offset and advance the offset 2 bytes.
//
func (ms *MappedSection) GetUInt16() uint16 {
    bits := GetUInt16(ms.base[ms.localOffset:])
    ms.localOffset += 2
    return bits
}

// Read an unsigned 32-bit integer at the current offset and advance the offset 4 bytes.
//
func (ms *MappedSection) GetUInt32() uint32 {
    bits := GetUInt32(ms.base[ms.localOffset:])
    ms.localOffset += 4
    return bits
}

// Read an unsigned 64-bit integer at the current offset and advance the offset 8 bytes.
//
func (ms *MappedSection) GetUInt64() uint64 {
    bits := GetUInt64(ms.base[ms.localOffset:])
    ms.localOffset += 8
    return bits
}

// Return a raw slice at the current offset and advance the offset by the given amount.
//
func (ms *MappedSection) GetRaw(count int) []byte {
    buf := ms.base[ms.localOffset:ms.localOffset+count]
    ms.localOffset += count
    return buf
}

// Same as GetRaw() but convert it to a string.
//
func (ms *MappedSection) GetString(count int) string {
    return string(ms.GetRaw(count))
}

// Skip over some of the file, remapping if that leaves the section.
//
func (ms *MappedSection) Skip(count int) {
    ms.localOffset += count
    if ms.localOffset > len(ms.base) {
        ms.Demand(0)
    }
}
