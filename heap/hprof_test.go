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

package heap

import (
    "bytes"
    "encoding/binary"
    "os"
    "path/filepath"

    . "gopkg.in/check.v1"

    "github.com/jonross/regionmark/mark"
)

type HprofSuite struct{}
var _ = Suite(&HprofSuite{})

// Big-endian encoder for dump records.
//
type enc struct {
    idSize int
    bytes.Buffer
}

func (e *enc) u1(v byte) { e.WriteByte(v) }
func (e *enc) u2(v uint16) { e.Write(binary.BigEndian.AppendUint16(nil, v)) }
func (e *enc) u4(v uint32) { e.Write(binary.BigEndian.AppendUint32(nil, v)) }
func (e *enc) u8(v uint64) { e.Write(binary.BigEndian.AppendUint64(nil, v)) }

func (e *enc) id(hid HeapId) {
    if e.idSize == 8 {
        e.u8(uint64(hid))
    } else {
        e.u4(uint32(hid))
    }
}

// Writes just enough HPROF to describe a heap: strings and class loads up
// front, then one heap dump segment.
//
type hprofWriter struct {
    top enc
    seg enc
    names map[string]HeapId
    nextName HeapId
}

type dumpField struct {
    name string
    tag byte
}

var primSizes = map[byte]int{TypeBoolean: 1, TypeChar: 2, TypeFloat: 4, TypeDouble: 8,
                             TypeByte: 1, TypeShort: 2, TypeInt: 4, TypeLong: 8}

func newHprofWriter(idSize int) *hprofWriter {
    w := &hprofWriter{top: enc{idSize: idSize}, seg: enc{idSize: idSize},
                      names: make(map[string]HeapId), nextName: 0x9000}
    w.top.WriteString("JAVA PROFILE 1.0.2")
    w.top.u1(0)
    w.top.u4(uint32(idSize))
    w.top.u8(0)
    return w
}

func (w *hprofWriter) values() *enc {
    return &enc{idSize: w.top.idSize}
}

func (w *hprofWriter) record(tag byte, body *enc) {
    w.top.u1(tag)
    w.top.u4(0)
    w.top.u4(uint32(body.Len()))
    w.top.Write(body.Bytes())
}

func (w *hprofWriter) name(s string) HeapId {
    if hid, ok := w.names[s]; ok {
        return hid
    }
    hid := w.nextName
    w.nextName++
    w.names[s] = hid
    body := w.values()
    body.id(hid)
    body.WriteString(s)
    w.record(tagUTF8, body)
    return hid
}

// A LOAD_CLASS record and a CLASS_DUMP.  Every class gets a constant pool
// entry and a primitive static, which the loader must skip.
//
func (w *hprofWriter) class(hid HeapId, super HeapId, name string, statics []HeapId, fields ...dumpField) {
    body := w.values()
    body.u4(1)
    body.id(hid)
    body.u4(0)
    body.id(w.name(name))
    w.record(tagLoadClass, body)

    s := &w.seg
    s.u1(subClassDump)
    s.id(hid)
    s.u4(0)
    s.id(super)
    for i := 0; i < 5; i++ {
        s.id(0)
    }
    s.u4(0)
    s.u2(1)
    s.u2(7)
    s.u1(TypeLong)
    s.u8(42)
    s.u2(uint16(len(statics) + 1))
    s.id(w.name("serialVersionUID"))
    s.u1(TypeInt)
    s.u4(1)
    for _, target := range statics {
        s.id(w.name("INSTANCE"))
        s.u1(TypeObject)
        s.id(target)
    }
    s.u2(uint16(len(fields)))
    for _, f := range fields {
        s.id(w.name(f.name))
        s.u1(f.tag)
    }
}

func (w *hprofWriter) instance(hid HeapId, classHid HeapId, values *enc) {
    s := &w.seg
    s.u1(subInstanceDump)
    s.id(hid)
    s.u4(0)
    s.id(classHid)
    s.u4(uint32(values.Len()))
    s.Write(values.Bytes())
}

func (w *hprofWriter) objArray(hid HeapId, classHid HeapId, elems ...HeapId) {
    s := &w.seg
    s.u1(subObjArrayDump)
    s.id(hid)
    s.u4(0)
    s.u4(uint32(len(elems)))
    s.id(classHid)
    for _, e := range elems {
        s.id(e)
    }
}

func (w *hprofWriter) primArray(hid HeapId, tag byte, count int) {
    s := &w.seg
    s.u1(subPrimArrayDump)
    s.id(hid)
    s.u4(0)
    s.u4(uint32(count))
    s.u1(tag)
    s.Write(make([]byte, count * primSizes[tag]))
}

// A root record: the id and extra bytes of per-root data.
//
func (w *hprofWriter) root(tag byte, hid HeapId, extra int) {
    w.seg.u1(tag)
    w.seg.id(hid)
    w.seg.Write(make([]byte, extra))
}

func (w *hprofWriter) write(c *C) string {
    // a record the loader skips
    trace := w.values()
    trace.u4(1)
    trace.u4(0)
    trace.u4(0)
    w.record(0x05, trace)
    w.record(tagHeapDumpSegment, &w.seg)
    w.record(tagHeapDumpEnd, w.values())
    path := filepath.Join(c.MkDir(), "test.hprof")
    c.Assert(os.WriteFile(path, w.top.Bytes(), 0644), IsNil)
    return path
}

const (
    hidObject = 0x100 + iota
    hidString
    hidNode
    hidSpecial
    hidNodeArray
    hidCharArray
    hidStackChunk
)

const (
    hidNode1 = 0x1001 + iota
    hidNode2
    hidStr
    hidChars
    hidArray
    hidSpecialObj
    hidGarbage
    hidStatic
    hidChunk
)

// Node values in dump order: next, count, data.
//
func (w *hprofWriter) node(next HeapId, count uint32, data HeapId) *enc {
    v := w.values()
    v.id(next)
    v.u4(count)
    v.id(data)
    return v
}

// A small dump: a few nodes, a string, an array holding a dangling id, a
// subclass instance, a stack chunk, a class static and some garbage.
//
func sampleDump(c *C, idSize int) string {
    w := newHprofWriter(idSize)
    ref, integer := byte(TypeObject), byte(TypeInt)

    w.class(hidObject, 0, "java/lang/Object", nil)
    w.class(hidString, hidObject, "java/lang/String", nil, dumpField{"value", ref}, dumpField{"hash", integer})
    w.class(hidNode, hidObject, "com/example/Node", []HeapId{hidStatic},
            dumpField{"next", ref}, dumpField{"count", integer}, dumpField{"data", ref})
    w.class(hidSpecial, hidNode, "com/example/Special", nil, dumpField{"extra", ref})
    w.class(hidNodeArray, hidObject, "[Lcom/example/Node;", nil)
    w.class(hidCharArray, hidObject, "[C", nil)
    w.class(hidStackChunk, hidObject, "jdk/internal/vm/StackChunk", nil,
            dumpField{"parent", ref}, dumpField{"size", integer}, dumpField{"cont", ref})

    w.instance(hidNode1, hidNode, w.node(hidNode2, 5, hidStr))
    w.instance(hidNode2, hidNode, w.node(0, 0, hidArray))
    str := w.values()
    str.id(hidChars)
    str.u4(0)
    w.instance(hidStr, hidString, str)
    w.primArray(hidChars, TypeChar, 3)
    w.objArray(hidArray, hidNodeArray, hidNode1, hidSpecialObj, 0, 0x9999)
    // own fields first, then Node's
    special := w.values()
    special.id(hidChunk)
    special.Write(w.node(0, 1, 0).Bytes())
    w.instance(hidSpecialObj, hidSpecial, special)
    w.instance(hidGarbage, hidNode, w.node(hidNode1, 0, 0))
    w.instance(hidStatic, hidNode, w.node(0, 0, 0))
    chunk := w.values()
    chunk.id(hidNode2)
    chunk.u4(64)
    chunk.id(0)
    w.instance(hidChunk, hidStackChunk, chunk)

    // JNI global, sticky class, and the first node again as a frame local
    w.root(0x01, hidNode1, idSize)
    w.root(0x05, hidNode, 0)
    w.root(0x03, hidNode1, 8)

    return w.write(c)
}

func loadOptions() LoadOptions {
    options := DefaultLoadOptions()
    options.Heap.RegionWords = 64
    return options
}

func (s *HprofSuite) TestLoad(c *C) {
    for _, idSize := range []int{4, 8} {
        h, err := ReadHeapDump(sampleDump(c, idSize), loadOptions())
        c.Assert(err, IsNil)
        checkSample(c, h)
    }
}

func checkSample(c *C, h *Heap) {
    node := h.Named("com.example.Node")
    special := h.Named("com.example.Special")
    c.Assert(node, NotNil)
    c.Assert(special, NotNil)
    c.Check(node.NumFields(), Equals, 3)
    c.Check(node.RefIndexes(), DeepEquals, []int{0, 2})
    c.Check(special.SuperDef(), Equals, node)
    c.Check(special.FieldIndex("extra"), Equals, 3)
    c.Check(h.Named("java.lang.Object"), Equals, h.Classes.Object)
    c.Check(h.ByHid(hidCharArray), Equals, h.Named("char[]"))

    roots := h.Roots()
    c.Assert(roots, HasLen, 2)
    node1 := h.LoadRef(roots[0])
    c.Check(h.ClassOf(node1), Equals, node)
    c.Check(h.LoadRef(roots[1]), Equals, node.mirror(h))

    node2 := h.Field(node1, 0)
    c.Check(h.ClassOf(node2), Equals, node)
    c.Check(h.Field(node2, 0), Equals, mark.Address(0))

    str := h.Field(node1, 2)
    c.Check(h.Kind(str), Equals, mark.KindString)
    c.Check(h.IsStringCandidate(str), Equals, true)
    chars := h.Field(str, h.Classes.stringValue)
    c.Check(h.ArrayLength(chars), Equals, 3)
    c.Check(h.ClassOf(chars).Name, Equals, "char[]")

    array := h.Field(node2, 2)
    c.Check(h.ClassOf(array).Name, Equals, "com.example.Node[]")
    c.Check(h.ArrayLength(array), Equals, 4)
    c.Check(h.Element(array, 0), Equals, node1)
    specialObj := h.Element(array, 1)
    c.Check(h.ClassOf(specialObj), Equals, special)
    c.Check(h.Element(array, 2), Equals, mark.Address(0))
    // not in the dump
    c.Check(h.Element(array, 3), Equals, mark.Address(0))

    chunk := h.Field(specialObj, 3)
    c.Check(h.Kind(chunk), Equals, mark.KindStackChunk)
    c.Check(h.SizeWords(chunk), Equals, HeaderWords + 2)
    c.Check(h.Field(chunk, 0), Equals, node2)
    c.Check(h.Field(chunk, 1), Equals, mark.Address(0))

    static := h.Field(node.mirror(h), 0)
    c.Check(h.ClassOf(static), Equals, node)
    c.Check(static != node1 && static != node2, Equals, true)

    dumped := 0
    h.Objects(func(obj mark.Address) {
        if h.ClassOf(obj).SuperDef() != h.Classes.Class {
            dumped++
        }
    })
    c.Check(dumped, Equals, 9)
}

// Marking a loaded dump agrees with a plain walk of it, for every way of
// splitting it across generations.
//
func (s *HprofSuite) TestMarkLoaded(c *C) {
    for _, oldFraction := range []float64{0, 0.5, 1} {
        options := loadOptions()
        options.OldFraction = oldFraction
        options.MaxAge = 4
        h, err := ReadHeapDump(sampleDump(c, 8), options)
        c.Assert(err, IsNil)

        ctx := mark.NewMarkingContext(HeapBase, h.SizeBytes())
        config := mark.DefaultConfig()
        config.Workers = 3
        config.Stride = 1
        m := mark.NewMarker(config, mark.Env{Heap: h, Context: ctx})
        m.EnqueueInitialRoots(h.Roots())
        m.Run()

        gcr := FindLiveObjects(h, h.Roots(), true)
        c.Check(gcr.Verify(ctx), IsNil)
        // everything but the garbage node, plus the Node, Special, String,
        // array and stack chunk class mirrors
        c.Check(gcr.NumLive(), Equals, 8 + 5)
        c.Check(ctx.MarkedCount(), Equals, gcr.NumLive())

        histo := LiveHisto(h, ctx)
        count, _ := histo.Counts(h.Named("com.example.Node"))
        c.Check(count, Equals, 3)
    }
}

// Placement depends only on the dump, so loading twice gives the same heap.
//
func (s *HprofSuite) TestPlacement(c *C) {
    placements := func(options LoadOptions) []int {
        h, err := ReadHeapDump(sampleDump(c, 8), options)
        c.Assert(err, IsNil)
        var result []int
        h.Objects(func(obj mark.Address) {
            if h.ClassOf(obj).SuperDef() == h.Classes.Class {
                return
            }
            r := h.Regions()[h.RegionIndex(obj)]
            age := h.Age(obj)
            c.Check(age <= options.MaxAge, Equals, true)
            if r.IsOld() {
                c.Check(age, Equals, 0)
            }
            result = append(result, int(r.Affiliation()) * 100 + age)
        })
        return result
    }

    options := loadOptions()
    options.OldFraction = 0.5
    options.MaxAge = 6
    c.Check(placements(options), DeepEquals, placements(options))

    options.OldFraction = 1
    for _, p := range placements(options) {
        c.Check(p, Equals, int(Old) * 100)
    }
    options.OldFraction = 0
    options.MaxAge = 0
    for _, p := range placements(options) {
        c.Check(p, Equals, int(Young) * 100)
    }
}

func (s *HprofSuite) TestBadFiles(c *C) {
    dir := c.MkDir()
    _, err := ReadHeapDump(filepath.Join(dir, "missing.hprof"), loadOptions())
    c.Check(err, NotNil)

    short := filepath.Join(dir, "short.hprof")
    c.Assert(os.WriteFile(short, []byte("JAVA PROFILE"), 0644), IsNil)
    _, err = ReadHeapDump(short, loadOptions())
    c.Check(err, ErrorMatches, ".*too short for a heap dump.*")

    w := newHprofWriter(8)
    w.top.Reset()
    w.top.WriteString("JAVA PROFILE 9.9.99")
    w.top.u1(0)
    w.top.u4(8)
    w.top.u8(0)
    _, err = ReadHeapDump(w.write(c), loadOptions())
    c.Check(err, ErrorMatches, `unknown heap version "JAVA PROFILE 9.9.9"`)

    w = newHprofWriter(8)
    w.top.Reset()
    w.top.WriteString("JAVA PROFILE 1.0.2")
    w.top.u1(0)
    w.top.u4(6)
    w.top.u8(0)
    _, err = ReadHeapDump(w.write(c), loadOptions())
    c.Check(err, ErrorMatches, "unknown reference size 6")
}
