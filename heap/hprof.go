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
    "fmt"
    "log"

    "github.com/jonross/regionmark/mark"
    "github.com/jonross/regionmark/util"
)

// How to lay out a dump in the simulated heap.
//
type LoadOptions struct {
    Heap Config
    // fraction of objects placed in old regions, picked by heap id
    OldFraction float64
    // young objects get an age in [0, MaxAge], picked by heap id
    MaxAge int
}

func DefaultLoadOptions() LoadOptions {
    return LoadOptions{Heap: DefaultConfig(), OldFraction: 0, MaxAge: 0}
}

// HPROF record tags
//
const (
    tagUTF8 = 0x01
    tagLoadClass = 0x02
    tagHeapDump = 0x0c
    tagHeapDumpSegment = 0x1c
    tagHeapDumpEnd = 0x2c

    subClassDump = 0x20
    subInstanceDump = 0x21
    subObjArrayDump = 0x22
    subPrimArrayDump = 0x23
)

type loader struct {
    h *Heap
    options LoadOptions
    mappedFile *util.MappedFile
    // Size of a native ID on the heap, 4 or 8
    idSize int
    // true if idSize is 8
    longIds bool
    // static strings from UTF8 records
    strings map[HeapId]string
    // maps HeapId of a class to HeapId of its name; we have to do this because
    // LOAD_CLASS and CLASS_DUMP are different records.
    classNames map[HeapId]HeapId
    // heap IDs of GC roots
    gcRoots []HeapId
    // where each dumped object went
    objects *ObjectMap
    // references waiting for their targets
    refs RefBag
    numRecords int
}

// Read a heap dump into a new simulated heap.  The file is read twice: once
// for strings and classes, so that every instance's layout is known before
// it is allocated, and once for objects and roots.  Malformed records are
// fatal.
//
func ReadHeapDump(filename string, options LoadOptions) (*Heap, error) {

    mappedFile, err := util.MapFile(filename)
    if err != nil {
        return nil, err
    }
    defer mappedFile.Close()

    l := &loader{
        h: New(options.Heap),
        options: options,
        mappedFile: mappedFile,
        strings: make(map[HeapId]string, 100000),
        classNames: make(map[HeapId]HeapId, 50000),
        objects: NewObjectMap(),
    }

    for pass := 1; pass <= 2; pass++ {
        if err := l.readFile(pass); err != nil {
            return nil, err
        }
        if pass == 1 {
            l.h.Classes.cookAll()
            l.h.createMirrors()
            l.addStaticRefs()
            log.Printf("%d classes, %d strings\n", l.h.Classes.Count(), len(l.strings))
        }
    }

    l.objects.PostProcess()
    missing := l.refs.Resolve(l.h, l.resolve)
    if missing > 0 {
        log.Printf("%d references to objects not in the dump left null\n", missing)
    }

    seen := make(map[HeapId]bool, len(l.gcRoots))
    for _, hid := range l.gcRoots {
        if seen[hid] {
            continue
        }
        seen[hid] = true
        if target := l.resolve(hid); target != 0 {
            l.h.AddRoot(target)
        }
    }

    log.Printf("%d records, %d objects, %d roots\n", l.numRecords, l.objects.Len(), len(l.h.Roots()))
    log.Printf("%v\n", l.h)
    return l.h, nil
}

// Verify the header and read every top-level record.
//
func (l *loader) readFile(pass int) error {

    in, err := l.mappedFile.MapAt(0)
    if err != nil {
        return err
    }

    if !in.Demand(31) {
        return fmt.Errorf("%d bytes is too short for a heap dump", l.mappedFile.Size())
    }
    version := string(in.GetRaw(18))
    in.Skip(1) // trailing NUL
    if version != "JAVA PROFILE 1.0.1" && version != "JAVA PROFILE 1.0.2" {
        return fmt.Errorf("unknown heap version %q", version)
    }

    l.idSize = int(in.GetUInt32())
    if l.idSize != 4 && l.idSize != 8 {
        return fmt.Errorf("unknown reference size %d", l.idSize)
    }
    l.longIds = l.idSize == 8
    in.Skip(8) // skip timestamp

    headerSize := 9
    l.numRecords = 0

    for in.Demand(headerSize) {

        l.numRecords++
        tag := in.GetByte()
        in.Skip(4) // skip timestamp
        length := int(in.GetUInt32())
        start := in.Offset()

        switch tag {
            case tagUTF8:
                if pass == 1 {
                    l.demand(in, length)
                    hid := l.readId(in)
                    l.strings[hid] = in.GetString(length - l.idSize)
                } else {
                    in.Skip(length)
                }

            case tagLoadClass:
                if pass == 1 {
                    l.demand(in, length)
                    in.Skip(4) // skip classSerial
                    classHid := l.readId(in)
                    in.Skip(4) // skip stackSerial
                    l.classNames[classHid] = l.readId(in)
                } else {
                    in.Skip(length)
                }

            case tagHeapDump, tagHeapDumpSegment:
                if pass == 1 {
                    log.Printf("Heap dump or segment of %d MB", length / 1048576)
                }
                l.readSegment(in, start + uint64(length), pass)

            case 0x03, // UNLOAD_CLASS
                 0x04, // STACK_FRAME
                 0x05, // STACK_TRACE
                 0x06, // ALLOC_SITES
                 0x07, // HEAP_SUMMARY
                 0x0a, // START_THREAD
                 0x0b, // END_THREAD
                 0x0e, // CONTROL_SETTINGS
                 tagHeapDumpEnd:
                in.Skip(length)

            default:
                log.Fatalf("Unknown HPROF record type %d at %d\n", tag, start - uint64(headerSize))
        }

        if in.Offset() != start + uint64(length) {
            log.Fatalf("Record type %d at %d is %d bytes, read %d\n", tag, start - uint64(headerSize),
                       length, in.Offset() - start)
        }
    }

    return nil
}

// Handle HEAP_DUMP or HEAP_DUMP_SEGMENT record.  Classes are read in pass 1,
// objects and roots in pass 2; everything else is skipped.
//
func (l *loader) readSegment(in *util.MappedSection, end uint64, pass int) {
    for in.Offset() < end {
        l.numRecords++
        l.demand(in, 1)
        tag := in.GetByte()
        switch tag {
            case subInstanceDump:
                l.readInstance(in, pass == 2)
            case subObjArrayDump:
                l.readObjArray(in, pass == 2)
            case subPrimArrayDump:
                l.readPrimArray(in, pass == 2)
            case subClassDump:
                l.readClassDump(in, pass == 1)
            case 0x01: // ROOT_JNI_GLOBAL
                l.readGCRoot(in, l.idSize, pass == 2)
            case 0x02: // ROOT_JNI_LOCAL
                l.readGCRoot(in, 8, pass == 2)
            case 0x03: // ROOT_JAVA_FRAME
                l.readGCRoot(in, 8, pass == 2)
            case 0x04: // ROOT_NATIVE_STACK
                l.readGCRoot(in, 4, pass == 2)
            case 0x05: // ROOT_STICKY_CLASS
                l.readGCRoot(in, 0, pass == 2)
            case 0x06: // ROOT_THREAD_BLOCK
                l.readGCRoot(in, 4, pass == 2)
            case 0x07: // ROOT_MONITOR_USED
                l.readGCRoot(in, 0, pass == 2)
            case 0x08: // ROOT_THREAD_OBJECT
                l.readGCRoot(in, 8, pass == 2)
            case 0xff: // ROOT_UNKNOWN
                l.readGCRoot(in, 0, pass == 2)
            default:
                log.Fatalf("Unknown HPROF record type %d at %d\n", tag, in.Offset() - 1)
        }
    }
}

// Read a GC root.  This has the HID at the start followed by some amount
// of per-root data that we don't use.
//
func (l *loader) readGCRoot(in *util.MappedSection, skip int, keep bool) {
    l.demand(in, l.idSize + skip)
    hid := l.readId(in)
    if keep {
        l.gcRoots = append(l.gcRoots, hid)
    }
    in.Skip(skip)
}

func (l *loader) readClassDump(in *util.MappedSection, keep bool) {

    l.demand(in, 7 * l.idSize + 8)
    hid := l.readId(in)
    in.Skip(4) // stack serial
    superHid := l.readId(in)
    in.Skip(5 * l.idSize) // skip class loader ID, signer ID, protection domain ID, 2 reserved
    in.Skip(4) // instance size

    // Skip over constant pool

    l.demand(in, 2)
    numConstants := int(in.GetUInt16())
    for i := 0; i < numConstants; i++ {
        l.demand(in, 3)
        in.Skip(2)
        jtype := l.readJType(in)
        l.demand(in, l.sizeOf(jtype))
        in.Skip(l.sizeOf(jtype))
    }

    // Static fields; only references matter

    l.demand(in, 2)
    numStatics := int(in.GetUInt16())
    var statics []HeapId

    for i := 0; i < numStatics; i++ {
        l.demand(in, l.idSize + 1)
        in.Skip(l.idSize) // field name ID
        jtype := l.readJType(in)
        l.demand(in, l.sizeOf(jtype))
        if jtype.IsObj {
            if toHid := l.readId(in); toHid != 0 {
                statics = append(statics, toHid)
            }
        } else {
            in.Skip(l.sizeOf(jtype))
        }
    }

    // Instance fields

    l.demand(in, 2)
    numFields := int(in.GetUInt16())
    fields := make([]*Field, numFields)

    for i := 0; i < numFields; i++ {
        l.demand(in, l.idSize + 1)
        fieldName, ok := l.strings[l.readId(in)]
        if !ok && keep {
            log.Fatalf("No name for field %d in class with hid %x\n", i, hid)
        }
        fields[i] = &Field{fieldName, l.readJType(in)}
    }

    if !keep {
        return
    }

    nameId, ok := l.classNames[hid]
    if !ok {
        log.Fatalf("Class with hid %x has no name mapping\n", hid)
    }
    name, ok := l.strings[nameId]
    if !ok {
        log.Fatalf("Class name id %x for class hid %x has no mapping\n", nameId, hid)
    }

    l.h.Classes.addDumpClass(Demangle(name), hid, superHid, fields, statics)
}

// Read an instance dump.  Its field values run from the object's own class
// up through its superclasses.
//
func (l *loader) readInstance(in *util.MappedSection, keep bool) {

    l.demand(in, 8 + 2 * l.idSize)
    hid := l.readId(in)
    in.Skip(4) // stack serial
    classHid := l.readId(in)
    length := int(in.GetUInt32())

    if !keep {
        in.Skip(length)
        return
    }

    l.demand(in, length)
    end := in.Offset() + uint64(length)

    class := l.h.Classes.ByHid(classHid)
    if class == nil {
        log.Fatalf("Instance %x of unknown class %x\n", hid, classHid)
    }

    affiliation, age := l.place(hid)
    var obj mark.Address
    if class.Kind == mark.KindStackChunk {
        obj = l.h.NewStackChunk(countDumpRefs(class), affiliation)
    } else {
        obj = l.h.NewInstance(class, affiliation)
    }
    l.h.SetAge(obj, age)
    l.objects.Add(hid, obj)

    // stack chunk slots are filled in dump order
    slot := 0
    for c := class; c != nil; c = c.super {
        base := 0
        if c.super != nil {
            base = c.super.numFields
        }
        for i, field := range c.dumpFields {
            if !field.JType.IsObj {
                in.Skip(l.sizeOf(field.JType))
                continue
            }
            toHid := l.readId(in)
            switch {
                case class.Kind == mark.KindStackChunk:
                    if toHid != 0 {
                        l.refs.Add(l.h.FieldSlot(obj, slot), toHid)
                    }
                    slot++
                case toHid != 0 && c.dumpLayout:
                    l.refs.Add(l.h.FieldSlot(obj, base + i), toHid)
            }
        }
    }

    if in.Offset() != end {
        log.Fatalf("Instance %x of %s has %d bytes of fields, read %d\n", hid, class.Name,
                   length, int(in.Offset() - end) + length)
    }
}

func countDumpRefs(class *ClassDef) int {
    n := 0
    for c := class; c != nil; c = c.super {
        for _, field := range c.dumpFields {
            if field.JType.IsObj {
                n++
            }
        }
    }
    return n
}

func (l *loader) readObjArray(in *util.MappedSection, keep bool) {

    l.demand(in, 8 + 2 * l.idSize)
    hid := l.readId(in)
    in.Skip(4) // stack serial
    count := int(in.GetUInt32())
    classHid := l.readId(in)

    if !keep {
        in.Skip(count * l.idSize)
        return
    }

    class := l.h.Classes.ByHid(classHid)
    if class == nil || class.Kind != mark.KindObjArray {
        class = l.h.Classes.ObjArray
    }

    affiliation, age := l.place(hid)
    obj := l.h.NewObjArrayOf(class, count, affiliation)
    l.h.SetAge(obj, age)
    l.objects.Add(hid, obj)

    for i := 0; i < count; i++ {
        l.demand(in, l.idSize)
        if toHid := l.readId(in); toHid != 0 {
            l.refs.Add(l.h.ElementSlot(obj, i), toHid)
        }
    }
}

func (l *loader) readPrimArray(in *util.MappedSection, keep bool) {

    l.demand(in, 9 + l.idSize)
    hid := l.readId(in)
    in.Skip(4) // stack serial
    count := int(in.GetUInt32())
    jtype := l.readJType(in)
    in.Skip(count * l.sizeOf(jtype))

    if keep {
        affiliation, age := l.place(hid)
        obj := l.h.NewTypeArray(jtype, count, affiliation)
        l.h.SetAge(obj, age)
        l.objects.Add(hid, obj)
    }
}

// Queue each class's static references for storing into its mirror.
//
func (l *loader) addStaticRefs() {
    for _, class := range l.h.Classes.All() {
        if len(class.StaticRefs) == 0 {
            continue
        }
        mirror := class.mirror(l.h)
        for i, hid := range class.StaticRefs {
            l.refs.Add(l.h.FieldSlot(mirror, i), hid)
        }
    }
}

// Address for a heap id: a dumped object, or a class standing for its mirror.
//
func (l *loader) resolve(hid HeapId) mark.Address {
    if addr := l.objects.Get(hid); addr != 0 {
        return addr
    }
    if class := l.h.Classes.ByHid(hid); class != nil {
        return class.mirror(l.h)
    }
    return 0
}

// Pick generation and age for an object from a hash of its id, so that a
// given dump always loads the same way.
//
func (l *loader) place(hid HeapId) (Affiliation, int) {
    x := mix(uint64(hid))
    if float64(x % 1000) < l.options.OldFraction * 1000 {
        return Old, 0
    }
    if l.options.MaxAge <= 0 {
        return Young, 0
    }
    age := int((x >> 10) % uint64(l.options.MaxAge + 1))
    if age > mark.MaxAge {
        age = mark.MaxAge
    }
    return Young, age
}

// splitmix64 finalizer
//
func mix(x uint64) uint64 {
    x ^= x >> 30
    x *= 0xbf58476d1ce4e5b9
    x ^= x >> 27
    x *= 0x94d049bb133111eb
    x ^= x >> 31
    return x
}

func (l *loader) demand(in *util.MappedSection, count int) {
    if !in.Demand(count) {
        log.Fatalf("Heap dump truncated at %d, wanted %d more bytes\n", in.Offset(), count)
    }
}

// Read a native ID from heap data.
//
func (l *loader) readId(in *util.MappedSection) HeapId {
    if l.longIds {
        return HeapId(in.GetUInt64())
    }
    return HeapId(in.GetUInt32())
}

// Read a "Basic Type" ID from heap data and return the JType
//
func (l *loader) readJType(in *util.MappedSection) *JType {
    tag := int(in.GetByte())
    jtypes := l.h.Classes.Jtypes
    if tag < 0 || tag >= len(jtypes) || jtypes[tag] == nil {
        log.Fatalf("Unknown basic type %d at %d\n", tag, in.Offset() - 1)
    }
    return jtypes[tag]
}

// Bytes a value of this type takes in the dump.
//
func (l *loader) sizeOf(jtype *JType) int {
    if jtype.IsObj {
        return l.idSize
    }
    return int(jtype.Size)
}
