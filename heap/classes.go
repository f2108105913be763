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
    "log"
    "strconv"
    "strings"

    "github.com/jonross/regionmark/mark"
)

// An ID read from a heap dump
//
type HeapId uint64

// 1-based, assigned as classes are defined
//
type ClassId uint32

// Information about java value types, "basic type" as defined in HPROF spec
//
type JType struct {
    // JVM short class name for an array of this type e.g. "[I"
    ArrayClass string
    // true if this is an object type, not a primitive type
    IsObj bool
    // size in bytes, in a dump; in the heap every field takes a word
    Size uint32
    // array class, once defined
    Class *ClassDef
}

// One of these for each non-static member in a class def
//
type Field struct {
    // field name from java source
    Name string
    // type information
    JType *JType
}

// One of these per class.  Instance layout is the superclass's fields
// followed by this class's own, one word each after the object header.
//
type ClassDef struct {
    // demangled name
    Name string
    // assigned unique id
    Cid ClassId
    // native id from heap dump, 0 if synthetic
    Hid HeapId
    // native id of superclass, for dump classes
    SuperHid HeapId
    // superclass def, after the class is cooked
    super *ClassDef
    // what the marker sees
    Kind mark.Kind
    // element type, for primitive array classes
    Elem *JType
    // own instance fields, in layout order
    fields []*Field
    // native ids of static references, for dump classes
    StaticRefs []HeapId
    // have we resolved the superclass and computed layout
    cooked bool
    // total instance fields including inherited
    numFields int
    // field index of each reference field, including inherited
    refIndexes []int
    // off-heap slot holding the class mirror, 0 if none
    mirrorSlot mark.Address
    // own instance fields as a dump lists them, for dump classes
    dumpFields []*Field
    // true if fields came from the dump, so dump field i is layout field i
    dumpLayout bool
}

type Classes struct {
    heap *Heap
    // class defs indexed by cid, entry [0] unused
    classes []*ClassDef
    // same, indexed by demangled class name
    byName map[string]*ClassDef
    // same, by native heap id
    byHid map[HeapId]*ClassDef
    // maps HPROF basic type tags to JType objects
    Jtypes []*JType
    // classes the heap relies on
    Object *ClassDef
    Class *ClassDef
    String *ClassDef
    ObjArray *ClassDef
    StackChunk *ClassDef
    // field index of String.value
    stringValue int
}

// Basic type tags
//
const (
    TypeObject = 2
    TypeBoolean = 4
    TypeChar = 5
    TypeFloat = 6
    TypeDouble = 7
    TypeByte = 8
    TypeShort = 9
    TypeInt = 10
    TypeLong = 11
)

func newClasses(h *Heap) *Classes {
    cs := &Classes{
        heap: h,
        classes: []*ClassDef{nil}, // leave room for entry [0]
        byName: make(map[string]*ClassDef, 1000),
        byHid: make(map[HeapId]*ClassDef, 1000),
        // Indexed by the "basic type" tag found in a CLASS_DUMP or PRIMITIVE_ARRAY_DUMP
        Jtypes: []*JType{
            nil, // 0 unused
            nil, // 1 unused
            &JType{"", true, 8, nil}, // object descriptor unnamed because it varies by actual type
            nil, // 3 unused
            &JType{"[Z", false, 1, nil},
            &JType{"[C", false, 2, nil},
            &JType{"[F", false, 4, nil},
            &JType{"[D", false, 8, nil},
            &JType{"[B", false, 1, nil},
            &JType{"[S", false, 2, nil},
            &JType{"[I", false, 4, nil},
            &JType{"[J", false, 8, nil},
        },
    }

    cs.Object = cs.define("java.lang.Object", 0, nil, mark.KindInstance, nil)
    cs.Class = cs.define("java.lang.Class", 0, cs.Object, mark.KindInstance, nil)
    for _, jtype := range cs.Jtypes {
        if jtype != nil && !jtype.IsObj {
            jtype.Class = cs.define(Demangle(jtype.ArrayClass), 0, cs.Object, mark.KindTypeArray, nil)
            jtype.Class.Elem = jtype
        }
    }
    cs.ObjArray = cs.define("java.lang.Object[]", 0, cs.Object, mark.KindObjArray, nil)
    cs.String = cs.define("java.lang.String", 0, cs.Object, mark.KindString, []*Field{
        &Field{"value", cs.Jtypes[TypeObject]},
        &Field{"hash", cs.Jtypes[TypeInt]},
    })
    cs.StackChunk = cs.define("jdk.internal.vm.StackChunk", 0, cs.Object, mark.KindStackChunk, nil)
    cs.stringValue = cs.String.FieldIndex("value")

    return cs
}

// Define and cook a class whose superclass is already known.  Mirrors are
// created separately, once the heap can allocate.
//
func (cs *Classes) define(name string, hid HeapId, super *ClassDef, kind mark.Kind, fields []*Field) *ClassDef {
    class := cs.add(name, hid, 0, kind, fields)
    class.super = super
    if super != nil {
        class.SuperHid = super.Hid
    }
    class.cook()
    return class
}

func (cs *Classes) add(name string, hid HeapId, superHid HeapId, kind mark.Kind, fields []*Field) *ClassDef {
    if cs.byName[name] != nil {
        log.Fatalf("Class named %s already defined\n", name)
    }
    if hid != 0 && cs.byHid[hid] != nil {
        log.Fatalf("Class with HID %x already defined as %s\n", hid, cs.byHid[hid].Name)
    }
    class := &ClassDef{
        Name: name,
        Cid: ClassId(len(cs.classes)),
        Hid: hid,
        SuperHid: superHid,
        Kind: kind,
        fields: fields,
    }
    cs.classes = append(cs.classes, class)
    cs.byName[name] = class
    if hid != 0 {
        cs.byHid[hid] = class
    }
    return class
}

// Define an instance class with a mirror.
//
func (h *Heap) DefineClass(name string, super *ClassDef, fields []*Field) *ClassDef {
    if super == nil {
        super = h.Classes.Object
    }
    class := h.Classes.define(name, 0, super, mark.KindInstance, fields)
    h.createMirror(class)
    return class
}

// Shorthand for a class whose fields are all references.
//
func (h *Heap) DefineRefClass(name string, numRefs int) *ClassDef {
    fields := make([]*Field, numRefs)
    for i := range fields {
        fields[i] = &Field{"f" + strconv.Itoa(i), h.Classes.Jtypes[TypeObject]}
    }
    return h.DefineClass(name, nil, fields)
}

// Allocate a mirror for the class: an old instance of a synthetic
// "Name.class" class with one reference field per static reference.  The
// mirror is held by an off-heap slot, the class's metadata handle.
//
func (h *Heap) createMirror(class *ClassDef) mark.Address {
    statics := make([]*Field, len(class.StaticRefs))
    for i := range statics {
        statics[i] = &Field{"static" + strconv.Itoa(i), h.Classes.Jtypes[TypeObject]}
    }
    mirrorClass := h.Classes.define(class.Name + ".class", 0, h.Classes.Class, mark.KindInstance, statics)
    mirror := h.NewInstance(mirrorClass, Old)
    class.mirrorSlot = h.newSlot(mirror)
    return mirror
}

// Give every dump class a mirror holding its static references.
//
func (h *Heap) createMirrors() {
    for _, class := range h.Classes.All() {
        if class.Hid != 0 && class.mirrorSlot == 0 {
            h.createMirror(class)
        }
    }
}

// A class read from a dump.  Classes the heap already knows by name (the
// bootstrap classes) take on the dump's id and statics rather than being
// defined twice; String also takes the dump's field layout, since a dump's
// strings are read with it.
//
func (cs *Classes) addDumpClass(name string, hid HeapId, superHid HeapId, fields []*Field, statics []HeapId) *ClassDef {
    if class := cs.byName[name]; class != nil {
        if class.Hid != 0 {
            log.Fatalf("Class %s defined twice, HIDs %x and %x\n", name, class.Hid, hid)
        }
        class.Hid = hid
        class.SuperHid = superHid
        class.dumpFields = fields
        class.StaticRefs = statics
        cs.byHid[hid] = class
        if class == cs.String {
            class.fields = fields
            class.dumpLayout = true
            class.cooked = false
            class.refIndexes = nil
            class.cook()
            cs.stringValue = class.FieldIndex("value")
        }
        return class
    }
    kind := mark.KindInstance
    if len(name) > 2 && name[len(name)-2:] == "[]" {
        kind = mark.KindObjArray
    }
    class := cs.add(name, hid, superHid, kind, fields)
    class.dumpFields = fields
    class.dumpLayout = true
    class.StaticRefs = statics
    return class
}

// Resolve superclasses of dump classes by heap id, then cook them all.
//
func (cs *Classes) cookAll() {
    for _, class := range cs.All() {
        if class.cooked || class.SuperHid == 0 {
            continue
        }
        class.super = cs.byHid[class.SuperHid]
        if class.super == nil {
            log.Fatalf("Superclass %x of %s not in dump\n", class.SuperHid, class.Name)
        }
    }
    for _, class := range cs.All() {
        if !class.cooked && class.super == nil && class != cs.Object {
            // no superclass in the dump, as for interfaces
            class.super = cs.Object
        }
        class.cook()
    }
}

// The class mirror object, or 0.
//
func (def *ClassDef) mirror(h *Heap) mark.Address {
    if def.mirrorSlot == 0 {
        return 0
    }
    return h.LoadRef(def.mirrorSlot)
}

// Return this class's superclass ClassDef.  Not usable until the class def
// has been cooked.
//
func (def *ClassDef) SuperDef() *ClassDef {
    def.ensureCooked("SuperDef")
    return def.super
}

// Is this class a subclass of another class.  Same caveats as SuperDef.
//
func (def *ClassDef) IsSubclassOf(super *ClassDef) bool {
    for c := def; c != nil; c = c.SuperDef() {
        if c == super {
            return true
        }
    }
    return false
}

// Layout index of the named field, searching superclasses, or -1.
//
func (def *ClassDef) FieldIndex(name string) int {
    for c := def; c != nil; c = c.super {
        base := 0
        if c.super != nil {
            base = c.super.numFields
        }
        for i, field := range c.fields {
            if field.Name == name {
                return base + i
            }
        }
    }
    return -1
}

func (def *ClassDef) NumFields() int {
    def.ensureCooked("NumFields")
    return def.numFields
}

// Field indexes holding references, inherited ones first.
//
func (def *ClassDef) RefIndexes() []int {
    def.ensureCooked("RefIndexes")
    return def.refIndexes
}

// "Cook" the class def once its superclass is known: compute the layout.
// Cooks all superclasses as a side effect.
//
func (def *ClassDef) cook() {
    if def.cooked {
        return
    }
    base := 0
    if def.super != nil {
        def.super.cook()
        base = def.super.numFields
        def.refIndexes = append(def.refIndexes, def.super.refIndexes...)
    }
    for i, field := range def.fields {
        if field.JType.IsObj {
            def.refIndexes = append(def.refIndexes, base + i)
        }
    }
    def.numFields = base + len(def.fields)
    def.cooked = true
}

// Verify class is cooked else die.
//
func (def *ClassDef) ensureCooked(funcName string) {
    if !def.cooked {
        log.Fatalf("ClassDef.%s invoked on raw def: %s\n", funcName, def.Name)
    }
}

func (cs *Classes) Count() int {
    return len(cs.classes) - 1
}

// All class defs in cid order.
//
func (cs *Classes) All() []*ClassDef {
    return cs.classes[1:]
}

func (cs *Classes) ByCid(cid ClassId) *ClassDef {
    return cs.classes[cid]
}

func (cs *Classes) ByHid(hid HeapId) *ClassDef {
    return cs.byHid[hid]
}

// Return the class with the given demangled name, or nil.
//
func (cs *Classes) Named(name string) *ClassDef {
    return cs.byName[name]
}

// Demangle heap class names, e.g.
//
//     [[I                -> int[][]
//     [Lcom/foo/Bar;     -> com.foo.Bar[]
//     com/foo/Bar        -> com.foo.Bar
//
func Demangle(name string) string {
    dimen := 0
    for len(name) > 0 && name[0] == '[' {
        name = name[1:]
        dimen++
    }
    if dimen > 0 && name[0] == 'L' {
        return Demangle(name[1:len(name)-1]) + strings.Repeat("[]", dimen)
    }
    if dimen > 0 {
        prim, ok := prims[name[0]]
        if !ok {
            log.Fatalf("Unknown primitive in type spec %s\n", name)
        }
        return prim + strings.Repeat("[]", dimen)
    }
    return strings.Replace(name, "/", ".", -1)
}

var prims = map[byte]string{
    'Z': "boolean", 'C': "char", 'F': "float", 'D': "double",
    'B': "byte", 'S': "short", 'I': "int", 'J': "long",
}
