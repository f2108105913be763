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

package main

import (
    "flag"
    "fmt"
    "log"
    "os"
    "runtime"
    "runtime/pprof"

    "github.com/jonross/regionmark/heap"
    "github.com/jonross/regionmark/mark"
)

// Processing options.
//
type Options struct {
    Load heap.LoadOptions
    Mark mark.Config
    // print a live class histogram
    Histo bool
    // print the young age census
    Census bool
    // check marking against a sequential walk
    Verify bool
    // write cpu profile here
    CPUProfile string
}

func main() {

    runtime.GOMAXPROCS(runtime.NumCPU())

    options, filename := parseArgs()

    if options.CPUProfile != "" {
        f, err := os.Create(options.CPUProfile)
        if err != nil {
            log.Fatal(err)
        }
        pprof.StartCPUProfile(f)
        defer pprof.StopCPUProfile()
    }

    h, err := heap.ReadHeapDump(filename, options.Load)
    if err != nil {
        log.Fatal(err)
    }

    if err := run(h, options); err != nil {
        log.Fatal(err)
    }
}

func parseArgs() (*Options, string) {

    defaults := mark.DefaultConfig()
    heapDefaults := heap.DefaultConfig()

    cpuProfile := flag.String("cpuprofile", "", "write cpu profile to file")
    workers := flag.Int("workers", defaults.Workers, "number of marking workers")
    gen := flag.String("gen", defaults.Generation.String(), "generation to mark: nongen, global, young or old")
    stride := flag.Int("stride", defaults.Stride, "object array elements per chunk task")
    regionWords := flag.Int("region-words", heapDefaults.RegionWords, "words per heap region, a power of two")
    compressed := flag.Bool("compressed", heapDefaults.Compressed, "use 32-bit compressed references")
    dedup := flag.String("dedup", defaults.Dedup.String(), "string dedup policy: off, enqueue or always")
    oldFraction := flag.Float64("old-fraction", 0, "fraction of objects to place in old regions")
    maxAge := flag.Int("max-age", 0, "give young objects ages up to this")
    doHisto := flag.Bool("histo", false, "print live class histogram")
    doCensus := flag.Bool("census", false, "print the age census of young objects")
    verify := flag.Bool("verify", false, "check marking against a sequential walk")
    flag.Parse()
    args := flag.Args()

    switch {
        case len(args) == 0:
            log.Fatal("Missing heap filename")
        case len(args) > 1:
            log.Fatal("Extra args following heap filename")
    }

    generation, err := mark.ParseGeneration(*gen)
    if err != nil {
        log.Fatal(err)
    }
    policy, ok := mark.ParseDedupPolicy(*dedup)
    if !ok {
        log.Fatalf("Unknown dedup policy %q\n", *dedup)
    }
    if *oldFraction < 0 || *oldFraction > 1 {
        log.Fatalf("Old fraction %v not between 0 and 1\n", *oldFraction)
    }
    if *workers <= 0 {
        log.Fatalf("Need at least one worker\n")
    }
    if *verify && generation != mark.NonGen && generation != mark.Global {
        log.Fatalf("Can only verify a full-heap marking, not %v\n", generation)
    }

    options := &Options{
        Load: heap.LoadOptions{
            Heap: heap.Config{RegionWords: *regionWords, Compressed: *compressed, CardBytes: heapDefaults.CardBytes},
            OldFraction: *oldFraction,
            MaxAge: *maxAge,
        },
        Mark: defaults,
        Histo: *doHisto,
        Census: *doCensus,
        Verify: *verify,
        CPUProfile: *cpuProfile,
    }
    options.Mark.Workers = *workers
    options.Mark.Generation = generation
    options.Mark.Stride = *stride
    options.Mark.Dedup = policy
    options.Mark.AdaptiveTenuring = *doCensus

    return options, args[0]
}

// Mark a loaded heap from its roots and report on the result.
//
func run(h *heap.Heap, options *Options) error {

    ctx := mark.NewMarkingContext(heap.HeapBase, h.SizeBytes())
    env := mark.Env{
        Heap: h,
        Context: ctx,
        RememberedSet: h.Cards,
    }
    var census *mark.Census
    if options.Census {
        census = mark.NewCensus(options.Mark.Workers)
        env.Census = census
    }
    var requests *mark.DedupQueue
    if options.Mark.Dedup != mark.DedupDisabled {
        requests = &mark.DedupQueue{}
        env.DedupSink = requests
    }

    for _, r := range h.Regions() {
        r.ResetLiveWords()
    }
    h.Cards.Clear()

    m := mark.NewMarker(options.Mark, env)
    roots := h.Roots()
    m.EnqueueInitialRoots(roots)
    m.Run()

    printRegions(h)
    if requests != nil {
        fmt.Printf("%d strings requested for dedup\n", len(requests.Drain()))
    }
    if options.Mark.Generation != mark.NonGen {
        fmt.Printf("%d dirty cards\n", len(h.Cards.DirtyCards()))
    }
    if options.Histo {
        heap.LiveHisto(h, ctx).Print(os.Stdout)
    }
    if census != nil {
        census.Print(os.Stdout)
    }

    if options.Verify {
        gcr := heap.FindLiveObjects(h, roots, options.Mark.VisitMetadata)
        if err := gcr.Verify(ctx); err != nil {
            return err
        }
        fmt.Printf("verified %d live objects\n", gcr.NumLive())
    }
    return nil
}

// One line per region with anything live, then totals.
//
func printRegions(h *heap.Heap) {
    used, live := 0, 0
    for _, r := range h.Regions() {
        if r.LiveWords() > 0 {
            fmt.Printf("%v\n", r)
        }
        used += r.UsedWords()
        live += r.LiveWords()
    }
    fmt.Printf("%d of %d used words live in %d regions\n", live, used, len(h.Regions()))
}
