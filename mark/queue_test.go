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
    "math/rand"
    "sync"

    . "gopkg.in/check.v1"
)

type QueueSuite struct{}
var _ = Suite(&QueueSuite{})

func task(i int) Task {
    return NewTask(Address(i + 1) * WordSize, false, false)
}

func (s *QueueSuite) TestPushPopLIFO(c *C) {
    set := NewQueueSet(1, 16)
    q := set.Queue(0)
    for i := 0; i < 10; i++ {
        c.Assert(q.Push(task(i)), Equals, true)
    }
    c.Check(set.TaskCount(), Equals, 10)
    for i := 9; i >= 0; i-- {
        t, ok := q.Pop()
        c.Assert(ok, Equals, true)
        c.Check(t, Equals, task(i))
    }
    _, ok := q.Pop()
    c.Check(ok, Equals, false)
    c.Check(set.IsEmpty(), Equals, true)
}

// Pushing past capacity spills older halves to the overflow stack; every
// task comes back exactly once.
//
func (s *QueueSuite) TestSpillAndRefill(c *C) {
    set := NewQueueSet(1, 8)
    q := set.Queue(0)
    for i := 0; i < 100; i++ {
        q.Push(task(i))
    }
    c.Check(q.Size() <= 8, Equals, true)
    c.Check(set.TaskCount(), Equals, 100)
    c.Check(set.IsEmpty(), Equals, false)

    seen := make(map[Task]bool)
    for {
        t, ok := q.Pop()
        if !ok {
            break
        }
        c.Assert(seen[t], Equals, false)
        seen[t] = true
    }
    c.Check(len(seen), Equals, 100)
    c.Check(set.TaskCount(), Equals, 0)
}

// Thieves take the oldest task, the owner the newest.
//
func (s *QueueSuite) TestStealFromHead(c *C) {
    set := NewQueueSet(2, 16)
    q := set.Queue(0)
    for i := 0; i < 4; i++ {
        q.Push(task(i))
    }
    rnd := rand.New(rand.NewSource(1))
    t, ok := set.Steal(1, rnd)
    c.Assert(ok, Equals, true)
    c.Check(t, Equals, task(0))
    t, ok = q.Pop()
    c.Assert(ok, Equals, true)
    c.Check(t, Equals, task(3))
    c.Check(set.TaskCount(), Equals, 2)
}

func (s *QueueSuite) TestNothingToSteal(c *C) {
    set := NewQueueSet(3, 16)
    set.Queue(1).Push(task(0))
    rnd := rand.New(rand.NewSource(1))
    // a worker never steals from itself
    _, ok := set.Steal(1, rnd)
    c.Check(ok, Equals, false)
    _, ok = NewQueueSet(1, 16).Steal(0, rnd)
    c.Check(ok, Equals, false)
}

// Owners pushing and popping while thieves steal: nothing lost or doubled.
//
func (s *QueueSuite) TestConcurrentConservation(c *C) {
    const workers = 4
    const perWorker = 20000
    set := NewQueueSet(workers, 64)

    var mu sync.Mutex
    seen := make(map[Task]int)
    record := func(local []Task) {
        mu.Lock()
        for _, t := range local {
            seen[t]++
        }
        mu.Unlock()
    }

    var wg sync.WaitGroup
    wg.Add(workers)
    for w := 0; w < workers; w++ {
        go func(w int) {
            defer wg.Done()
            q := set.Queue(w)
            rnd := rand.New(rand.NewSource(int64(w)))
            var local []Task
            for i := 0; i < perWorker; i++ {
                q.Push(task(w * perWorker + i))
                if i % 3 == 0 {
                    if t, ok := q.Pop(); ok {
                        local = append(local, t)
                    }
                }
                if i % 5 == 0 {
                    if t, ok := set.Steal(w, rnd); ok {
                        local = append(local, t)
                    }
                }
            }
            record(local)
        }(w)
    }
    wg.Wait()

    var rest []Task
    for w := 0; w < workers; w++ {
        for {
            t, ok := set.Queue(w).Pop()
            if !ok {
                break
            }
            rest = append(rest, t)
        }
    }
    record(rest)

    c.Check(len(seen), Equals, workers * perWorker)
    for t, n := range seen {
        if n != 1 {
            c.Fatalf("task %v seen %d times", t, n)
        }
    }
}
