// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package flusher implements the background flush loop: it pulls
// FlushTasks off a single-producer/single-consumer queue, decodes each
// affected group's old blob, merges in the task's updates, re-encodes
// via plcodec, and emits per-group results plus a completion sentinel
// back to the foreground over a second SPSC queue.
package flusher

import (
	"sort"

	"github.com/js0-site/ftlmap/internal/must"
	"github.com/js0-site/ftlmap/plcodec"
	"github.com/js0-site/ftlmap/syncqueue"
	"github.com/js0-site/ftlmap/wbuf"
)

// Store is the subset of group.Store the flusher needs: read a group's
// current blob to merge against. Expressed as an interface so tests can
// exercise process_group without a full Store.
type Store interface {
	Count() int
	Blob(g int) (plcodec.Head, []byte)
}

// Task is a FlushTask: a reference to one sealed write buffer awaiting
// ingestion.
type Task struct {
	Buffer *wbuf.Sealed
}

// GroupResult is one group's freshly computed flush outcome, ready for
// the foreground to install via group.Store.Apply.
type GroupResult struct {
	Group  int
	Head   plcodec.Head
	Chunks []plcodec.Chunk
	Empty  bool
}

// Result is one item the flusher emits: either a GroupResult or, once
// every run in a task has been processed, Done marking that task's
// completion.
type Result struct {
	Group *GroupResult
	Done  bool
}

// Flusher owns the SPSC task and result queues and the scratch buffers
// process_group reuses across groups within a task.
type Flusher struct {
	tasks   *syncqueue.FIFO
	results *syncqueue.FIFO

	store     Store
	groupSize int
	epsilon   uint64

	scratch []uint64
	dirty   []bool
}

// New returns a Flusher reading groups from store. Run must be started
// on its own goroutine to actually process submitted tasks.
func New(store Store, groupSize int, epsilon uint64) *Flusher {
	return &Flusher{
		tasks:     syncqueue.NewFIFO(),
		results:   syncqueue.NewFIFO(),
		store:     store,
		groupSize: groupSize,
		epsilon:   epsilon,
		scratch:   make([]uint64, groupSize),
		dirty:     make([]bool, groupSize),
	}
}

// Submit enqueues a FlushTask for the background loop. Non-blocking.
func (f *Flusher) Submit(buf *wbuf.Sealed) {
	f.tasks.Put(&Task{Buffer: buf})
}

// Close signals that no further tasks will be submitted; Run returns
// (and closes the result queue) once it has drained the tasks already
// queued.
func (f *Flusher) Close() {
	f.tasks.Close()
}

// NextResult blocks until a result is available or the flusher has
// finished (queue closed and drained), matching sync()'s "blocks until
// quiescent" contract.
func (f *Flusher) NextResult() (Result, bool) {
	v, ok := f.results.Get()
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// TryNextResult returns a ready result without blocking, for set()'s
// "drains any ready background results before returning" contract.
func (f *Flusher) TryNextResult() (Result, bool) {
	v, ok := f.results.TryGet()
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// Run executes the blocking receive loop on the single background
// worker thread: pull a task, process it group-by-group, emit Done,
// repeat until the task queue is closed.
func (f *Flusher) Run() {
	for {
		v, ok := f.tasks.Get()
		if !ok {
			f.results.Close()
			return
		}
		f.processTask(v.(*Task))
	}
}

// processTask collects and sorts the sealed buffer's entries, carves
// runs sharing a group index, processes each run, then emits Done.
func (f *Flusher) processTask(task *Task) {
	entries := task.Buffer.Entries()
	lbas := make([]uint64, 0, len(entries))
	for lba := range entries {
		lbas = append(lbas, lba)
	}
	sort.Slice(lbas, func(i, j int) bool { return lbas[i] < lbas[j] })

	groupOf := func(lba uint64) int { return int(lba / uint64(f.groupSize)) }

	i := 0
	for i < len(lbas) {
		g := groupOf(lbas[i])
		j := i + 1
		for j < len(lbas) && groupOf(lbas[j]) == g {
			j++
		}
		f.processGroup(g, lbas[i:j], entries)
		i = j
	}
	f.results.Put(Result{Done: true})
}

// processGroup implements process_group(g, run): decode, merge, and
// re-encode one group's window, reusing the Flusher's hoisted scratch
// and dirty-bitmap buffers.
func (f *Flusher) processGroup(g int, run []uint64, entries map[uint64]uint64) {
	must.Truef(g >= 0 && g < f.store.Count(), "flusher: group %d out of range (store has %d groups)", g, f.store.Count())

	oldHead, oldPayload := f.store.Blob(g)

	for i := range f.scratch {
		f.scratch[i] = plcodec.Unmapped
		f.dirty[i] = false
	}
	if len(oldPayload) > 0 {
		plcodec.DecodeGroup(oldHead, oldPayload, f.groupSize, f.scratch)
	}

	base := uint64(g) * uint64(f.groupSize)
	for _, lba := range run {
		sub := int(lba - base)
		f.scratch[sub] = entries[lba]
		f.dirty[sub] = true
	}

	head, chunks, empty := plcodec.EncodeGroup(f.scratch, f.groupSize, f.epsilon, oldHead, oldPayload, f.dirty)
	f.results.Put(Result{Group: &GroupResult{Group: g, Head: head, Chunks: chunks, Empty: empty}})
}
