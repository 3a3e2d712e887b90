// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package track provides range queries over the position sorted, tabix
// indexed files holding the LRR and BAF tracks of a sample.
package track

import (
	"context"
	"fmt"
	"log"

	"github.com/googlegenomics/coviz/internal/genomics"
)

// Range selects the records of a key to return.  Start and End are one-based
// and inclusive, as in tabix region strings.  All selects every record of the
// key and ignores Start and End.
type Range struct {
	Start, End int64
	All        bool
}

// String formats r as the position part of a tabix region.
func (r Range) String() string {
	if r.All {
		return ""
	}
	start := r.Start
	if start < 0 {
		start = 0
	}
	return fmt.Sprintf("%d-%d", start, r.End)
}

// Region returns the tabix region string selecting r within key.
func Region(key string, r Range) string {
	if r.All {
		return key
	}
	return key + ":" + r.String()
}

// LRRKey returns the key of the coverage records of chromosome at tier.
func LRRKey(tier genomics.Tier, chromosome string) string {
	return string(tier) + "_" + chromosome
}

// BAFKey returns the key of the allele frequency records of chromosome.
func BAFKey(chromosome string) string {
	return chromosome
}

// Source is a queryable track file.
type Source interface {
	// Query returns the records of key within r.  Failures are logged and
	// result in an empty sequence whose Err reports the cause.
	Query(ctx context.Context, key string, r Range) *Records
}

type iterator interface {
	Next() bool
	Fields() []string
	Err() error
	Close() error
}

// Records is a lazy, finite sequence of records in file order.  It cannot be
// restarted once consumed.
type Records struct {
	ctx    context.Context
	it     iterator
	closer func() error
	name   string
	fields []string
	err    error
}

func newRecords(ctx context.Context, name string, it iterator, closer func() error) *Records {
	return &Records{ctx: ctx, it: it, closer: closer, name: name}
}

// failed returns an empty sequence after logging err.
func failed(name string, err error) *Records {
	log.Printf("Query %s failed: %v", name, err)
	return &Records{name: name, err: err}
}

// Next advances to the next record.  It returns false at the end of the
// sequence, after a failure or once the query context is done.
func (r *Records) Next() bool {
	if r.it == nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.stop(err)
		return false
	}
	if r.it.Next() {
		r.fields = r.it.Fields()
		return true
	}
	if err := r.it.Err(); err != nil {
		r.stop(err)
		return false
	}
	r.fields = nil
	return false
}

func (r *Records) stop(err error) {
	if r.err == nil {
		r.err = err
		log.Printf("Query %s failed: %v", r.name, err)
	}
	r.fields = nil
	r.Close()
}

// Fields returns the whitespace separated fields of the current record.
func (r *Records) Fields() []string {
	return r.fields
}

// Err returns the cause of a failed or interrupted query.
func (r *Records) Err() error {
	return r.err
}

// Close releases the resources held by the query.  It is safe to call more
// than once.
func (r *Records) Close() error {
	if r.it == nil {
		return nil
	}
	err := r.it.Close()
	if r.closer != nil {
		if cerr := r.closer(); err == nil {
			err = cerr
		}
	}
	r.it, r.closer = nil, nil
	return err
}

// Collect reads the remaining records and closes r.
func (r *Records) Collect() [][]string {
	var records [][]string
	for r.Next() {
		records = append(records, r.Fields())
	}
	r.Close()
	return records
}

// Slice returns a Records yielding the given records, for sources held in
// memory.
func Slice(records [][]string) *Records {
	return newRecords(context.Background(), "memory", &sliceIterator{records: records, i: -1}, nil)
}

type sliceIterator struct {
	records [][]string
	i       int
}

func (it *sliceIterator) Next() bool {
	it.i++
	return it.i < len(it.records)
}

func (it *sliceIterator) Fields() []string { return it.records[it.i] }
func (it *sliceIterator) Err() error       { return nil }
func (it *sliceIterator) Close() error     { return nil }
