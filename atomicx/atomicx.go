// Copyright 2025 TimeWtr
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package atomicx provides small atomic value wrappers used across the
// kernel for lock-free counters and state flags.
package atomicx

import "sync/atomic"

type Int32 struct {
	v int32
}

func NewInt32(initial int32) *Int32 {
	return &Int32{v: initial}
}

func (i *Int32) Load() int32 { return atomic.LoadInt32(&i.v) }

func (i *Int32) Store(val int32) { atomic.StoreInt32(&i.v, val) }

func (i *Int32) Add(delta int32) int32 { return atomic.AddInt32(&i.v, delta) }

func (i *Int32) CompareAndSwap(old, newVal int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, newVal)
}

type Int64 struct {
	v int64
}

func NewInt64(initial int64) *Int64 {
	return &Int64{v: initial}
}

func (i *Int64) Load() int64 { return atomic.LoadInt64(&i.v) }

func (i *Int64) Store(val int64) { atomic.StoreInt64(&i.v, val) }

func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }

type Bool struct {
	v int32
}

func NewBool(initial ...bool) *Bool {
	b := &Bool{}
	if len(initial) > 0 && initial[0] {
		b.v = 1
	}
	return b
}

func (b *Bool) Load() bool { return atomic.LoadInt32(&b.v) == 1 }

func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreInt32(&b.v, 1)
		return
	}
	atomic.StoreInt32(&b.v, 0)
}

func (b *Bool) CompareAndSwap(old, newVal bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if newVal {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&b.v, o, n)
}

type Pointer struct {
	v atomic.Pointer[any]
}

func NewPointer(value any) *Pointer {
	p := &Pointer{}
	p.v.Store(&value)
	return p
}

func (p *Pointer) Load() any {
	got := p.v.Load()
	if got == nil {
		return nil
	}
	return *got
}

func (p *Pointer) Store(value any) {
	p.v.Store(&value)
}
