// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"
)

// Hashing ops for the builtin column types. Floats hash their IEEE
// bit patterns, so +0 and -0 hash differently and NaNs hash by
// payload.
func init() {
	RegisterOps(func(col []string) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return murmur3.Sum32WithSeed([]byte(col[i]), seed)
		}}
	})
	RegisterOps(func(col []int) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash64(uint64(col[i]), seed)
		}}
	})
	RegisterOps(func(col []int8) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(uint32(col[i]), seed)
		}}
	})
	RegisterOps(func(col []int16) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(uint32(col[i]), seed)
		}}
	})
	RegisterOps(func(col []int32) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(uint32(col[i]), seed)
		}}
	})
	RegisterOps(func(col []int64) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash64(uint64(col[i]), seed)
		}}
	})
	RegisterOps(func(col []uint) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash64(uint64(col[i]), seed)
		}}
	})
	RegisterOps(func(col []uint8) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(uint32(col[i]), seed)
		}}
	})
	RegisterOps(func(col []uint16) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(uint32(col[i]), seed)
		}}
	})
	RegisterOps(func(col []uint32) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(col[i], seed)
		}}
	})
	RegisterOps(func(col []uint64) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash64(col[i], seed)
		}}
	})
	RegisterOps(func(col []float32) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash32(math.Float32bits(col[i]), seed)
		}}
	})
	RegisterOps(func(col []float64) Ops {
		return Ops{HashWithSeed: func(i int, seed uint32) uint32 {
			return hash64(math.Float64bits(col[i]), seed)
		}}
	})
}

func hash32(x, seed uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	return murmur3.Sum32WithSeed(b[:], seed)
}

func hash64(x uint64, seed uint32) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return murmur3.Sum32WithSeed(b[:], seed)
}
