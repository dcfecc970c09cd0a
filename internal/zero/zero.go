// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package zero provides facilities for efficiently zeroing Go values.
package zero

import (
	"reflect"
	"sync"
)

var zeroes sync.Map // map[reflect.Type]reflect.Value

// Slice zeroes the elements 0 <= i < v.Len() of the provided slice.
// Slice panics if the value is not a slice.
func Slice(v interface{}) {
	SliceValue(reflect.ValueOf(v))
}

// SliceValue zeroes the elements 0 <= i < v.Len() of the provided
// slice value. SliceValue panics if the value is not a slice.
//
// Common column element types are special-cased so that the zeroing
// loop compiles down to a memory clear; other element types fall back
// to the reflection API.
func SliceValue(v reflect.Value) {
	if v.Kind() != reflect.Slice {
		panic("zero.Slice: called on non-slice value")
	}
	switch slice := v.Interface().(type) {
	case []float64:
		for i := range slice {
			slice[i] = 0
		}
	case []float32:
		for i := range slice {
			slice[i] = 0
		}
	case []int:
		for i := range slice {
			slice[i] = 0
		}
	case []int64:
		for i := range slice {
			slice[i] = 0
		}
	case []uint64:
		for i := range slice {
			slice[i] = 0
		}
	case []byte:
		for i := range slice {
			slice[i] = 0
		}
	case []string:
		for i := range slice {
			slice[i] = ""
		}
	case [][]byte:
		for i := range slice {
			slice[i] = nil
		}
	default:
		elem := v.Type().Elem()
		zi, ok := zeroes.Load(elem)
		if !ok {
			zi, _ = zeroes.LoadOrStore(elem, reflect.Zero(elem))
		}
		z := zi.(reflect.Value)
		for i, n := 0, v.Len(); i < n; i++ {
			v.Index(i).Set(z)
		}
	}
}
