// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package minidump

// Fuzz is the go-fuzz entry point: open the buffer, run the full parse,
// report whether it came back clean.
func Fuzz(data []byte) int {
	d, err := NewBytes(data, &Options{})
	if err != nil {
		return 0
	}
	if _, err := d.Parse(); err != nil {
		return 0
	}
	return 1
}
