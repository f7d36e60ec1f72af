// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/saferwall/minidump"
)

// openAndParse mmaps path and runs the full engine, returning the finished
// Result document. Every subcommand starts from this.
func openAndParse(path string) (*minidump.Result, error) {
	d, err := minidump.New(path, &minidump.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer d.Close()

	res, err := d.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return res, nil
}
