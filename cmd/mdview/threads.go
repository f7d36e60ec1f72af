// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads <dump-file>",
	Short: "List threads and their unwound stacks",
	Long:  `List every thread captured in the ThreadList stream, along with the unwinder's outcome and recovered stack frames.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runThreads,
}

func runThreads(cmd *cobra.Command, args []string) error {
	res, err := openAndParse(args[0])
	if err != nil {
		return err
	}

	for _, t := range res.Threads {
		fmt.Fprintf(output, "Thread 0x%x (priority %s, outcome %s)\n", t.ThreadID, t.PriorityClass, t.UnwindOutcome)
		for i, f := range t.StackFrames {
			name := f.ModuleName
			if name == "" {
				name = "?"
			}
			fmt.Fprintf(output, "  #%-2d 0x%016x  %-13s  %s\n", i, uint64(f.InstructionAddress), f.Trust, name)
		}
	}

	return nil
}
