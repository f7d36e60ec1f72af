// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules <dump-file>",
	Short: "List loaded modules",
	Long:  `List every module captured in the ModuleList stream, with its base address, size and PDB identity.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runModules,
}

func runModules(cmd *cobra.Command, args []string) error {
	res, err := openAndParse(args[0])
	if err != nil {
		return err
	}

	for _, m := range res.Modules {
		fmt.Fprintf(output, "0x%016x  %-10d  %s\n", uint64(m.BaseOfImage), m.SizeOfImage, m.Name)
		if verbose && m.CodeView != nil {
			fmt.Fprintf(output, "    pdb: %s (%s, age %d)\n", m.CodeView.PDBFileName, m.CodeView.Format, m.CodeView.Age)
		}
	}

	return nil
}
