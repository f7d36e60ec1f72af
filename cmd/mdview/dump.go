// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <dump-file>",
	Short: "Dump the full parsed minidump as JSON",
	Long:  `Dump the complete Result document - every decoded stream, classified context, and unwound stack - as indented JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func runDump(cmd *cobra.Command, args []string) error {
	res, err := openAndParse(args[0])
	if err != nil {
		return err
	}

	buf, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "  "); err != nil {
		fmt.Fprintln(output, string(buf))
		return nil
	}
	fmt.Fprintln(output, pretty.String())
	return nil
}
