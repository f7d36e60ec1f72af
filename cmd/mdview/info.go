// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <dump-file>",
	Short: "Display minidump summary information",
	Long:  `Display the streams present in a minidump, its system info, and its crash exception, if any.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	res, err := openAndParse(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Streams present: %v\n", res.StreamsPresent)
	fmt.Fprintf(output, "Modules: %d\n", res.ModulesCount)
	fmt.Fprintf(output, "Threads: %d\n", res.ThreadsCount)

	if res.SystemInfo != nil {
		si := res.SystemInfo
		fmt.Fprintf(output, "\nSystem info:\n")
		fmt.Fprintf(output, "  Architecture: %s\n", si.ProcessorArchitecture)
		fmt.Fprintf(output, "  OS: %s\n", si.OS)
		fmt.Fprintf(output, "  Product type: %s\n", si.ProductType)
		fmt.Fprintf(output, "  Processors: %d\n", si.NumberOfProcessors)
	}

	if res.Exception != nil {
		exc := res.Exception
		fmt.Fprintf(output, "\nException:\n")
		fmt.Fprintf(output, "  Thread: 0x%x\n", exc.ThreadID)
		fmt.Fprintf(output, "  Reason: %s\n", exc.CrashReason)
		fmt.Fprintf(output, "  Address: %s\n", exc.CrashAddress)
	}

	if len(res.Anomalies) > 0 {
		fmt.Fprintf(output, "\nAnomalies:\n")
		for _, a := range res.Anomalies {
			fmt.Fprintf(output, "  - %s\n", a)
		}
	}

	return nil
}
