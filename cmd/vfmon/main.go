// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// vfmon is the host-side runner: it loads a machine profile and guest
// images, executes them under the monitor on the simulated machine and
// propagates the guest's exit code.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

const splash = `vfmon virtual firmware monitor, host runner`

func main() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	root := &cobra.Command{
		Use:           "vfmon",
		Short:         splash,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("vfmon: %v", err)
	}
}
