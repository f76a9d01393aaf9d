// Copyright (c) The vfmon authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/vfmon/vfmon/config"
	"github.com/vfmon/vfmon/sim"
)

func runCmd() *cobra.Command {
	var profilePath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a machine profile under the monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(profilePath)
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "vfmon.yaml", "machine profile")

	return cmd
}

func run(profilePath string) error {
	profile, err := config.Load(profilePath)

	if err != nil {
		return err
	}

	pol, err := profile.NewPolicy()

	if err != nil {
		return err
	}

	m := sim.New(profile.Harts, profile.Entry, pol)

	if err = loadImage(m, profile.Firmware); err != nil {
		return fmt.Errorf("firmware, %w", err)
	}

	if profile.Payload != nil {
		if err = loadImage(m, *profile.Payload); err != nil {
			return fmt.Errorf("payload, %w", err)
		}
	}

	log.Printf("starting %d hart(s), policy %s, entry %#x", profile.Harts, pol.Name(), profile.Entry)

	code, err := m.Run()

	if out := m.Console(); len(out) > 0 {
		os.Stdout.WriteString(out)
	}

	if err != nil {
		if errors.Is(err, sim.ErrHalted) {
			os.Exit(1)
		}

		return err
	}

	log.Printf("guest shutdown, exit code %d", code)
	os.Exit(code)

	return nil
}

func loadImage(m *sim.Machine, img config.Image) error {
	buf, err := os.ReadFile(img.Path)

	if err != nil {
		return err
	}

	return m.Load(img.Load, buf)
}
