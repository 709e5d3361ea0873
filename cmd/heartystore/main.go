// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"os"
)

func main() {
	flag.Set("logtostderr", "true")
	// The command line belongs to the cli app (including its global -base
	// flag); the standard flag set is parsed empty so glog sees its flags
	// as parsed without rejecting the app's own flags.
	flag.CommandLine.Parse(nil)

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
