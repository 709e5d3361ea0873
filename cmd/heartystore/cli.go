// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/codegangsta/cli"

	log "github.com/golang/glog"

	"heartystore/internal/config"
	"heartystore/internal/engine"
	"heartystore/internal/herrors"
)

var usage = `
	heartystore manages fixed-capacity object stores with two optional
	redundancy schemes: mirrored pairs (a full byte-for-byte replica) and
	HA groups (XOR parity across two or more members).

	Every subcommand is a single shot against the store rooted at -base
	(default: the resolved configuration base directory).
`

const baseFlagName = "base"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "heartystore"
	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  baseFlagName,
			Usage: "storage root directory (overrides the resolved configuration base directory)",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "init",
			Usage:     "Initializes a new fixed-capacity store.",
			ArgsUsage: "<store-id>",
			Action:    cmdInit,
		},
		{
			Name:      "put",
			Usage:     "Puts a file's contents into a store's first free block.",
			ArgsUsage: "<store-id> <path>",
			Action:    cmdPut,
		},
		{
			Name:      "get",
			Usage:     "Reads an object's payload to stdout.",
			ArgsUsage: "<store-id> <object-id>",
			Action:    cmdGet,
		},
		{
			Name:   "list",
			Usage:  "Lists every store under the storage root.",
			Action: cmdList,
		},
		{
			Name:      "replicate",
			Usage:     "Creates a full mirror of an existing store.",
			ArgsUsage: "<store-id>",
			Action:    cmdReplicate,
		},
		{
			Name:      "ha",
			Usage:     "Forms an HA group with XOR parity from two or more stores.",
			ArgsUsage: "<id1> <id2> [<id3>...]",
			Action:    cmdHA,
		},
		{
			Name:      "destroy",
			Usage:     "Destroys a store (or tombstones it, if it's an HA member).",
			ArgsUsage: "<store-id>",
			Action:    cmdDestroy,
		},
	}
	return app
}

// resolveEngine loads configuration, applies the -base flag override, and
// returns an Engine bound to the resolved base directory.
func resolveEngine(c *cli.Context) (*engine.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if base := c.GlobalString(baseFlagName); base != "" {
		cfg.BaseDir = base
	}
	return engine.New(cfg.BaseDir, cfg.BlockSize, int(cfg.NumBlocks)), nil
}

func parseStoreID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, herrors.Wrap(herrors.KindInputInvalid, "invalid store id", err)
	}
	return id, nil
}

// exitError prints a single-line diagnostic to stderr and returns a
// non-nil error so main can exit 1; the message is printed here (not left
// to the cli framework) so it is always exactly one line, as the command
// surface contract requires.
func exitError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	return errors.New(msg)
}

func cmdInit(c *cli.Context) error {
	if c.NArg() != 1 {
		return exitError("Usage: heartystore init <store-id>")
	}
	id, err := parseStoreID(c.Args().Get(0))
	if err != nil {
		return exitError("%s", err)
	}
	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	if err := eng.Init(id); err != nil {
		return exitError("%s", err)
	}
	fmt.Printf("Successfully initialized store %d\n", id)
	return nil
}

func cmdPut(c *cli.Context) error {
	if c.NArg() != 2 {
		return exitError("Usage: heartystore put <store-id> <path>")
	}
	id, err := parseStoreID(c.Args().Get(0))
	if err != nil {
		return exitError("%s", err)
	}
	path := c.Args().Get(1)

	f, err := os.Open(path)
	if err != nil {
		return exitError("%s", herrors.Wrap(herrors.KindInputInvalid, "open payload file", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return exitError("%s", herrors.Wrap(herrors.KindIO, "stat payload file", err))
	}

	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	oid, err := eng.Put(id, f, info.Size())
	if err != nil {
		return exitError("%s", err)
	}
	fmt.Printf("Successfully put object id %s into %d\n", oid, id)
	return nil
}

func cmdGet(c *cli.Context) error {
	if c.NArg() != 2 {
		return exitError("Usage: heartystore get <store-id> <object-id>")
	}
	id, err := parseStoreID(c.Args().Get(0))
	if err != nil {
		return exitError("%s", err)
	}
	objectID := c.Args().Get(1)

	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	data, err := eng.Get(id, objectID)
	if err != nil {
		return exitError("%s", err)
	}
	if _, err := os.Stdout.Write(data); err != nil {
		return exitError("%s", herrors.Wrap(herrors.KindIO, "write payload to stdout", err))
	}
	log.Infof("Successfully got the object %s", objectID)
	return nil
}

func cmdList(c *cli.Context) error {
	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	records, err := eng.List()
	if err != nil {
		return exitError("%s", err)
	}
	if len(records) == 0 {
		fmt.Println("No stores found")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%d - %s (used: %d/%d blocks)\n", r.StoreID, r.Status, r.UsedBlocks, r.TotalBlocks)
	}
	return nil
}

func cmdReplicate(c *cli.Context) error {
	if c.NArg() != 1 {
		return exitError("Usage: heartystore replicate <store-id>")
	}
	id, err := parseStoreID(c.Args().Get(0))
	if err != nil {
		return exitError("%s", err)
	}
	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	replicaID, err := eng.Replicate(id)
	if err != nil {
		return exitError("%s", err)
	}
	fmt.Println(replicaID)
	return nil
}

func cmdHA(c *cli.Context) error {
	if c.NArg() < 2 {
		return exitError("Usage: heartystore ha <id1> <id2> [<id3>...]")
	}
	members := make([]int, c.NArg())
	for i := range members {
		id, err := parseStoreID(c.Args().Get(i))
		if err != nil {
			return exitError("%s", err)
		}
		members[i] = id
	}
	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	gid, err := eng.CreateHAGroup(members)
	if err != nil {
		return exitError("%s", err)
	}
	fmt.Printf("Successfully created HA group with ID %d\n", gid)
	return nil
}

func cmdDestroy(c *cli.Context) error {
	if c.NArg() != 1 {
		return exitError("Usage: heartystore destroy <store-id>")
	}
	id, err := parseStoreID(c.Args().Get(0))
	if err != nil {
		return exitError("%s", err)
	}
	eng, err := resolveEngine(c)
	if err != nil {
		return exitError("%s", err)
	}
	if err := eng.Destroy(id); err != nil {
		return exitError("%s", err)
	}
	fmt.Printf("Store %d destroyed successfully\n", id)
	return nil
}
