package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/hncpd/hncpd/internal/termcolor"
	"github.com/hncpd/hncpd/pkg/hncp"
)

func runTLV(args []string) {
	if len(args) < 1 {
		printTLVUsage()
		osExit(1)
	}

	switch args[0] {
	case "add":
		runTLVAdd(args[1:])
	case "remove":
		runTLVRemove(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown tlv command: %s\n\n", args[0])
		printTLVUsage()
		osExit(1)
	}
}

func runTLVAdd(args []string) {
	fs := flag.NewFlagSet("tlv add", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	fs.Parse(reorderArgs(args, nil))

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hncpd tlv add <type> <hex-value>")
		osExit(1)
	}

	typ, err := strconv.ParseUint(rest[0], 10, 16)
	if err != nil {
		fatal("invalid TLV type %q: %v", rest[0], err)
	}
	if uint16(typ) < hncp.AgentTLVRangeStart {
		fatal("type %d is reserved for the protocol; agent TLVs start at %d", typ, hncp.AgentTLVRangeStart)
	}
	value, err := hex.DecodeString(rest[1])
	if err != nil {
		fatal("invalid hex value: %v", err)
	}

	c := daemonClient(*configFlag)
	handle, err := c.AddTLV(uint16(typ), value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	termcolor.Green("Published TLV type %d (%d bytes)", typ, len(value))
	fmt.Printf("Handle: %s\n", handle)
	fmt.Println("Keep the handle; it is needed to withdraw the TLV.")
}

func runTLVRemove(args []string) {
	fs := flag.NewFlagSet("tlv remove", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	fs.Parse(reorderArgs(args, nil))

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: hncpd tlv remove <handle>")
		osExit(1)
	}

	c := daemonClient(*configFlag)
	if err := c.RemoveTLV(rest[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
	termcolor.Green("Withdrawn %s", rest[0])
}

func printTLVUsage() {
	fmt.Println("Usage: hncpd tlv <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  add <type> <hex-value>   Publish a local TLV (type >= 32)")
	fmt.Println("  remove <handle>          Withdraw a previously published TLV")
}
