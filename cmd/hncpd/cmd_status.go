package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/hncpd/hncpd/internal/daemon"
	"github.com/hncpd/hncpd/internal/reputation"
	"github.com/hncpd/hncpd/internal/termcolor"
)

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	historyFlag := fs.Bool("history", false, "include locally recorded node history")
	fs.Parse(reorderArgs(args, map[string]bool{"json": true, "history": true}))

	c := daemonClient(*configFlag)

	if *jsonFlag {
		resp, err := c.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(resp)
	} else {
		text, err := c.StatusText()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		fmt.Print(text)
	}

	if *historyFlag {
		if err := printHistory(*configFlag, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
	}
}

// printHistory reads the daemon's node-history file directly; it answers
// "have I seen this node before" even for nodes GC has already dropped.
func printHistory(configFlag string, stdout io.Writer) error {
	_, cfgFile, err := loadResolvedConfig(configFlag)
	if err != nil {
		return err
	}
	h := reputation.New(filepath.Join(filepath.Dir(cfgFile), "history.json"))
	records := h.All()
	if len(records) == 0 {
		fmt.Fprintln(stdout, "\nNo node history recorded yet.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })
	fmt.Fprintf(stdout, "\nNode history (%d nodes):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(stdout, "  %s  first %s  last %s  appearances %d  flaps %d  collisions %d\n",
			rec.NodeID,
			rec.FirstSeen.Format("2006-01-02 15:04"),
			rec.LastSeen.Format("2006-01-02 15:04"),
			rec.AppearanceCount, rec.FlapCount, rec.CollisionCount)
	}
	return nil
}

func runNodes(args []string) {
	// An optional positional node id selects a single record.
	var idHex string
	rest := args
	if len(rest) > 0 && rest[0] != "" && rest[0][0] != '-' {
		idHex = rest[0]
		rest = rest[1:]
	}

	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	fs.Parse(reorderArgs(rest, map[string]bool{"json": true}))

	c := daemonClient(*configFlag)

	var infos []daemon.NodeInfo
	if idHex != "" {
		info, err := c.Node(idHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
		infos = []daemon.NodeInfo{*info}
	} else {
		var err error
		infos, err = c.Nodes()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
		}
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(infos)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No nodes known.")
		return
	}
	for _, info := range infos {
		line := fmt.Sprintf("%s  %-11s  update %-6d  tlvs %-4d  hash %s",
			info.NodeID, reachableWord(info.Reachable), info.UpdateNumber, info.TLVCount, info.ContentHash)
		if info.Reachable {
			termcolor.Green("%s", line)
		} else {
			termcolor.Faint("%s", line)
		}
	}
}

func reachableWord(r bool) string {
	if r {
		return "reachable"
	}
	return "unreachable"
}

func runEndpoints(args []string) {
	fs := flag.NewFlagSet("endpoints", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	fs.Parse(reorderArgs(args, map[string]bool{"json": true}))

	c := daemonClient(*configFlag)
	infos, err := c.Endpoints()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(infos)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No endpoints enabled.")
		return
	}
	for _, ep := range infos {
		fmt.Printf("%-12s id %-4d neighbours %d\n", ep.Name, ep.ID, ep.NeighbourCnt)
	}
}
