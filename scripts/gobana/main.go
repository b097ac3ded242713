package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"FlowSentry/internal/engine/window"
	"FlowSentry/internal/snapshot"
)

func main() {
	top := flag.Int("top", 10, "Number of busiest hosts to list.")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/gobana [-top n] <snapshot_dir>")
		os.Exit(1)
	}

	st, err := snapshot.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("Unable to load snapshot: %v", err)
	}

	sum := snapshot.Summarize(st)
	fmt.Printf("window: %ds (%s), last ts: %s\n", sum.WindowSeconds, sum.WindowMode, sum.LastTs.Format("2006-01-02 15:04:05.000"))
	fmt.Printf("hosts: %d, events: %d, sources seen: %d\n", sum.Hosts, sum.Events, len(st.Features.Sources))

	hosts := append([]window.HostSnapshot(nil), st.Features.Window.Hosts...)
	sort.SliceStable(hosts, func(i, j int) bool {
		return len(hosts[i].Out)+len(hosts[i].In) > len(hosts[j].Out)+len(hosts[j].In)
	})
	if len(hosts) > *top {
		hosts = hosts[:*top]
	}

	fmt.Println("---")
	for _, h := range hosts {
		ports := make(map[int]struct{})
		peers := make(map[string]struct{})
		var outBytes float64
		for _, e := range h.Out {
			ports[e.Port] = struct{}{}
			peers[e.Peer] = struct{}{}
			outBytes += e.Bytes
		}
		fmt.Printf("%-40s out=%-5d in=%-5d ports=%-5d peers=%-5d out_bytes=%.0f\n",
			h.ID, len(h.Out), len(h.In), len(ports), len(peers), outBytes)
	}
}
