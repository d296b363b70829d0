package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/23skdu/longbow-restyle/internal/legacy"
	"github.com/23skdu/longbow-restyle/internal/tensor"
)

func main() {
	path := flag.String("path", "", "Path to the legacy network snapshot pickle")
	network := flag.String("network", "Gs", "Network to dump: G, D or Gs")
	stats := flag.Bool("stats", false, "Print min/max/mean/std per variable")
	flag.Parse()

	if *path == "" {
		log.Fatal("--path required")
	}

	snap, err := legacy.LoadFile(*path)
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}

	var net *legacy.Network
	for _, n := range snap.Networks() {
		if n.Label == *network {
			net = n.Net
		}
	}
	if net == nil {
		log.Fatalf("Unknown network %q (want G, D or Gs)", *network)
	}

	// Dumping is also useful for snapshots too old to convert.
	store, err := legacy.Collect(*network, net, 0)
	if err != nil {
		log.Fatalf("Failed to collect variables: %v", err)
	}

	fmt.Printf("Network %s (name=%q version=%d, %d variables)\n", *network, net.Name, net.Version, len(store))
	for _, k := range store.Keys() {
		t, _ := store.Lookup(k)
		if !*stats {
			fmt.Printf("%-48s %s\n", k, tensor.ShapeString(t.Shape))
			continue
		}
		s := t.Stats()
		fmt.Printf("%-48s %-20s min=%.4f max=%.4f mean=%.4f std=%.4f",
			k, tensor.ShapeString(t.Shape), s.Min, s.Max, s.Mean, s.Std)
		if s.HasNonFinite() {
			fmt.Printf(" nan=%d inf=%d", s.NaN, s.Inf)
		}
		fmt.Println()
	}
}
