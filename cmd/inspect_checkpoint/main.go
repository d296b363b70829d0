package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/23skdu/longbow-restyle/internal/arch"
	"github.com/23skdu/longbow-restyle/internal/gguf"
)

func main() {
	path := flag.String("path", "", "Path to a converted checkpoint")
	filter := flag.String("filter", "", "Only list tensors whose name contains this string")
	stats := flag.Bool("stats", false, "Compute per-tensor statistics")
	flag.Parse()

	if *path == "" {
		log.Fatal("--path required")
	}

	f, err := gguf.LoadFile(*path)
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}
	defer f.Close()

	analyzer := gguf.NewMetadataAnalyzer(f)
	report, err := analyzer.Analyze()
	if err != nil {
		log.Fatalf("Failed to analyze checkpoint: %v", err)
	}
	fmt.Print(report.String())

	issues, err := analyzer.ValidateTensors()
	if err != nil {
		log.Fatalf("Validation failed: %v", err)
	}
	for _, issue := range issues {
		fmt.Printf("WARNING: %s\n", issue)
	}

	ac := arch.Config{
		Size:              report.Size,
		StyleDim:          report.StyleDim,
		NMLP:              report.NMLP,
		ChannelMultiplier: report.ChannelMultiplier,
	}
	if ac.ChannelMultiplier == 0 {
		ac.ChannelMultiplier = 2
	}
	for _, section := range report.Sections {
		build := arch.NewGenerator
		if section == "d" {
			build = arch.NewDiscriminator
		}
		st, err := build(section, ac)
		if err != nil {
			fmt.Printf("WARNING: cannot rebuild schema for %s: %v\n", section, err)
			continue
		}
		required := make([]string, 0, st.Len())
		for _, k := range st.Keys() {
			required = append(required, section+"."+k)
		}
		missing := analyzer.FindMissingTensors(required)
		fmt.Printf("Section %s: %d/%d expected tensors present\n", section, len(required)-len(missing), len(required))
		for _, m := range missing {
			fmt.Printf("  missing %s\n", m)
		}
	}

	fmt.Println("\n=== Tensors ===")
	for _, t := range f.Tensors {
		if *filter != "" && !strings.Contains(t.Name, *filter) {
			continue
		}
		if !*stats {
			fmt.Printf("%-56s %-4s %v\n", t.Name, t.Type, t.Shape())
			continue
		}
		ts, err := analyzer.ComputeStats(t.Name)
		if err != nil {
			log.Fatalf("Failed to compute stats for %s: %v", t.Name, err)
		}
		fmt.Printf("%-56s %-4s %-20v mean=%.4f std=%.4f min=%.4f max=%.4f\n",
			ts.Name, ts.Type, ts.Shape, ts.Mean, ts.Std, ts.Min, ts.Max)
	}
}
