package gguf

import (
	"fmt"
	"sort"
	"strings"

	"github.com/23skdu/longbow-restyle/internal/tensor"
)

type MetadataAnalyzer struct {
	file *GGUFFile
}

func NewMetadataAnalyzer(file *GGUFFile) *MetadataAnalyzer {
	return &MetadataAnalyzer{file: file}
}

type AnalysisReport struct {
	Architecture      string
	ModelName         string
	Size              int
	StyleDim          int
	NMLP              int
	ChannelMultiplier int
	Sections          []string
	SectionTensors    map[string]int
	TotalParameters   int64
	TensorCount       int
	MemoryEstimate    int64
}

func (a *MetadataAnalyzer) Analyze() (*AnalysisReport, error) {
	report := &AnalysisReport{
		TensorCount:    len(a.file.Tensors),
		SectionTensors: make(map[string]int),
	}

	if arch, ok := a.file.KV["general.architecture"].(string); ok {
		report.Architecture = arch
	}
	if name, ok := a.file.KV["general.name"].(string); ok {
		report.ModelName = name
	}

	prefix := report.Architecture + "."
	report.Size = int(getKVInt(a.file.KV, prefix+"size"))
	report.StyleDim = int(getKVInt(a.file.KV, prefix+"style_dim"))
	report.NMLP = int(getKVInt(a.file.KV, prefix+"n_mlp"))
	report.ChannelMultiplier = int(getKVInt(a.file.KV, prefix+"channel_multiplier"))
	report.Sections = a.file.Strings(prefix + "sections")

	var totalParams int64
	for _, t := range a.file.Tensors {
		totalParams += int64(t.NumElements())
		section, _, found := strings.Cut(t.Name, ".")
		if !found {
			section = t.Name
		}
		report.SectionTensors[section]++
	}
	report.TotalParameters = totalParams
	report.MemoryEstimate = a.estimateMemoryUsage()

	return report, nil
}

func (a *MetadataAnalyzer) estimateMemoryUsage() int64 {
	var totalBytes int64
	for _, t := range a.file.Tensors {
		if size := t.SizeBytes(); size > 0 {
			totalBytes += int64(size)
		} else {
			totalBytes += int64(t.NumElements()) * 4
		}
	}
	return totalBytes
}

func getKVInt(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if val, ok := kv[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case uint32:
				return uint64(v)
			case int32:
				return uint64(v)
			case int:
				return uint64(v)
			}
		}
	}
	return 0
}

func (r *AnalysisReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Checkpoint Analysis Report
==========================
Architecture:       %s
Model Name:         %s
Size:               %d
Style Dim:          %d
Mapping Layers:     %d
Channel Multiplier: %d
Total Tensors:      %d
Total Parameters:   %d (%.2fM)
Memory Estimate:    %.2f MB
`,
		r.Architecture,
		r.ModelName,
		r.Size,
		r.StyleDim,
		r.NMLP,
		r.ChannelMultiplier,
		r.TensorCount,
		r.TotalParameters,
		float64(r.TotalParameters)/1e6,
		float64(r.MemoryEstimate)/1e6,
	)

	sections := make([]string, 0, len(r.SectionTensors))
	for s := range r.SectionTensors {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, s := range sections {
		fmt.Fprintf(&sb, "Section %-10s  %d tensors\n", s+":", r.SectionTensors[s])
	}
	return sb.String()
}

// ValidateTensors checks that tensor data is laid out contiguously at
// aligned offsets with a known element type.
func (a *MetadataAnalyzer) ValidateTensors() ([]string, error) {
	var issues []string

	expectedOffset := uint64(0)
	for i, t := range a.file.Tensors {
		expectedOffset = align(expectedOffset, DefaultAlignment)
		if t.Offset != expectedOffset {
			issues = append(issues,
				fmt.Sprintf("Tensor %d (%s): expected offset %d, got %d",
					i, t.Name, expectedOffset, t.Offset))
		}

		expectedSize := t.SizeBytes()
		if expectedSize == 0 {
			issues = append(issues,
				fmt.Sprintf("Tensor %d (%s): unknown size for type %s",
					i, t.Name, t.Type))
		}

		expectedOffset = t.Offset + expectedSize
	}

	return issues, nil
}

func (a *MetadataAnalyzer) FindMissingTensors(requiredLayers []string) []string {
	existing := make(map[string]bool)
	for _, t := range a.file.Tensors {
		existing[t.Name] = true
	}

	var missing []string
	for _, layer := range requiredLayers {
		if !existing[layer] {
			missing = append(missing, layer)
		}
	}

	return missing
}

type TensorStats struct {
	Name         string
	Type         string
	Shape        []int
	ElementCount uint64
	SizeBytes    uint64
	tensor.Stats
}

func (a *MetadataAnalyzer) ComputeStats(tensorName string) (*TensorStats, error) {
	info, ok := a.file.Tensor(tensorName)
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", tensorName)
	}

	t, err := info.Tensor()
	if err != nil {
		return nil, err
	}

	return &TensorStats{
		Name:         info.Name,
		Type:         info.Type.String(),
		Shape:        t.Shape,
		ElementCount: info.NumElements(),
		SizeBytes:    info.SizeBytes(),
		Stats:        t.Stats(),
	}, nil
}
