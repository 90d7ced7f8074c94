// Package dataset discovers benchmark designs on disk. Two layouts are
// supported: rtllm (one directory per design holding design_description.txt
// and testbench.v) and verilogeval (flat directory of <name>_prompt.txt,
// <name>_test.sv and <name>_ref.sv triples).
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"hdlbench/internal/logging"
)

// Design is one benchmark problem.
type Design struct {
	Name        string
	Dataset     string // rtllm, verilogeval
	Description string // specification text
	Testbench   string // path to the testbench file
	Reference   string // path to the reference model (verilogeval only)
	Dir         string
}

// FileExt returns the source file extension the dataset expects.
func (d Design) FileExt() string {
	if d.Dataset == "verilogeval" {
		return ".sv"
	}
	return ".v"
}

var moduleNameRe = regexp.MustCompile(`Module name:\s*(\w+)`)

// ModuleName returns the expected top-level module name. verilogeval fixes
// it to TopModule; rtllm descriptions declare it as "Module name: X".
func (d Design) ModuleName() string {
	if d.Dataset == "verilogeval" {
		return "TopModule"
	}
	if m := moduleNameRe.FindStringSubmatch(d.Description); m != nil {
		return m[1]
	}
	return d.Name
}

// Load discovers all designs of the given dataset type under root.
func Load(datasetType, root string) ([]Design, error) {
	switch datasetType {
	case "rtllm":
		return loadRTLLM(root)
	case "verilogeval":
		return loadVerilogEval(root)
	default:
		return nil, fmt.Errorf("unsupported dataset: %q", datasetType)
	}
}

// loadRTLLM recursively scans for directories holding both a description
// and a testbench. Directories missing either file are treated as interior
// nodes and scanned deeper.
func loadRTLLM(root string) ([]Design, error) {
	log := logging.Get(logging.CategoryDataset)

	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("dataset root %s: %w", root, err)
	}

	var designs []Design
	var scan func(dir string) error
	scan = func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			sub := filepath.Join(dir, entry.Name())
			descPath := filepath.Join(sub, "design_description.txt")
			tbPath := filepath.Join(sub, "testbench.v")

			desc, err := os.ReadFile(descPath)
			if err != nil || !fileExists(tbPath) {
				if err := scan(sub); err != nil {
					return err
				}
				continue
			}

			designs = append(designs, Design{
				Name:        entry.Name(),
				Dataset:     "rtllm",
				Description: string(desc),
				Testbench:   tbPath,
				Dir:         sub,
			})
		}
		return nil
	}
	if err := scan(root); err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}

	sort.Slice(designs, func(i, j int) bool { return designs[i].Name < designs[j].Name })
	log.Infow("loaded designs", "dataset", "rtllm", "count", len(designs))
	return designs, nil
}

// loadVerilogEval reads the flat <name>_prompt.txt layout. Designs missing
// their testbench or reference model are skipped with a warning.
func loadVerilogEval(root string) ([]Design, error) {
	log := logging.Get(logging.CategoryDataset)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("dataset root %s: %w", root, err)
	}

	var designs []Design
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "_prompt.txt") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), "_prompt.txt")
		tbPath := filepath.Join(root, name+"_test.sv")
		refPath := filepath.Join(root, name+"_ref.sv")
		if !fileExists(tbPath) || !fileExists(refPath) {
			log.Warnw("skipping design with missing testbench or reference", "design", name)
			continue
		}

		desc, err := os.ReadFile(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt for %s: %w", name, err)
		}

		designs = append(designs, Design{
			Name:        name,
			Dataset:     "verilogeval",
			Description: string(desc),
			Testbench:   tbPath,
			Reference:   refPath,
			Dir:         root,
		})
	}

	sort.Slice(designs, func(i, j int) bool { return designs[i].Name < designs[j].Name })
	log.Infow("loaded designs", "dataset", "verilogeval", "count", len(designs))
	return designs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
