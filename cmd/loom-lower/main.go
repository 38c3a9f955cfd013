// Package main provides the entry point for the Loom lowering driver.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/lower"
	"github.com/loom-ir/loom/internal/manifest"
	"github.com/loom-ir/loom/internal/tree"
	"github.com/loom-ir/loom/internal/wire"

	_ "github.com/tliron/commonlog/simple"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var log = commonlog.GetLogger("loom")

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		manifestDir = flag.String("manifest", "", "directory containing loom.toml (default: search upward from cwd)")
		verify      = flag.Bool("verify", false, "verify tree invariants after every pass")
		watch       = flag.Bool("watch", false, "re-lower when the input unit or manifest changes")
		output      = flag.String("o", "", "override the output unit path")
		verbosity   = flag.Int("verbose", 0, "log verbosity")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("loom-lower v%s (%s)\n", version, commit)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	commonlog.Configure(*verbosity, nil)

	m, err := loadManifest(*manifestDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		m.Output.Unit = *output
	}
	if *verify {
		m.Pipeline.Verify = true
	}

	if err := lowerOnce(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *watch {
		if err := watchLoop(m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func showUsage() {
	fmt.Println("Loom lowering driver")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("    loom-lower [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("    --version    Show version information")
	fmt.Println("    --help       Show this help message")
	fmt.Println("    --manifest   Directory containing loom.toml")
	fmt.Println("    --verify     Verify tree invariants after every pass")
	fmt.Println("    --watch      Re-lower when inputs change")
	fmt.Println("    -o           Override the output unit path")
	fmt.Println("    --verbose    Log verbosity")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("    loom-lower --manifest ./proj")
	fmt.Println("    loom-lower --verify -o lowered.cbor")
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no loom.toml found from %s upward", cwd)
	}
	return m, nil
}

// lowerOnce loads the input unit, runs the configured pipeline, and writes
// the lowered unit and optional text dump.
func lowerOnce(m *manifest.Manifest) error {
	data, err := os.ReadFile(m.Resolve(m.Input.Unit))
	if err != nil {
		return fmt.Errorf("read input unit: %w", err)
	}
	a, types, root, err := wire.Unmarshal(data)
	if err != nil {
		return err
	}

	runner, err := buildPipeline(types, m)
	if err != nil {
		return err
	}
	if err := runner.Run(a, root); err != nil {
		return err
	}

	out, err := wire.Marshal(a, types, root)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.Resolve(m.Output.Unit), out, 0o644); err != nil {
		return fmt.Errorf("write output unit: %w", err)
	}
	log.Infof("lowered %s -> %s", m.Input.Unit, m.Output.Unit)

	if m.Output.Dump != "" {
		dump := tree.Render(a, types, root)
		if err := os.WriteFile(m.Resolve(m.Output.Dump), []byte(dump), 0o644); err != nil {
			return fmt.Errorf("write dump: %w", err)
		}
	}
	return nil
}

func buildPipeline(types *layout.Registry, m *manifest.Manifest) (*lower.Runner, error) {
	runner := lower.NewRunner(types)
	runner.Verify = m.Pipeline.Verify
	for _, name := range m.Pipeline.Passes {
		switch name {
		case "flatten-values":
			if err := runner.Add(lower.NewFlattenValues()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown pass %q in manifest", name)
		}
	}
	return runner, nil
}

// watchLoop re-runs the pipeline whenever the input unit, the manifest, or a
// configured watch directory changes. It blocks until the watcher fails.
func watchLoop(m *manifest.Manifest) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(m.Dir); err != nil {
		return err
	}
	for _, dir := range m.Watch.Dirs {
		if err := w.Add(m.Resolve(dir)); err != nil {
			return err
		}
	}

	log.Infof("watching %s", m.Dir)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Infof("change detected: %s", ev.Name)
			fresh, err := loadManifest(m.Dir)
			if err != nil {
				log.Errorf("reload manifest: %v", err)
				continue
			}
			fresh.Output = m.Output
			if err := lowerOnce(fresh); err != nil {
				log.Errorf("lowering failed: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watch: %v", err)
		}
	}
}
