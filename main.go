/*
Copyright 2024 The l7mp/fixpoint team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/l7mp/fixpoint/internal/buildinfo"
	"github.com/l7mp/fixpoint/pkg/engine"
	"github.com/l7mp/fixpoint/pkg/fact"
	"github.com/l7mp/fixpoint/pkg/manifest"
	"github.com/l7mp/fixpoint/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

var (
	verbosity int
	logger    logr.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fixpoint",
		Short:        "Evaluate stratified rule programs to their least fixpoint",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zc := zap.NewDevelopmentConfig()
			zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity)) //nolint:gosec
			zc.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
			z, err := zc.Build()
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			logger = zapr.NewLogger(z).WithName("fixpoint")
			return nil
		},
	}
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"Log verbosity level (higher is noisier).")

	rootCmd.AddCommand(newRunCmd(), newGraphCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		timeout  time.Duration
		parallel int
		report   bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Evaluate a manifest and print the resulting facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(args[0])
			if err != nil {
				return err
			}

			opts := []engine.Option{engine.WithLogger(logger)}
			if report {
				opts = append(opts, engine.WithTiming())
			}
			if parallel > 1 {
				opts = append(opts, engine.WithParallelism(parallel))
			}

			e, err := m.NewEngine(opts...)
			if err != nil {
				return err
			}

			if err := e.RunWithTimeout(timeout); err != nil {
				return err
			}

			if err := printFacts(cmd, e, output); err != nil {
				return err
			}
			if report {
				fmt.Fprintln(cmd.ErrOrStderr(), e.Report().String())
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Minute,
		"Evaluation deadline, checked at iteration boundaries.")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1,
		"Number of rules evaluated concurrently within one iteration.")
	cmd.Flags().BoolVarP(&report, "report", "r", false,
		"Print the per-stratum and per-rule timing report to stderr.")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml",
		"Output format, one of yaml or json.")

	return cmd
}

func newGraphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <manifest>",
		Short: "Render the stratified dependency graph of a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest(args[0])
			if err != nil {
				return err
			}

			e, err := m.NewEngine(engine.WithLogger(logger))
			if err != nil {
				return err
			}

			g := visualize.BuildGraph(m.Name, e.Graph(), e.Stratification())
			var out string
			switch format {
			case "dot":
				gen := visualize.DotGenerator{}
				out = gen.Generate(g)
			case "mermaid":
				gen := visualize.MermaidGenerator{}
				out = gen.Generate(g)
			default:
				return fmt.Errorf("unknown graph format %q", format)
			}

			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "dot",
		"Diagram format, one of dot or mermaid.")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := buildinfo.BuildInfo{
				Version:    version,
				CommitHash: commitHash,
				BuildDate:  buildDate,
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fixpoint %s\n", info.String())
		},
	}
}

func loadManifest(path string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return manifest.Load(data)
}

// printFacts marshals the accumulated facts of every relation and lattice,
// keyed by relation name, in a deterministic tuple order.
func printFacts(cmd *cobra.Command, e *engine.Engine, format string) error {
	facts := map[string][]fact.Tuple{}
	db := e.Database()
	for _, name := range db.Names() {
		facts[name] = fact.SortTuples(db.Tuples(name))
	}

	var out []byte
	var err error
	switch format {
	case "yaml":
		out, err = yaml.Marshal(facts)
	case "json":
		out, err = json.MarshalIndent(facts, "", "  ")
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
