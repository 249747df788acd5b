// Package main provides the pragmaddd-analyzer CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/morecup/pragmaddd-analyzer/analyzer"
	"github.com/morecup/pragmaddd-analyzer/cache"
	"github.com/morecup/pragmaddd-analyzer/config"
	"github.com/morecup/pragmaddd-analyzer/report"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "pragmaddd-analyzer",
	Short: "Static field-projection analysis for DDD aggregate roots",
	Long:  `pragmaddd-analyzer resolves, per repository call site, the minimal set of aggregate-root fields the calling code transitively reads, and persists the result for the data-fetch layer.`,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze compiled artifacts against the domain model",
	RunE:  runAnalyze,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <aggregate-root> [caller-type caller-method repository-method]",
	Short: "Query required fields from a persisted analysis document",
	Args:  matchLookupArgs,
	RunE:  runLookup,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance commands",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached analysis state",
	RunE:  runCacheClear,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the analyzer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pragmaddd-analyzer %s\n", version)
	},
}

var (
	artifactsDir    string
	domainModelPath string
	outPath         string
	configPath      string
	cacheDir        string
	noCache         bool
	verbose         bool
	failOnError     bool
	docPath         string
)

func init() {
	analyzeCmd.Flags().StringVar(&artifactsDir, "artifacts", ".", "Directory scanned for compiled artifacts")
	analyzeCmd.Flags().StringVar(&domainModelPath, "domain-model", ".pragmaddd/domain-model.json", "Path to the domain model document")
	analyzeCmd.Flags().StringVar(&outPath, "out", ".pragmaddd/analysis.json", "Output path for the analysis document (empty to skip)")
	analyzeCmd.Flags().StringVar(&configPath, "config", ".pragmaddd/analyzer.yaml", "Analyzer configuration file")
	analyzeCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Override the cache directory")
	analyzeCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the incremental cache for this run")
	analyzeCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	analyzeCmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "Treat accumulated warnings as a run failure")

	lookupCmd.Flags().StringVar(&docPath, "doc", ".pragmaddd/analysis.json", "Analysis document to query")

	cacheClearCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Override the cache directory")
	cacheClearCmd.Flags().StringVar(&configPath, "config", ".pragmaddd/analyzer.yaml", "Analyzer configuration file")

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if noCache {
		cfg.CacheEnabled = false
	}
	if verbose {
		cfg.Verbose = true
	}
	if failOnError {
		cfg.FailOnError = true
	}
	return cfg, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runner := &analyzer.Runner{Config: cfg}
	res, runErr := runner.Run(context.Background(), artifactsDir, domainModelPath)
	if res == nil {
		return runErr
	}

	if outPath != "" {
		if err := analyzer.WriteDocument(res.Document, outPath); err != nil {
			return fmt.Errorf("writing analysis document: %w", err)
		}
	}

	mode := "full"
	if !res.FullRun {
		mode = "incremental"
	}
	fmt.Printf("%s analysis: %d artifact(s) analyzed, %d reused, %d warning(s)\n",
		mode, res.Analyzed, res.Reused, len(res.Warnings))

	// ErrWarnings arrives after the document was produced and persisted;
	// returning it makes the enclosing build step fail as configured.
	return runErr
}

func matchLookupArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 1 && len(args) != 4 {
		return fmt.Errorf("accepts 1 or 4 arguments, received %d", len(args))
	}
	return nil
}

func runLookup(cmd *cobra.Command, args []string) error {
	lookup, err := report.LoadLookup(docPath)
	if err != nil {
		return err
	}

	var fields []string
	if len(args) == 1 {
		fields = lookup.RequiredFields(args[0])
	} else {
		fields = lookup.RequiredFieldsAt(args[0], args[1], args[2], args[3])
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Printf("cache cleared: %s\n", cfg.CacheDir)
	return nil
}
