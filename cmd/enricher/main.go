package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"listing-enricher/internal/app"
	"listing-enricher/internal/config"
	"listing-enricher/internal/models"
	"listing-enricher/internal/normalize"
	"listing-enricher/internal/similarity"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "enricher",
		Short: "Listing enrichment against the NYC housing registry",
		Long:  `Matches for-sale listings to HPD building records, flags basement units and scores investment candidates`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("CONFIG_PATH", "./config/enricher.yaml"), "path to the YAML config")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createLookupCmd())
	rootCmd.AddCommand(createCacheCmd())
	rootCmd.AddCommand(createConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// createRunCmd runs the full pipeline once
func createRunCmd() *cobra.Command {
	var listingsPath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich, filter and export the current listings",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signalContext()
			defer stop()

			a, err := app.New(ctx, loadConfig(), app.Options{ListingsPath: listingsPath, DryRun: dryRun})
			if err != nil {
				log.Fatalf("Failed to initialize: %v", err)
			}
			defer a.Close()

			report, err := a.Runner.Run(ctx)
			if report != nil {
				printReport(report.Summary, len(report.Qualified), report.Files)
			}
			if err != nil {
				a.Close()
				log.Fatalf("Run failed: %v", err)
			}
		},
	}
	cmd.Flags().StringVar(&listingsPath, "listings", "", "listings JSON file (overrides listings.path)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not write the cache or any output")
	return cmd
}

func printReport(summary any, qualified int, files map[string]string) {
	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("Qualified properties: %d\n", qualified)
	for stage, path := range files {
		fmt.Printf("  %-14s %s\n", stage, path)
	}
}

// createLookupCmd looks one address up without touching the cache
func createLookupCmd() *cobra.Command {
	var borough, zip string

	cmd := &cobra.Command{
		Use:   "lookup [street]",
		Short: "Look up a single address in the registry",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signalContext()
			defer stop()

			cfg := loadConfig()
			cfg.Cache.Backend = "memory"
			a, err := app.New(ctx, cfg, app.Options{DryRun: true})
			if err != nil {
				log.Fatalf("Failed to initialize: %v", err)
			}
			defer a.Close()

			addr := models.Address{
				Street:     strings.Join(args, " "),
				Borough:    normalize.Borough(borough),
				PostalCode: zip,
				City:       "New York",
				State:      "NY",
			}
			fmt.Printf("Normalized: %s\n", normalize.Street(addr.Street))

			b, err := a.Lookup.LookupBuilding(ctx, addr)
			if err != nil {
				log.Fatalf("Lookup failed: %v", err)
			}
			if b == nil {
				fmt.Println("No building found")
				return
			}

			score, confidence, ok := similarity.NewScorer(cfg.Matching.Tiers).Match(addr, b.Address)
			fmt.Printf("Building %s  %s (%s)\n", b.BuildingID, b.Address.Street, b.Address.Borough)
			fmt.Printf("Similarity: %d  confidence: %s  accepted: %v\n", score, confidence, ok)
			fmt.Printf("Units: %d  special: %v\n", b.TotalUnits, b.SpecialUnitLabels())
		},
	}
	cmd.Flags().StringVar(&borough, "borough", "", "borough name")
	cmd.Flags().StringVar(&zip, "zip", "", "postal code")
	return cmd
}

// createCacheCmd inspects the match cache
func createCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the match cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := app.New(cmd.Context(), loadConfig(), app.Options{DryRun: true})
			if err != nil {
				log.Fatalf("Failed to initialize: %v", err)
			}
			defer a.Close()

			stats := a.Cache.GetStats()
			special := 0
			for _, e := range a.Cache.Entries() {
				if e.HasSpecialUnits {
					special++
				}
			}
			fmt.Printf("Backend: %s\n", a.Config.Cache.Backend)
			fmt.Printf("Entries: %d\n", stats.Entries)
			fmt.Printf("With special units: %d\n", special)
		},
	})
	return cacheCmd
}

// createConfigCmd prints the effective configuration
func createConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective criteria and settings",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			s := cfg.Criteria.Summary()

			fmt.Println("Investment criteria")
			fmt.Printf("  Price:          %s\n", s.PriceRange)
			fmt.Printf("  Bedrooms:       %d+\n", s.MinBedrooms)
			fmt.Printf("  Bathrooms:      %.1f+\n", s.MinBathrooms)
			fmt.Printf("  Units:          %d+\n", s.MinUnits)
			fmt.Printf("  Special units:  %v\n", s.RequireSpecialUnits)
			fmt.Printf("  Boroughs:       %s\n", s.Boroughs)
			fmt.Printf("  Property types: %s\n", s.PropertyTypes)
			fmt.Println("Settings")
			fmt.Printf("  Match threshold: %d\n", cfg.Matching.MatchThreshold)
			fmt.Printf("  Batch size:      %d\n", cfg.Matching.BatchSize)
			fmt.Printf("  Lookup mode:     %s\n", cfg.Lookup.Mode)
			fmt.Printf("  Cache:           %s %s\n", cfg.Cache.Backend, cfg.Cache.Path)
			fmt.Printf("  Output:          %s %v\n", cfg.Output.Dir, cfg.Output.Formats)
		},
	})
	return configCmd
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
