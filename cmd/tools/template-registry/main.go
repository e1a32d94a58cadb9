// cmd/tools/template-registry/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"notification-pipeline/internal/common/config"
	"notification-pipeline/internal/common/database"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/templates"
	"notification-pipeline/pkg/registry"
)

const defaultRegistryPath = "configs/template-registry.json"

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validatePath := validateCmd.String("path", defaultRegistryPath, "Path to registry file")

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	syncPath := syncCmd.String("path", defaultRegistryPath, "Path to registry file")
	dryRun := syncCmd.Bool("dry-run", false, "Validate and print what would be written")

	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = validateRegistry(*validatePath)
	case "sync":
		syncCmd.Parse(os.Args[2:])
		err = syncRegistry(*syncPath, *dryRun)
	case "list":
		listCmd.Parse(os.Args[2:])
		err = listTemplates()
	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func loadValid(path string) (*registry.TemplateRegistry, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if err := registry.Validate(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func validateRegistry(path string) error {
	reg, err := loadValid(path)
	if err != nil {
		return err
	}
	fmt.Printf("Registry validation passed. Found %d templates.\n", len(reg.Templates))
	return nil
}

// syncRegistry upserts every template in the file and drops its cache entry
// so workers pick up the change on their next lookup.
func syncRegistry(path string, dryRun bool) error {
	reg, err := loadValid(path)
	if err != nil {
		return err
	}
	if dryRun {
		for _, e := range reg.Templates {
			fmt.Printf("would upsert %s/%s\n", e.Trigger, e.Channel)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := templates.NewStore(pg.DB)
	cache := templates.NewCachedStore(store, rdb.Client, 0, logger.NewNoOpLogger())

	for _, e := range reg.Templates {
		t := e.ToTemplate()
		if err := store.Upsert(ctx, t); err != nil {
			return fmt.Errorf("%s/%s: %w", e.Trigger, e.Channel, err)
		}
		if err := cache.Invalidate(ctx, t.Trigger, t.Channel); err != nil {
			fmt.Printf("warning: cache invalidation failed for %s/%s: %v\n", t.Trigger, t.Channel, err)
		}
		fmt.Printf("upserted %s/%s (version %d)\n", t.Trigger, t.Channel, t.Version)
	}
	return nil
}

func listTemplates() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	list, err := templates.NewStore(pg.DB).List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIGGER\tCHANNEL\tPRIORITY\tENABLED\tVERSION\tUPDATED")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			t.Trigger, t.Channel, t.Priority, t.Enabled, t.Version, t.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func help() {
	fmt.Print(`
Usage: template-registry <command> [flags]

Commands:
  validate  Validate the registry file
  sync      Upsert every template in the registry into Postgres
  list      List stored templates
  help      Show this help message

Examples:
  template-registry validate -path configs/template-registry.json
  template-registry sync -path configs/template-registry.json
  template-registry sync -dry-run
  template-registry list
`)
}
