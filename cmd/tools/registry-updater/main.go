// cmd/tools/registry-updater/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	httpclient "camunda-discovery/internal/common/http"
	"camunda-discovery/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	diffCmd := flag.NewFlagSet("diff", flag.ExitOnError)
	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)

	validatePath := validateCmd.String("path", "configs/catalog.json", "Path to catalog file")

	listPath := listCmd.String("path", "configs/catalog.json", "Path to catalog file")

	diffOld := diffCmd.String("old", "", "Previous catalog file")
	diffNew := diffCmd.String("new", "configs/catalog.json", "Current catalog file")

	fetchURL := fetchCmd.String("url", "http://localhost:8080/catalog", "Catalog endpoint of a running worker manager")
	fetchPath := fetchCmd.String("path", "configs/catalog.json", "Where to write the fetched catalog")
	fetchTimeout := fetchCmd.Duration("timeout", 10*time.Second, "Request timeout")

	updatePath := updateCmd.String("path", "configs/catalog.json", "Path to catalog file")
	idUpdate := updateCmd.String("id", "", "Activity or schedule ID to update")
	field := updateCmd.String("field", "", "Field to update (owner, description, option.<key>)")
	value := updateCmd.String("value", "", "New value for the field")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = validateCatalog(os.Stdout, *validatePath)

	case "list":
		listCmd.Parse(os.Args[2:])
		err = listCatalog(os.Stdout, *listPath)

	case "diff":
		diffCmd.Parse(os.Args[2:])
		if *diffOld == "" {
			fmt.Println("Error: -old is required for diff.")
			diffCmd.Usage()
			os.Exit(1)
		}
		var changed bool
		changed, err = diffCatalogs(os.Stdout, *diffOld, *diffNew)
		if err == nil && changed {
			os.Exit(2)
		}

	case "fetch":
		fetchCmd.Parse(os.Args[2:])
		ctx, cancel := context.WithTimeout(context.Background(), *fetchTimeout)
		defer cancel()
		err = fetchCatalog(ctx, os.Stdout, httpclient.NewClient(*fetchTimeout), *fetchURL, *fetchPath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" {
			fmt.Println("Error: id and field are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		err = updateEntry(*updatePath, *idUpdate, *field, *value, time.Now())
		if err == nil {
			fmt.Printf("Updated %s, field %s to %q\n", *idUpdate, *field, *value)
		}

	case "help":
		help()
		return

	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func validateCatalog(w io.Writer, path string) error {
	c, err := registry.LoadCatalog(path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	if err := registry.Validate(c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Catalog validation passed. Found %d activities and %d schedules.\n", len(c.Activities), len(c.Schedules))
	return nil
}

func listCatalog(w io.Writer, path string) error {
	c, err := registry.LoadCatalog(path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ACTIVITY\tOWNER\tMETHOD\n")
	for _, a := range c.Activities {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Owner, a.Method)
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "SCHEDULE\tWORKFLOW\tTRIGGER\tQUEUE\tFLAGS\n")
	for _, s := range c.Schedules {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.WorkflowName, trigger(s), s.TaskQueue, flags(s))
	}
	return tw.Flush()
}

func trigger(s registry.Schedule) string {
	parts := append([]string(nil), s.Cron...)
	for _, iv := range s.Intervals {
		parts = append(parts, "every "+iv)
	}
	out := strings.Join(parts, ", ")
	if s.Timezone != "" {
		out += " (" + s.Timezone + ")"
	}
	return out
}

func flags(s registry.Schedule) string {
	var f []string
	if !s.AutoStart {
		f = append(f, "manual")
	}
	if s.StartPaused {
		f = append(f, "paused")
	}
	f = append(f, "overlap="+s.OverlapPolicy)
	return strings.Join(f, ",")
}

// diffCatalogs reports whether the two catalogs differ.
func diffCatalogs(w io.Writer, oldPath, newPath string) (bool, error) {
	old, err := registry.LoadCatalog(oldPath)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", oldPath, err)
	}
	cur, err := registry.LoadCatalog(newPath)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", newPath, err)
	}
	d := registry.Compare(old, cur)
	printDiff(w, d)
	return !d.Empty(), nil
}

func printDiff(w io.Writer, d registry.Diff) {
	if d.Empty() {
		fmt.Fprintln(w, "No changes.")
		return
	}
	section := func(sign, kind string, ids []string) {
		for _, id := range ids {
			fmt.Fprintf(w, "%s %s %s\n", sign, kind, id)
		}
	}
	section("+", "activity", d.AddedActivities)
	section("-", "activity", d.RemovedActivities)
	section("~", "activity", d.ChangedActivities)
	section("+", "schedule", d.AddedSchedules)
	section("-", "schedule", d.RemovedSchedules)
	section("~", "schedule", d.ChangedSchedules)
}

// fetchCatalog pulls the live catalog, validates it and writes it to path,
// printing the diff against the file it replaces.
func fetchCatalog(ctx context.Context, w io.Writer, client *httpclient.Client, url, path string) error {
	body, err := client.GetJSON(ctx, url)
	if err != nil {
		return err
	}
	fetched, err := registry.Parse(body)
	if err != nil {
		return err
	}
	if err := registry.Validate(fetched); err != nil {
		return err
	}

	if existing, err := registry.LoadCatalog(path); err == nil {
		printDiff(w, registry.Compare(existing, fetched))
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(w, "Replacing unreadable catalog: %v\n", err)
	}

	if err := registry.Save(fetched, path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %s (%d activities, %d schedules).\n", path, len(fetched.Activities), len(fetched.Schedules))
	return nil
}

func updateEntry(path, id, field, value string, now time.Time) error {
	c, err := registry.LoadCatalog(path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	found := false
	for i := range c.Activities {
		if c.Activities[i].ID != id {
			continue
		}
		found = true
		a := &c.Activities[i]
		switch {
		case field == "owner":
			a.Owner = value
		case strings.HasPrefix(field, "option."):
			key := strings.TrimPrefix(field, "option.")
			if a.Options == nil {
				a.Options = map[string]string{}
			}
			if value == "" {
				delete(a.Options, key)
			} else {
				a.Options[key] = value
			}
		default:
			return fmt.Errorf("unknown activity field: %s", field)
		}
	}
	for i := range c.Schedules {
		if c.Schedules[i].ID != id {
			continue
		}
		found = true
		s := &c.Schedules[i]
		switch field {
		case "owner":
			s.Owner = value
		case "description":
			s.Description = value
		case "taskQueue":
			s.TaskQueue = value
		default:
			return fmt.Errorf("unknown schedule field: %s", field)
		}
	}
	if !found {
		return fmt.Errorf("no activity or schedule with ID %s", id)
	}

	c.LastUpdated = now.UTC().Format(time.RFC3339)
	if err := registry.Validate(c); err != nil {
		return err
	}
	return registry.Save(c, path)
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  validate  Validate a catalog file against the schema
  list      Print the activities and schedules in a catalog
  diff      Compare two catalogs (exit status 2 when they differ)
  fetch     Download the catalog from a running worker manager
  update    Edit one field of an activity or schedule
  help      Show this help message

Examples:
  registry-updater validate -path configs/catalog.json
  registry-updater diff -old catalog.prev.json -new configs/catalog.json
  registry-updater fetch -url http://worker-manager:8080/catalog
  registry-updater update -id generate-report -field option.retries -value 5

Use 'registry-updater <command> -h' for more information about a command.

`)
}
