package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"omnisearch/internal/app"
	"omnisearch/internal/domain"
	"omnisearch/internal/usecase/transfer"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "omnisearch: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Init(ctx, configPath())
	if err != nil {
		return err
	}
	defer a.Dispose(ctx)

	switch command {
	case "search":
		return runSearch(ctx, a, args)
	case "engines":
		return runEngines(ctx, a, args)
	case "history":
		return runHistory(ctx, a, args)
	case "suggest":
		return runSuggest(ctx, a, args)
	case "export":
		return runExport(ctx, a)
	case "import":
		return runImport(ctx, a, args)
	case "prefs":
		return runPrefs(ctx, a, args)
	default:
		return fmt.Errorf("unknown command: %s (run 'omnisearch help')", command)
	}
}

func configPath() string {
	if p := os.Getenv("OMNISEARCH_CONFIG"); p != "" {
		return p
	}
	return "omnisearch.yaml"
}

// runSearch dispatches the query and prints each engine's URL as its
// result settles, then the summary.
func runSearch(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: omnisearch search <query> [engine-id...]")
	}
	query, refs := args[0], args[1:]

	unsub := a.Bus.Subscribe(domain.EventSearchResultReady, func(_ context.Context, e domain.Event) {
		var r domain.EngineResult
		if err := json.Unmarshal(e.Payload, &r); err != nil {
			return
		}
		if r.Status == domain.StatusReady {
			fmt.Printf("%-20s %s\n", r.EngineID, r.URL)
		} else {
			fmt.Printf("%-20s error: %s\n", r.EngineID, r.Error)
		}
	})
	defer unsub()

	sess, err := a.Dispatcher.Search(ctx, query, refs)
	if err != nil {
		return err
	}
	a.Bus.Close() // drain result events before printing the summary
	fmt.Printf("\n%d engines: %d ok, %d failed\n",
		sess.Summary.Total, sess.Summary.Successful, sess.Summary.Failed)
	return nil
}

func runEngines(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: omnisearch engines <list|add|rm|enable|disable|default> ...")
	}
	switch args[0] {
	case "list":
		for _, e := range a.Registry.GetAllEngines() {
			marks := ""
			if e.IsDefault {
				marks += " [default]"
			}
			if !e.Enabled {
				marks += " [disabled]"
			}
			fmt.Printf("%-20s %-20s %s%s\n", e.ID, e.Name, e.URLTemplate, marks)
		}
		return nil
	case "add":
		fs := flag.NewFlagSet("engines add", flag.ContinueOnError)
		name := fs.String("name", "", "display name")
		urlTemplate := fs.String("url", "", "url template containing {query}")
		icon := fs.String("icon", "", "icon URL")
		color := fs.String("color", "", "hex color #RRGGBB")
		sortOrder := fs.Int("sort", 0, "sort order")
		disabled := fs.Bool("disabled", false, "create disabled")
		makeDefault := fs.Bool("default", false, "make this the default engine")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		id, err := a.Registry.AddEngine(ctx, domain.Engine{
			Name:        *name,
			URLTemplate: *urlTemplate,
			Icon:        *icon,
			Color:       *color,
			SortOrder:   *sortOrder,
			Enabled:     !*disabled,
			IsDefault:   *makeDefault,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: omnisearch engines rm <id>")
		}
		return a.Registry.DeleteEngine(ctx, args[1])
	case "enable", "disable":
		if len(args) < 2 {
			return fmt.Errorf("usage: omnisearch engines %s <id>", args[0])
		}
		return a.Registry.ToggleEngine(ctx, args[1], args[0] == "enable")
	case "default":
		if len(args) < 2 {
			e, err := a.Registry.GetDefaultEngine()
			if err != nil {
				return err
			}
			fmt.Println(e.ID)
			return nil
		}
		return a.Registry.SetDefault(ctx, args[1])
	default:
		return fmt.Errorf("unknown engines subcommand: %s", args[0])
	}
}

func runHistory(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max entries")
	filter := fs.String("filter", "", "substring filter")
	clear := fs.Bool("clear", false, "clear all history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clear {
		return a.History.Clear(ctx)
	}
	entries, err := a.History.LoadRecent(ctx, *limit, *filter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-40s %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04"), e.Query,
			strings.Join(e.EngineIDs, ","))
	}
	return nil
}

func runSuggest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("suggest", flag.ContinueOnError)
	limit := fs.Int("limit", 5, "max suggestions")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: omnisearch suggest <partial>")
	}
	suggestions, err := a.History.Suggest(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	for _, s := range suggestions {
		fmt.Println(s.Query)
	}
	return nil
}

func runExport(ctx context.Context, a *app.App) error {
	payload, err := a.Transfer.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func runImport(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	engineMode := fs.String("engines", "merge", "merge or replace")
	prefMode := fs.String("prefs", "merge", "merge or replace")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: omnisearch import <file>")
	}
	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	return a.Transfer.Import(ctx, data,
		transfer.MergeMode(*engineMode), transfer.MergeMode(*prefMode))
}

func runPrefs(ctx context.Context, a *app.App, args []string) error {
	if len(args) < 1 || args[0] == "list" {
		all, err := a.Prefs.All(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			fmt.Printf("%-20s %v\n", p.Key, p.Value)
		}
		return nil
	}
	if args[0] == "set" {
		if len(args) < 3 {
			return fmt.Errorf("usage: omnisearch prefs set <key> <value>")
		}
		return a.Prefs.Set(ctx, args[1], parseValue(args[2]), "")
	}
	return fmt.Errorf("unknown prefs subcommand: %s", args[0])
}

// parseValue coerces a CLI string into bool, number or string.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func showUsage() {
	fmt.Print(`omnisearch - multi-engine search dispatcher

Usage:
  omnisearch search <query> [engine-id...]   fan the query out and print URLs
  omnisearch engines list                    list engines
  omnisearch engines add -name N -url U      add an engine ({query} template)
  omnisearch engines rm <id>                 delete an engine
  omnisearch engines enable|disable <id>     toggle an engine
  omnisearch engines default [id]            show or set the default engine
  omnisearch history [-limit n] [-filter s]  list recent queries
  omnisearch suggest <partial>               suggest prior queries
  omnisearch export                          write config JSON to stdout
  omnisearch import <file> [-engines m] [-prefs m]
                                             import config (merge|replace)
  omnisearch prefs list|set <key> <value>    manage preferences

Config file: $OMNISEARCH_CONFIG or ./omnisearch.yaml
`)
}
