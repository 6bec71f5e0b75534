package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Strob0t/CoachForge/internal/adapter/memstore"
	"github.com/Strob0t/CoachForge/internal/adapter/postgres"
	"github.com/Strob0t/CoachForge/internal/config"
	"github.com/Strob0t/CoachForge/internal/domain/fitness"
	"github.com/Strob0t/CoachForge/internal/domain/onboarding"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "seed":
		return runAdminSeed(args[1:])
	case "history":
		return runAdminHistory(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "graph":
		return runAdminGraph(args[1:])
	case "onboard":
		return runAdminOnboard(args[1:])
	case "workflow":
		return runAdminWorkflow(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: coachforge admin <command> [options]

Commands:
  seed             Apply the built-in agent configuration (and seed.path overlay)
  history          List definition versions of an agent
  rollback         Re-activate an earlier definition version as the newest row
  graph            Print the registered agent dependency graph
  onboard          Drive the onboarding workflow for one user in-process
  workflow         Show a user's onboarding instance and cached step results
  migrate-status   List database migrations and whether they are applied
  help             Show this help message

Examples:
  coachforge admin seed --dry-run
  coachforge admin history --agent plan:generate
  coachforge admin rollback --agent plan:generate --version 3f2c...
  coachforge admin onboard --user u-123 --force
`)
}

// loadAdminApp builds the components without the queue; admin commands
// act on the store directly.
func loadAdminApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildApp(ctx, cfg, buildOptions{migrate: false, queue: false})
}

func runAdminSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "list changes without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.applySeed(ctx, *dryRun)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	if len(rep.Changes) == 0 {
		fmt.Printf("Nothing to do (%d entries unchanged).\n", rep.Unchanged)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tKEY\tVERSION")
	for _, c := range rep.Changes {
		version := c.VersionID
		if rep.DryRun {
			version = "(dry run)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Kind, c.Key, version)
	}
	return w.Flush()
}

func runAdminHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return errors.New("--agent is required")
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := a.definitions.History(ctx, *agentID)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("No versions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tCREATED\tACTIVE\tMODEL\tDESCRIPTION")
	for i := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			rows[i].VersionID, rows[i].CreatedAt.Format(time.RFC3339), rows[i].IsActive, rows[i].Model, rows[i].Description)
	}
	return w.Flush()
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id (required)")
	versionID := fs.String("version", "", "version id to restore (required)")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" || *versionID == "" {
		return errors.New("--agent and --version are required")
	}
	if !*yes {
		ok, err := confirm(fmt.Sprintf("Restore %s to version %s? [y/N] ", *agentID, *versionID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	row, err := a.definitions.Rollback(ctx, *agentID, *versionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Restored %s as new version %s\n", row.AgentID, row.VersionID)
	return nil
}

func runAdminGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	graph := a.regs.Agents.DependencyGraph()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(graph)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGENT\tTOOLS\tSUB-AGENTS\tCALLBACKS")
	for _, id := range a.regs.Agents.IDs() {
		n := graph[id]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id,
			joinOrDash(n.Tools), joinOrDash(n.SubAgentIDs), joinOrDash(n.CallbackNames))
	}
	return w.Flush()
}

func runAdminOnboard(args []string) error {
	fs := flag.NewFlagSet("onboard", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	force := fs.Bool("force", false, "regenerate every entity")
	eventID := fs.String("event", "", "event id (generated when empty)")
	draft := fs.String("draft", "", "draft token holding signup answers")
	firstName := fs.String("first-name", "", "create or update the user with this first name")
	phone := fs.String("phone", "", "phone number for a created user")
	tz := fs.String("timezone", "", "IANA timezone for a created user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user is required")
	}
	if *eventID == "" {
		*eventID = uuid.NewString()
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Seed.ApplyOnStart {
		if _, err := a.applySeed(ctx, false); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	if *firstName != "" {
		u := fitness.User{ID: *userID, FirstName: *firstName, Phone: *phone, Timezone: *tz}
		if err := putUser(ctx, a, u); err != nil {
			return err
		}
	}

	rec, err := a.executor.DriveWithAttempts(ctx, onboarding.Trigger{
		UserID:      *userID,
		ForceCreate: *force,
		EventID:     *eventID,
		DraftToken:  *draft,
	})
	if err != nil {
		return fmt.Errorf("onboard %s: %w", *userID, err)
	}
	fmt.Fprintf(os.Stderr, "Onboarding %s for %s (run %s, attempts %d)\n", rec.Status, rec.UserID, rec.RunID, rec.Attempts)
	return nil
}

// putUser writes a user through whichever store is configured. Users are
// normally owned by the surrounding product; this exists for local runs.
func putUser(ctx context.Context, a *app, u fitness.User) error {
	switch s := a.store.(type) {
	case *memstore.Store:
		s.PutUser(u)
		return nil
	case *postgres.Store:
		if err := s.UpsertUser(ctx, &u); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	}
	return fmt.Errorf("store %T cannot write users", a.store)
}

func runAdminWorkflow(args []string) error {
	fs := flag.NewFlagSet("workflow", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user is required")
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	rec, steps, err := a.executor.Inspect(ctx, *userID)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}
	fmt.Printf("user %s  run %s  status %s  next step %s  messages sent %t\n",
		rec.UserID, rec.RunID, rec.Status, rec.CurrentStep(), rec.ProgramMessagesSent)
	if rec.ErrorMessage != "" {
		fmt.Printf("last error: %s\n", rec.ErrorMessage)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tCOMPLETED\tBYTES")
	for _, s := range steps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.Step, s.CreatedAt.Format(time.RFC3339), len(s.Output))
	}
	return w.Flush()
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := loadAdminApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if a.pool == nil {
		return errors.New("migrate-status needs store.driver postgres")
	}

	m, err := postgres.NewMigrator(a.pool)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	states, err := m.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tSOURCE\tAPPLIED\tAT")
	for _, s := range states {
		at := "-"
		if s.Applied {
			at = s.AppliedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", s.Version, s.Source, s.Applied, at)
	}
	return w.Flush()
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses, so scripted runs must pass --yes.
func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		return false, errors.New("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
