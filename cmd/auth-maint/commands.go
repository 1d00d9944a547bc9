package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/r2r72/authgate/internal/service/auth"
)

// identityAdmin меняет флаги учётной записи по логину.
type identityAdmin interface {
	SetStaff(ctx context.Context, username string, staff bool) error
	SetActive(ctx context.Context, username string, active bool) error
}

type maint struct {
	sessions   *auth.SessionRegistry
	sweeper    *auth.Sweeper
	identities identityAdmin
	migrate    func(context.Context) error
	retention  time.Duration
	out        io.Writer
}

func (m *maint) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no command given")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return m.runMigrate(ctx)
	case "purge-attempts":
		return m.purgeAttempts(ctx, rest)
	case "cleanup-sessions":
		return m.cleanupSessions(ctx, rest)
	case "grant-staff":
		return m.grantStaff(ctx, rest)
	case "set-active":
		return m.setActive(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (m *maint) runMigrate(ctx context.Context) error {
	if err := m.migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(m.out, "✅ Schema applied")
	return nil
}

func (m *maint) purgeAttempts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge-attempts", flag.ContinueOnError)
	fs.SetOutput(m.out)
	days := fs.Int("retention-days", int(m.retention/(24*time.Hour)), "keep attempts newer than this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return errors.New("-retention-days must be positive")
	}

	n, err := m.sweeper.Purge(ctx, time.Duration(*days)*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "✅ Purged %d login attempt rows older than %d days.\n", n, *days)
	return nil
}

func (m *maint) cleanupSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cleanup-sessions", flag.ContinueOnError)
	fs.SetOutput(m.out)
	timeout := fs.Int("timeout-minutes", 60, "mark sessions idle longer than this inactive")
	deleteOld := fs.Bool("delete-old", false, "also delete old session rows")
	daysToKeep := fs.Int("days-to-keep", 7, "with -delete-old, keep rows created within this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeout <= 0 || *daysToKeep <= 0 {
		return errors.New("-timeout-minutes and -days-to-keep must be positive")
	}

	fmt.Fprintf(m.out, "Starting cleanup with %d minute timeout...\n", *timeout)
	n, err := m.sessions.ExpireIdle(ctx, time.Duration(*timeout)*time.Minute)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "Marked %d sessions as inactive due to timeout\n", n)

	if *deleteOld {
		n, err := m.sessions.DeleteOlderThan(ctx, time.Duration(*daysToKeep)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.out, "Deleted %d old session records (older than %d days)\n", n, *daysToKeep)
	}

	st, err := m.sessions.Stats(ctx)
	if err != nil {
		return err
	}
	printSessionStats(m.out, st)
	return nil
}

func printSessionStats(w io.Writer, st *auth.SessionStats) {
	rule := strings.Repeat("=", 50)
	fmt.Fprintf(w, "\n%s\nSESSION STATISTICS\n%s\n", rule, rule)
	fmt.Fprintf(w, "Total session records: %d\n", st.Total)
	fmt.Fprintf(w, "Active sessions: %d\n", st.Active)
	fmt.Fprintf(w, "Inactive sessions: %d\n", st.Inactive)
	if len(st.TopUsers) > 0 {
		fmt.Fprintln(w, "\nMost active users:")
		for _, u := range st.TopUsers {
			fmt.Fprintf(w, "  %s: %d active sessions\n", u.Key, u.Count)
		}
	}
	fmt.Fprintln(w, rule)
}

func (m *maint) grantStaff(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("grant-staff", flag.ContinueOnError)
	fs.SetOutput(m.out)
	username := fs.String("username", "", "account to change")
	revoke := fs.Bool("revoke", false, "remove staff access instead of granting it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	if err := m.identities.SetStaff(ctx, *username, !*revoke); err != nil {
		return err
	}
	if *revoke {
		fmt.Fprintf(m.out, "✅ %s is no longer staff\n", *username)
	} else {
		fmt.Fprintf(m.out, "✅ %s is now staff\n", *username)
	}
	return nil
}

func (m *maint) setActive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ContinueOnError)
	fs.SetOutput(m.out)
	username := fs.String("username", "", "account to change")
	active := fs.Bool("active", true, "whether the account may log in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	if err := m.identities.SetActive(ctx, *username, *active); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "✅ %s active=%t\n", *username, *active)
	return nil
}
