// Command portalctl is the operator tool for the portal: it triggers audit
// jobs, encodes and decodes record refs and explains what a profile payload
// unlocks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/ispdesk/portal/cmd/portalctl/cli"
	"github.com/ispdesk/portal/internal/ability"
	"github.com/ispdesk/portal/internal/nav"
	"github.com/ispdesk/portal/internal/platform/cache"
)

const usage = `usage: portalctl <command> [flags]

commands:
  jobs prune              enqueue the session audit retention job
  jobs stats              show audit queue depth
  jobs scheduled          list scheduled tasks
  ref encode <id>...      print the URL ref for record ids
  ref decode <ref>...     print the record id behind refs
  ability explain         show rules and navigation for a profile payload
  ability check <a:S>...  answer capability queries for a profile payload
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "portalctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return nil
	}
	group, cmd, rest := args[0], args[1], args[2:]
	switch group {
	case "jobs":
		return runJobs(ctx, cmd, rest, stdout)
	case "ref":
		return runRef(cmd, rest, stdout)
	case "ability":
		return runAbility(cmd, rest, stdin, stdout)
	default:
		return fmt.Errorf("unknown command %q", group)
	}
}

func runJobs(ctx context.Context, cmd string, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	redisDB := fs.Int("redis-db", 0, "redis database")
	limit := fs.Int("limit", 10, "rows to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	jobsCLI, err := cli.NewJobsCLI(cache.Options{Addr: *redisAddr, Password: os.Getenv("REDIS_PASSWORD"), DB: *redisDB})
	if err != nil {
		return err
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	switch cmd {
	case "prune":
		info, err := jobsCLI.Trigger(ctx, "prune")
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "enqueued %s on %s (id %s)\n", info.Type, info.Queue, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Fprintf(stdout, "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, *limit)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(stdout, "%s %s %s\n", t.NextProcessAt.Format(time.RFC3339), t.Type, t.ID)
		}
	default:
		return fmt.Errorf("unknown jobs command %q", cmd)
	}
	return nil
}

func runRef(cmd string, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("ref", pflag.ContinueOnError)
	secret := fs.String("secret", "", "route secret (defaults to $ROUTE_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	codec, err := cli.NewRefCodec(*secret)
	if err != nil {
		return err
	}
	for _, arg := range fs.Args() {
		var out string
		switch cmd {
		case "encode":
			out, err = codec.Encode(arg)
		case "decode":
			out, err = codec.Decode(arg)
		default:
			return fmt.Errorf("unknown ref command %q", cmd)
		}
		if err != nil {
			return fmt.Errorf("%s %q: %w", cmd, arg, err)
		}
		fmt.Fprintln(stdout, out)
	}
	return nil
}

func runAbility(cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := pflag.NewFlagSet("ability", pflag.ContinueOnError)
	file := fs.StringP("file", "f", "-", "profile JSON file, - for stdin")
	superCode := fs.String("superadmin", envOr("SUPERADMIN_ROLE_CODE", ability.DefaultSuperAdminCode), "superadmin role code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}
	user, err := cli.DecodeUser(in)
	if err != nil {
		return err
	}
	opts := ability.Options{SuperAdminCode: *superCode}

	switch cmd {
	case "explain":
		tree, err := nav.Default()
		if err != nil {
			return err
		}
		return cli.Explain(user, opts, tree).Print(stdout)
	case "check":
		answers, err := cli.Check(user, opts, fs.Args())
		if err != nil {
			return err
		}
		queries := make([]string, 0, len(answers))
		for q := range answers {
			queries = append(queries, q)
		}
		sort.Strings(queries)
		for _, q := range queries {
			fmt.Fprintf(stdout, "%s\t%t\n", q, answers[q])
		}
		return nil
	default:
		return fmt.Errorf("unknown ability command %q", cmd)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
