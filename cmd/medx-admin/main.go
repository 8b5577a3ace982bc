package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/bootstrap"
	"github.com/hengadev/medx/internal/health"
	vaultkeys "github.com/hengadev/medx/providers/keys/hashicorp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "init-master":
		return initMasterCommand(ctx, args[1:], stdout, stderr)
	case "policy":
		return policyCommand(args[1:], stdout, stderr)
	case "check":
		return checkCommand(ctx, args[1:], stdout, stderr)
	case "serve-health":
		return serveHealthCommand(ctx, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, medx.VersionInfo())
		return 0
	case "-h", "-help", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: medx-admin <command> [options]\n")
	fmt.Fprintf(w, "\nCommands:\n")
	fmt.Fprintf(w, "  init-master  Create the master key of the in-process attribute authority\n")
	fmt.Fprintf(w, "  policy       Print the field policy table\n")
	fmt.Fprintf(w, "  check        Run a round trip against every configured dependency\n")
	fmt.Fprintf(w, "  serve-health Serve /health, /health/live and /health/ready over HTTP\n")
	fmt.Fprintf(w, "  version      Show version information\n")
	fmt.Fprintf(w, "\nConfiguration is read from MEDX_* variables and optional -env files.\n")
	fmt.Fprintf(w, "Run 'medx-admin <command> -h' for help on a specific command.\n")
}

// envFiles collects repeated -env flags.
type envFiles []string

func (e *envFiles) String() string { return strings.Join(*e, ",") }

func (e *envFiles) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func loadConfig(files envFiles) (medx.Config, error) {
	if len(files) == 0 {
		return medx.LoadConfigFromEnvironment()
	}
	return medx.LoadConfigFromFiles(files...)
}

func initMasterCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init-master", flag.ContinueOnError)
	fs.SetOutput(stderr)
	force := fs.Bool("force", false, "Replace an existing master key")
	var env envFiles
	fs.Var(&env, "env", "Dotenv file to read (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(env)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if cfg.MasterKeyBackend == medx.BackendMemory {
		fmt.Fprintf(stderr, "Master key backend %q does not persist keys; set %s to vault or aws.\n",
			cfg.MasterKeyBackend, medx.EnvMasterKeyBackend)
		return 1
	}

	store, err := bootstrap.NewMasterKeyStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open master key store: %v\n", err)
		return 1
	}
	path := store.GetStoragePath(cfg.MasterKeyAlias)

	exists, err := store.MasterKeyExists(ctx, cfg.MasterKeyAlias)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to check %s: %v\n", path, err)
		return 1
	}
	if exists && !*force {
		fmt.Fprintf(stderr, "Master key %s already exists. Use -force to replace it; existing attribute ciphertexts become unreadable.\n", path)
		return 1
	}

	key, err := medx.GenerateMasterKey()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to generate master key: %v\n", err)
		return 1
	}
	if err := store.StoreMasterKey(ctx, cfg.MasterKeyAlias, key); err != nil {
		fmt.Fprintf(stderr, "Failed to store master key: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Master key stored at %s\n", path)

	if cfg.SealerBackend == medx.BackendVault {
		sealer, err := bootstrap.NewKeySealer(ctx, cfg)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to connect the Transit sealer: %v\n", err)
			return 1
		}
		if transit, ok := sealer.(*vaultkeys.TransitSealer); ok {
			if err := transit.EnsureKey(ctx); err != nil {
				fmt.Fprintf(stderr, "Failed to create Transit key %s: %v\n", transit.KeyName(), err)
				return 1
			}
			fmt.Fprintf(stdout, "Transit key %s ready\n", transit.KeyName())
		}
	}
	return 0
}

func policyCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "YAML policy table (default: built-in table)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	registry := medx.DefaultRegistry()
	if *file != "" {
		var err error
		registry, err = medx.LoadRegistryFile(*file)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to load %s: %v\n", *file, err)
			return 1
		}
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ungoverned fields: %s\n\n", registry.Ungoverned())
	for _, name := range registry.Entities() {
		ep, _ := registry.Entity(name)
		fmt.Fprintf(tw, "%s\tkey=%s\tdecrypt=%s\n", ep.Entity, ep.KeyKind, ep.DecryptRule)
		for _, fp := range ep.Fields {
			switch fp.Scheme {
			case medx.SchemeIdentity:
				fmt.Fprintf(tw, "  %s\t%s\towner=%s.%s\n", fp.Field, fp.Scheme, fp.OwnerEntity, fp.OwnerField)
			default:
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", fp.Field, fp.Scheme, fp.Policy)
			}
		}
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

func checkCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var env envFiles
	fs.Var(&env, "env", "Dotenv file to read (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(env)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	c, err := bootstrap.Build(ctx, cfg, bootstrap.WithLogOutput(stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to build service: %v\n", err)
		return 1
	}
	defer c.Close()

	report := c.Check(ctx)
	for _, r := range report.Results {
		if err := r.Err(); err != nil {
			hint := ""
			if medx.IsRetryableError(err) || errors.Is(err, context.DeadlineExceeded) {
				hint = " (unreachable)"
			}
			fmt.Fprintf(stdout, "✗ %s%s: %v\n", r.Name, hint, err)
			continue
		}
		fmt.Fprintf(stdout, "✓ %s (%s)\n", r.Name, r.Duration.Round(time.Microsecond))
	}

	switch report.Status {
	case health.StatusHealthy:
		fmt.Fprintln(stdout, "\n✓ All checks passed!")
		return 0
	case health.StatusDegraded:
		fmt.Fprintln(stdout, "\nService degraded.")
		return 0
	default:
		fmt.Fprintln(stderr, "\nCheck failed.")
		return 1
	}
}

func serveHealthCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve-health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", ":8081", "Address to serve health endpoints on")
	var env envFiles
	fs.Var(&env, "env", "Dotenv file to read (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(env)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	c, err := bootstrap.Build(ctx, cfg, bootstrap.WithLogOutput(stderr))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to build service: %v\n", err)
		return 1
	}
	defer c.Close()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to listen on %s: %v\n", *listen, err)
		return 1
	}
	fmt.Fprintf(stdout, "Serving health endpoints on %s\n", ln.Addr())
	if err := serveHealth(ctx, ln, health.Handler(c.HealthChecker())); err != nil {
		fmt.Fprintf(stderr, "Health server failed: %v\n", err)
		return 1
	}
	return 0
}

// serveHealth serves h on ln until ctx is done, then shuts the server down.
func serveHealth(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
