// Command tokenpipe signs in to an API server, keeps the session's tokens
// fresh in a credential store, and sends authenticated requests.
//
// Usage:
//
//	tokenpipe [-config file] login [-user name] [-password pass]
//	tokenpipe [-config file] register -email addr [-username name] [-password pass]
//	tokenpipe [-config file] logout
//	tokenpipe [-config file] status
//	tokenpipe [-config file] get PATH
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/panyam/tokenpipe"
	"github.com/panyam/tokenpipe/client"
	"github.com/panyam/tokenpipe/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.SetFlags(0)
		log.Fatalf("tokenpipe: %v", err)
	}
}

// cli carries what every subcommand needs.
type cli struct {
	cfg    *config.Config
	client *client.AuthClient
	store  tokenpipe.ServerCredentialStore
	stdin  *bufio.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fset := flag.NewFlagSet("tokenpipe", flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", "", "path to config file (default $"+config.EnvConfigPath+")")
	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: tokenpipe [-config file] login|register|logout|status|get PATH")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() == 0 {
		fset.Usage()
		return flag.ErrHelp
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := cfg.Logger()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Kind, err)
	}
	defer closeStore()

	opts := append(cfg.ClientOptions(logger), client.WithObserver(tokenpipe.ObserverFuncs{
		Logout: func(reason error) {
			if reason != nil {
				fmt.Fprintf(stderr, "session ended: %v\n", reason)
			}
		},
	}))
	authClient, err := client.NewAuthClient(cfg.Server.URL, store, opts...)
	if err != nil {
		return err
	}

	c := &cli{
		cfg:    cfg,
		client: authClient,
		store:  store,
		stdin:  bufio.NewReader(stdin),
		stdout: stdout,
		stderr: stderr,
	}

	cmd, rest := fset.Arg(0), fset.Args()[1:]
	switch cmd {
	case "login":
		return c.login(ctx, rest)
	case "register":
		return c.register(ctx, rest)
	case "logout":
		return c.logout(ctx)
	case "status":
		return c.status(ctx)
	case "get":
		return c.get(ctx, rest)
	}
	fset.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func (c *cli) login(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("login", flag.ContinueOnError)
	fset.SetOutput(c.stderr)
	user := fset.String("user", "", "username or email")
	password := fset.String("password", os.Getenv("TOKENPIPE_PASSWORD"), "password (default $TOKENPIPE_PASSWORD, else read from stdin)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	var err error
	if *user == "" {
		if *user, err = c.prompt("Username or email: "); err != nil {
			return err
		}
	}
	if *password == "" {
		if *password, err = c.prompt("Password: "); err != nil {
			return err
		}
	}

	cred, err := c.client.Login(ctx, *user, *password)
	if err != nil {
		return err
	}
	who := cred.UserEmail
	if who == "" {
		who = *user
	}
	fmt.Fprintf(c.stdout, "Logged in to %s as %s\n", c.client.ServerURL(), who)
	return nil
}

func (c *cli) register(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("register", flag.ContinueOnError)
	fset.SetOutput(c.stderr)
	var reg client.Registration
	fset.StringVar(&reg.Email, "email", "", "email address (required)")
	fset.StringVar(&reg.Username, "username", "", "username")
	fset.StringVar(&reg.FirstName, "first-name", "", "first name")
	fset.StringVar(&reg.LastName, "last-name", "", "last name")
	fset.StringVar(&reg.BirthDate, "birth-date", "", "birth date, YYYY-MM-DD")
	fset.StringVar(&reg.Password1, "password", os.Getenv("TOKENPIPE_PASSWORD"), "password (default $TOKENPIPE_PASSWORD, else read from stdin)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if reg.Password1 == "" {
		var err error
		if reg.Password1, err = c.prompt("Password: "); err != nil {
			return err
		}
	}

	cred, err := c.client.Register(ctx, reg)
	if err != nil {
		return err
	}
	if cred == nil {
		fmt.Fprintf(c.stdout, "Registered %s; run 'tokenpipe login' to sign in\n", reg.Email)
		return nil
	}
	fmt.Fprintf(c.stdout, "Registered and logged in as %s\n", reg.Email)
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Logged out of %s\n", c.client.ServerURL())
	return nil
}

func (c *cli) status(ctx context.Context) error {
	cred, err := c.client.Credential(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Server:  %s\n", c.client.ServerURL())
	if cred == nil {
		fmt.Fprintln(c.stdout, "Status:  not logged in")
	} else {
		state := "logged in"
		if !c.client.IsLoggedIn(ctx) {
			state = "session expired"
		}
		fmt.Fprintf(c.stdout, "Status:  %s\n", state)
		if cred.UserEmail != "" {
			fmt.Fprintf(c.stdout, "User:    %s\n", cred.UserEmail)
		}
		fmt.Fprintf(c.stdout, "Access:  %s\n", describeExpiry(cred.AccessExpiresAt))
		fmt.Fprintf(c.stdout, "Refresh: %s\n", describeExpiry(cred.RefreshExpiresAt))
	}

	servers, err := c.store.ListServers(ctx)
	if err != nil {
		return err
	}
	if len(servers) > 1 {
		fmt.Fprintf(c.stdout, "Stored:  %s\n", strings.Join(servers, ", "))
	}
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: tokenpipe get PATH")
	}
	target := args[0]
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.client.ServerURL() + "/" + strings.TrimPrefix(target, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(c.stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %s", target, resp.Status)
	}
	return nil
}

func (c *cli) prompt(label string) (string, error) {
	fmt.Fprint(c.stderr, label)
	line, err := c.stdin.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func describeExpiry(t time.Time) string {
	if t.IsZero() {
		return "no expiry known"
	}
	d := time.Until(t).Round(time.Second)
	if d <= 0 {
		return fmt.Sprintf("expired %s ago (%s)", -d, t.Local().Format(time.RFC3339))
	}
	return fmt.Sprintf("expires in %s (%s)", d, t.Local().Format(time.RFC3339))
}
