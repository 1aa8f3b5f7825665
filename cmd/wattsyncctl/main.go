// wattsyncctl is a small operator CLI for the collection service's HTTP
// API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/wattsync/wattsync/pkg/common"
)

func init() {
	subcommands.Register(&updateCmd{}, "")
	subcommands.Register(&historyCmd{}, "")
	subcommands.Register(&clearCmd{}, "")
	subcommands.Register(&normalizeCmd{}, "")
	subcommands.Register(&statusCmd{}, "")
	subcommands.Register(&entitiesCmd{}, "")
	subcommands.Register(subcommands.HelpCommand(), "")
}

func main() {
	flag.Parse()
	s := subcommands.Execute(context.Background())
	os.Exit(int(s))
}

// flagsFromEnv sets the unset flags from environment variables with the
// same name, uppercased with dashes turned to underscores.
func flagsFromEnv(f *flag.FlagSet) {
	f.VisitAll(func(f *flag.Flag) {
		if f.Value.String() == "" {
			name := "WATTSYNC_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			_ = f.Value.Set(os.Getenv(name))
		}
	})
}

// apiFlags are shared by every subcommand that talks to the API.
type apiFlags struct {
	server string
	token  string
}

func (a *apiFlags) setFlags(fs *flag.FlagSet) {
	fs.StringVar(&a.server, "server", "", "base URL of the wattsync server (e.g. http://localhost:8080)")
	fs.StringVar(&a.token, "token", "", "bearer ID token, if the server requires auth")
}

// call posts body (or GETs when body is nil) and prints the JSON reply.
func (a *apiFlags) call(ctx context.Context, f *flag.FlagSet, path string, body interface{}) subcommands.ExitStatus {
	flagsFromEnv(f)
	if a.server == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -server is required")
		return subcommands.ExitUsageError
	}

	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		raw, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot encode request: %v\n", err)
			return subcommands.ExitFailure
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(a.server, "/")+path, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot build request: %v\n", err)
		return subcommands.ExitFailure
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := common.HTTPClient(5 * time.Minute).Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return subcommands.ExitFailure
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(out)))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Server returned %s\n", resp.Status)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type updateCmd struct {
	apiFlags
	pdl string
}

func (updateCmd) Name() string     { return "update" }
func (updateCmd) Synopsis() string { return "trigger a refresh cycle" }
func (updateCmd) Usage() string {
	return `update -server <url> [-pdl <pdl>]

Refreshes one meter, or every configured meter when -pdl is omitted.

`
}

func (c *updateCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
	fs.StringVar(&c.pdl, "pdl", "", "delivery point to refresh (default: all)")
}

func (c *updateCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return c.call(ctx, f, "/api/update", map[string]string{"pdl": c.pdl})
}

type historyCmd struct {
	apiFlags
	pdl, service, start, end string
	price, offpeakPrice      float64
}

func (historyCmd) Name() string     { return "fetch-history" }
func (historyCmd) Synopsis() string { return "backfill readings for a date range" }
func (historyCmd) Usage() string {
	return `fetch-history -server <url> -pdl <pdl> -service <service> -start <date> -end <date> [-price <eur>] [-offpeak-price <eur>]

Dates are YYYY-MM-DD. Prices override the configured pricings for this
backfill only.

`
}

func (c *historyCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
	fs.StringVar(&c.pdl, "pdl", "", "delivery point")
	fs.StringVar(&c.service, "service", "", "metering service (e.g. daily_consumption)")
	fs.StringVar(&c.start, "start", "", "start date, inclusive")
	fs.StringVar(&c.end, "end", "", "end date, exclusive")
	fs.Float64Var(&c.price, "price", 0, "standard price override")
	fs.Float64Var(&c.offpeakPrice, "offpeak-price", 0, "offpeak price override")
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return c.call(ctx, f, "/api/history/fetch", map[string]interface{}{
		"pdl":          c.pdl,
		"service":      c.service,
		"start":        c.start,
		"end":          c.end,
		"price":        c.price,
		"offpeakPrice": c.offpeakPrice,
	})
}

type clearCmd struct {
	apiFlags
	pdl, ids string
}

func (clearCmd) Name() string     { return "clear" }
func (clearCmd) Synopsis() string { return "delete statistic series" }
func (clearCmd) Usage() string {
	return `clear -server <url> -pdl <pdl> -ids <id,id,...>

Only series inside the wattsync: namespace can be cleared.

`
}

func (c *clearCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
	fs.StringVar(&c.pdl, "pdl", "", "delivery point")
	fs.StringVar(&c.ids, "ids", "", "comma-delimited statistic IDs")
}

func (c *clearCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return c.call(ctx, f, "/api/clear", map[string]interface{}{
		"pdl":          c.pdl,
		"statisticIds": strings.Split(c.ids, ","),
	})
}

type normalizeCmd struct {
	apiFlags
	pdl string
}

func (normalizeCmd) Name() string     { return "normalize" }
func (normalizeCmd) Synopsis() string { return "recompute the running sums of stored series" }
func (normalizeCmd) Usage() string {
	return `normalize -server <url> [-pdl <pdl>]

`
}

func (c *normalizeCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
	fs.StringVar(&c.pdl, "pdl", "", "delivery point (default: all)")
}

func (c *normalizeCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return c.call(ctx, f, "/api/normalize", map[string]string{"pdl": c.pdl})
}

type statusCmd struct {
	apiFlags
}

func (statusCmd) Name() string     { return "status" }
func (statusCmd) Synopsis() string { return "print the last snapshot of every meter" }
func (statusCmd) Usage() string {
	return `status -server <url>

`
}

func (c *statusCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return c.call(ctx, f, "/api/status", nil)
}

type entitiesCmd struct {
	apiFlags
	pdl string
}

func (entitiesCmd) Name() string     { return "entities" }
func (entitiesCmd) Synopsis() string { return "print the display entities and their states" }
func (entitiesCmd) Usage() string {
	return `entities -server <url> [-pdl <pdl>]

`
}

func (c *entitiesCmd) SetFlags(fs *flag.FlagSet) {
	c.setFlags(fs)
	fs.StringVar(&c.pdl, "pdl", "", "delivery point (default: all)")
}

func (c *entitiesCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	path := "/api/entities"
	if c.pdl != "" {
		path += "?pdl=" + url.QueryEscape(c.pdl)
	}
	return c.call(ctx, f, path, nil)
}
