// Command smtpd runs a receive-only SMTP server.
//
// Usage:
//
//	smtpd [flags] [port]
//
// Every flag can also be set through an SMTPD_* environment variable, for
// example SMTPD_DATABASE_URL for -database-url. Flags win over the
// environment. A lone positional port is shorthand for -addr :<port>.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synqronlabs/smtpd"
	"github.com/synqronlabs/smtpd/directory"
	"github.com/synqronlabs/smtpd/dns"
	"github.com/synqronlabs/smtpd/metrics"
	"github.com/synqronlabs/smtpd/store"
)

type options struct {
	addr           string
	hostname       string
	users          string
	maildir        string
	badgerDir      string
	databaseURL    string
	amqpURL        string
	amqpQueue      string
	localDomains   []string
	metricsAddr    string
	logLevel       slog.Level
	maxConnections int
	maxErrors      int
	reverseDNS     bool
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("smtpd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func parseOptions(args []string, getenv func(string) string, output io.Writer) (options, error) {
	var opts options

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	fs := flag.NewFlagSet("smtpd", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.addr, "addr", envString(getenv, "SMTPD_ADDR", ":25"), "listen address")
	fs.StringVar(&opts.hostname, "hostname", envString(getenv, "SMTPD_HOSTNAME", hostname), "host name used in replies")
	fs.StringVar(&opts.users, "users", envString(getenv, "SMTPD_USERS", ""), "users file, one address per line")
	fs.StringVar(&opts.maildir, "maildir", envString(getenv, "SMTPD_MAILDIR", "mail"), "mailbox root directory, empty to disable")
	fs.StringVar(&opts.badgerDir, "badger", envString(getenv, "SMTPD_BADGER", ""), "badger database directory")
	fs.StringVar(&opts.databaseURL, "database-url", envString(getenv, "SMTPD_DATABASE_URL", ""), "postgres URL for mailbox lookups")
	fs.StringVar(&opts.amqpURL, "amqp-url", envString(getenv, "SMTPD_AMQP_URL", ""), "AMQP broker to publish delivered messages to")
	fs.StringVar(&opts.amqpQueue, "amqp-queue", envString(getenv, "SMTPD_AMQP_QUEUE", store.DefaultQueue), "AMQP queue name")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", envString(getenv, "SMTPD_METRICS_ADDR", ""), "address of the /metrics endpoint, empty to disable")
	fs.IntVar(&opts.maxConnections, "max-connections", envInt(getenv, "SMTPD_MAX_CONNECTIONS", 0), "concurrent connection limit, 0 for none")
	fs.IntVar(&opts.maxErrors, "max-errors", envInt(getenv, "SMTPD_MAX_ERRORS", 0), "rejected commands before a session is closed, 0 for none")
	fs.BoolVar(&opts.reverseDNS, "reverse-dns", envBool(getenv, "SMTPD_REVERSE_DNS", false), "look up client host names")

	domains := envString(getenv, "SMTPD_LOCAL_DOMAIN", "")
	fs.StringVar(&domains, "local-domain", domains, "comma separated domains to accept mail for")
	level := envString(getenv, "SMTPD_LOG_LEVEL", "info")
	fs.StringVar(&level, "log-level", level, "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		port, err := strconv.Atoi(fs.Arg(0))
		if err != nil || port < 1 || port > 65535 {
			return opts, fmt.Errorf("invalid port %q", fs.Arg(0))
		}
		opts.addr = ":" + strconv.Itoa(port)
	default:
		return opts, fmt.Errorf("expected at most one argument, got %d", fs.NArg())
	}

	if err := opts.logLevel.UnmarshalText([]byte(level)); err != nil {
		return opts, fmt.Errorf("invalid log level %q", level)
	}
	for _, d := range strings.Split(domains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			opts.localDomains = append(opts.localDomains, d)
		}
	}
	if opts.users != "" && opts.databaseURL != "" {
		return opts, errors.New("-users and -database-url are mutually exclusive")
	}
	return opts, nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	if n, err := strconv.Atoi(getenv(key)); err == nil {
		return n
	}
	return def
}

func envBool(getenv func(string) string, key string, def bool) bool {
	if b, err := strconv.ParseBool(getenv(key)); err == nil {
		return b
	}
	return def
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", slog.Any("error", err))
			}
		}
	}()

	dir, closeDir, err := buildDirectory(ctx, opts, logger, m)
	if err != nil {
		return err
	}
	closers = append(closers, closeDir...)

	st, closeStore, err := buildStore(opts)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore...)

	builder := smtpd.New(opts.hostname).
		Addr(opts.addr).
		Logger(logger).
		Metrics(m).
		MaxConnections(opts.maxConnections).
		MaxErrors(opts.maxErrors)
	if dir != nil {
		builder = builder.Directory(dir)
	}
	if st != nil {
		builder = builder.Store(m.InstrumentStore(st))
	}
	if opts.reverseDNS {
		builder = builder.ReverseDNS(dns.NewResolver(dns.ResolverConfig{}))
	}

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", slog.String("addr", opts.metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", slog.Any("error", err))
			}
		}()
		closers = append(closers, srv.Close)
	}

	logger.Info("starting SMTP server",
		slog.String("addr", opts.addr),
		slog.String("hostname", opts.hostname),
	)
	return builder.Run(ctx)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// buildDirectory returns nil when every address should be accepted.
func buildDirectory(ctx context.Context, opts options, logger *slog.Logger, m *metrics.Metrics) (smtpd.UserDirectory, []func() error, error) {
	var (
		dir     smtpd.UserDirectory
		closers []func() error
		cache   bool
	)

	switch {
	case opts.users != "":
		f, err := directory.OpenFile(opts.users)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("loaded users file", slog.String("path", opts.users), slog.Int("entries", f.Len()))
		go reloadOnHangup(ctx, f, logger)
		dir = f
	case opts.databaseURL != "":
		pool, err := pgxpool.Connect(ctx, opts.databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool.Connect: %w", err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		logger.Info("connected to the database")
		dir = directory.NewPostgres(pool, directory.DefaultMailboxQuery, logger)
		cache = true
	}

	if len(opts.localDomains) > 0 {
		if dir == nil {
			dir = smtpd.UserDirectoryFunc(func(context.Context, string) bool { return true })
		}
		dir = directory.NewDomainPolicy(dir, opts.localDomains...)
	}
	if dir == nil {
		return nil, closers, nil
	}

	if cache {
		c, err := directory.NewCached(dir, directory.CacheConfig{})
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, func() error { c.Close(); return nil })
		dir = c
	}
	return m.InstrumentDirectory(dir), closers, nil
}

func reloadOnHangup(ctx context.Context, f *directory.File, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := f.Reload(); err != nil {
				logger.Error("users file reload failed", slog.Any("error", err))
				continue
			}
			logger.Info("users file reloaded", slog.Int("entries", f.Len()))
		}
	}
}

// buildStore returns nil when delivered messages should be discarded.
func buildStore(opts options) (smtpd.MailStore, []func() error, error) {
	var (
		stores  store.Multi
		closers []func() error
	)

	if opts.maildir != "" {
		stores = append(stores, store.NewMailbox(opts.maildir))
	}
	if opts.badgerDir != "" {
		b, err := store.OpenBadger(store.BadgerOptions{Dir: opts.badgerDir})
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, b.Close)
		stores = append(stores, b)
	}
	if opts.amqpURL != "" {
		p, err := store.DialPublisher(opts.amqpURL, opts.amqpQueue)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, p.Close)
		stores = append(stores, p)
	}

	switch len(stores) {
	case 0:
		return nil, closers, nil
	case 1:
		return stores[0], closers, nil
	}
	return stores, closers, nil
}
