// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package run

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/saucelabs/headless"
	"github.com/saucelabs/headless/bind"
	"github.com/saucelabs/headless/header"
	"github.com/saucelabs/headless/internal/version"
	"github.com/saucelabs/headless/limiter"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/log/slog"
	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/ruleset"
	"github.com/saucelabs/headless/runctx"
	"github.com/saucelabs/headless/session"
	"github.com/saucelabs/headless/upstream"
	"github.com/saucelabs/headless/utils/cobrautil"
	"github.com/spf13/cobra"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
)

type command struct {
	promReg         *prometheus.Registry
	promNamespace   string
	proxyConfig     *headless.ProxyConfig
	upstreamConfig  *upstream.Config
	sessions        bool
	sessionConfig   *session.Config
	limiterConfig   *limiter.Config
	retryPolicy     *retry.Policy
	directAccess    []ruleset.RegexpListItem
	headers         []header.Header
	apiServerConfig *headless.HTTPServerConfig
	logConfig       *log.Config

	dryRun bool
	goleak bool
}

func (c *command) runE(cmd *cobra.Command, _ []string) (cmdErr error) {
	c.setPromNamespace()

	onError, err := c.registerErrorsMetric()
	if err != nil {
		return fmt.Errorf("register errors metric: %w", err)
	}
	logger := slog.New(c.logConfig, slog.WithOnError(onError))

	defer func() {
		if err := logger.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close logger: %s\n", err)
		}
	}()

	defer func() {
		if cmdErr != nil {
			logger.Error("fatal error exiting", "error", cmdErr)
			cmd.SilenceErrors = true
		}
	}()

	logger.Info("headless starting", "version", version.Version, "commit", version.Commit)
	logger.Debug("resource limits", "gomaxprocs", runtime.GOMAXPROCS(0), "gomemlimit", os.Getenv("GOMEMLIMIT"))

	var cfg []byte
	{
		changed, err := cobrautil.FlagsDescriber{
			Format:          cobrautil.Plain,
			ShowChangedOnly: true,
			ShowHidden:      true,
		}.DescribeFlags(cmd.Flags())
		if err != nil {
			return err
		}
		if len(changed) > 0 {
			logger.Info("configuration\n" + string(changed))
		} else {
			logger.Info("using default configuration")
		}

		cfg, err = cobrautil.FlagsDescriber{
			Format:          cobrautil.YAML,
			ShowChangedOnly: false,
			ShowHidden:      false,
		}.DescribeFlags(cmd.Flags())
		if err != nil {
			return err
		}
	}

	if err := c.configureProxy(); err != nil {
		return err
	}

	g := runctx.NewGroup()

	dial := headless.NewDialer(&headless.DialConfig{
		DialTimeout:   c.upstreamConfig.DialTimeout,
		KeepAlive:     true,
		Name:          "upstream",
		PromNamespace: c.promNamespace,
		PromRegistry:  c.promReg,
	})
	up, err := upstream.New(c.upstreamConfig, dial.DialContext, logger.Named("upstream"))
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	defer up.CloseIdleConnections()
	logger.Info("using upstream", "proxy", bind.RedactURL(c.upstreamConfig.ProxyURL), "auth_mode", c.upstreamConfig.AuthMode)

	var sp *session.Pool
	if c.sessions {
		sp, err = session.NewPool(c.sessionConfig, up, logger.Named("session"))
		if err != nil {
			return fmt.Errorf("session pool: %w", err)
		}
		g.Add("session pool", sp.Run)
	}

	lim, err := limiter.New(c.limiterConfig)
	if err != nil {
		return fmt.Errorf("limiter: %w", err)
	}

	direct := headless.NewDialer(&headless.DialConfig{
		DialTimeout:   c.upstreamConfig.DialTimeout,
		KeepAlive:     true,
		Name:          "direct",
		PromNamespace: c.promNamespace,
		PromRegistry:  c.promReg,
	})
	p, err := headless.NewProxy(c.proxyConfig, up, sp, lim, c.retryPolicy, direct.DialContext, logger.Named("proxy"))
	if err != nil {
		return err
	}
	defer p.Close()
	g.Add("proxy", p.Run)

	if c.apiServerConfig.Addr != "" {
		if err := c.registerProcMetrics(); err != nil {
			return fmt.Errorf("register process metrics: %w", err)
		}
		if err := c.registerVersionMetric(); err != nil {
			return fmt.Errorf("register version metric: %w", err)
		}

		h := headless.NewAPIHandler(c.promReg, p, string(cfg))
		a, err := headless.NewHTTPServer(c.apiServerConfig, h, logger.Named("api"))
		if err != nil {
			return err
		}
		defer a.Close()
		g.Add("api server", a.Run)
	}

	if c.goleak {
		defer func() {
			if err := goleak.Find(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "goleak: %s", err)
				os.Exit(1)
			}
		}()
	}

	if c.dryRun {
		return nil
	}

	return g.Run()
}

func (c *command) setPromNamespace() {
	c.proxyConfig.PromNamespace = c.promNamespace
	c.sessionConfig.PromNamespace = c.promNamespace
	c.limiterConfig.PromNamespace = c.promNamespace
}

// configureProxy moves rules from flags to the components they apply to.
// Set header rules go to the upstream, the other rules modify client requests.
func (c *command) configureProxy() error {
	if len(c.directAccess) > 0 {
		m, err := ruleset.NewRegexpMatcherFromList(c.directAccess)
		if err != nil {
			return fmt.Errorf("direct access: %w", err)
		}
		c.proxyConfig.DirectAccess = m
	}

	for _, h := range c.headers {
		if h.Action == header.Set {
			c.upstreamConfig.SetHeader(h.Name, h.Value)
		} else {
			c.proxyConfig.RequestHeaders = append(c.proxyConfig.RequestHeaders, h)
		}
	}

	return nil
}

func (c *command) registerErrorsMetric() (func(name string), error) {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.promNamespace,
		Name:      "errors_total",
		Help:      "Number of errors logged by component",
	}, []string{"name"})

	if err := c.promReg.Register(m); err != nil {
		return nil, err
	}

	return func(name string) {
		m.WithLabelValues(name).Inc()
	}, nil
}

func (c *command) registerProcMetrics() error {
	return multierr.Combine(
		// ProcessCollector is only available in Linux and Windows.
		c.promReg.Register(collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{Namespace: c.promNamespace})),
		c.promReg.Register(collectors.NewGoCollector()),
	)
}

func (c *command) registerVersionMetric() error {
	return c.promReg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.promNamespace,
		Name:      "version",
		Help:      "Headless version, value is always 1",
		ConstLabels: prometheus.Labels{
			"version": version.Version,
			"commit":  version.Commit,
			"time":    version.Time,
		},
	}, func() float64 {
		return 1
	}))
}

func Command() *cobra.Command {
	c := makeCommand()
	return c.command()
}

func (c *command) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run --api-key <key> [--proxy <host:port>] [--address <host:port>]",
		Short:   "Start the headless proxy",
		Long:    long,
		Example: example,
		Args:    cobra.NoArgs,
		RunE:    c.runE,
	}

	fs := cmd.Flags()
	bind.ProxyConfig(fs, c.proxyConfig)
	bind.DirectAccess(fs, &c.directAccess)
	bind.Headers(fs, &c.headers)
	bind.UpstreamConfig(fs, c.upstreamConfig)
	bind.SessionConfig(fs, &c.sessions, c.sessionConfig)
	bind.LimiterConfig(fs, c.limiterConfig)
	bind.RetryPolicy(fs, c.retryPolicy)
	bind.HTTPServerConfig(fs, c.apiServerConfig, "api")
	bind.PromNamespace(fs, &c.promNamespace)
	bind.LogConfig(fs, c.logConfig)
	bind.HTTPLogConfig(fs, &c.proxyConfig.LogHTTPMode)

	bind.AutoMarkFlagFilename(cmd)

	fs.BoolVar(&c.goleak, "goleak", false, "enable goleak")
	bind.MarkFlagHidden(cmd, "goleak")

	return cmd
}

// Metrics returns the registry populated by a dry run with default flags.
func Metrics(args ...string) (*prometheus.Registry, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	c := makeCommand()
	c.logConfig = &log.Config{
		Level:  log.ErrorLevel,
		Format: log.TextFormat,
		File:   devNull,
	}
	c.dryRun = true

	cmd := c.command()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	if err := cmd.Execute(); err != nil {
		return nil, err
	}

	return c.promReg, nil
}

func makeCommand() command {
	c := command{
		promReg:         prometheus.NewRegistry(),
		promNamespace:   "headless",
		proxyConfig:     headless.DefaultProxyConfig(),
		upstreamConfig:  upstream.DefaultConfig(),
		sessionConfig:   session.DefaultConfig(),
		limiterConfig:   limiter.DefaultConfig(),
		retryPolicy:     retry.DefaultPolicy(),
		apiServerConfig: headless.DefaultHTTPServerConfig(),
		logConfig:       log.DefaultConfig(),
	}
	c.proxyConfig.PromRegistry = c.promReg
	c.sessionConfig.PromRegistry = c.promReg
	c.limiterConfig.PromRegistry = c.promReg

	return c
}

const long = `Start the headless proxy.
Browsers and HTTP clients connect to it as to a plain HTTP proxy without credentials.
Requests are forwarded to the smart proxy service with the API key attached,
transient upstream failures of idempotent requests are retried with exponential backoff.
HTTPS is supported with CONNECT tunnels that are relayed without interception.
`

const example = `  # Start the proxy with an API key
  headless run -k 0123456789abcdef

  # Use a browser profile and sticky sessions
  headless run -k 0123456789abcdef -H "profile: desktop" --sessions

  # Send localhost traffic directly and limit concurrency
  headless run -k 0123456789abcdef -d '^localhost' --concurrency 50
`
