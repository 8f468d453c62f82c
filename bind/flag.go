// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"net/url"
	"strings"

	"github.com/mmatczuk/anyflag"
	"github.com/saucelabs/headless"
	"github.com/saucelabs/headless/header"
	"github.com/saucelabs/headless/httplog"
	"github.com/saucelabs/headless/limiter"
	"github.com/saucelabs/headless/log"
	"github.com/saucelabs/headless/retry"
	"github.com/saucelabs/headless/ruleset"
	"github.com/saucelabs/headless/session"
	"github.com/saucelabs/headless/upstream"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigFile(fs *pflag.FlagSet, configFile *string) {
	fs.StringVarP(configFile,
		"config-file", "c", *configFile, "<path>"+
			"Configuration file to load options from. "+
			"The supported formats are: JSON, YAML, TOML, HCL, and Java properties. "+
			"The file format is determined by the file extension, if not specified the default format is YAML. "+
			"The following precedence order of configuration sources is used: command flags, environment variables, config file, default values. ")
}

func ProxyConfig(fs *pflag.FlagSet, cfg *headless.ProxyConfig) {
	fs.StringVarP(&cfg.Addr,
		"address", "a", cfg.Addr, "<host:port>"+
			"The proxy address to listen on. "+
			"If the host is empty, the proxy will listen on all available interfaces. ")

	fs.DurationVar(&cfg.ReadHeaderTimeout,
		"read-header-timeout", cfg.ReadHeaderTimeout,
		"The amount of time allowed to read request headers. ")

	fs.DurationVar(&cfg.IdleTimeout,
		"idle-timeout", cfg.IdleTimeout,
		"The maximum amount of time to wait for the next request on a keep-alive client connection. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.WriteTimeout,
		"write-timeout", cfg.WriteTimeout,
		"The maximum duration before timing out writes of a response to the client. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.TunnelIdleTimeout,
		"tunnel-idle-timeout", cfg.TunnelIdleTimeout,
		"Close a CONNECT tunnel if no bytes were transferred in either direction for this long. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.TunnelGracePeriod,
		"tunnel-grace-period", cfg.TunnelGracePeriod,
		"The time the remaining direction of a CONNECT tunnel is given after the other direction finished. ")

	fs.IntVar(&cfg.MaxHeaderBytes,
		"max-header-bytes", cfg.MaxHeaderBytes,
		"The maximum size of a request head in bytes, larger requests are rejected with status 431. ")

	fs.Int64Var(&cfg.ReadLimit,
		"read-limit", cfg.ReadLimit, "<bytes/s>"+
			"Global read rate limit in bytes per second i.e. how many bytes per second clients can receive. "+
			"Zero means no limit. ")

	fs.Int64Var(&cfg.WriteLimit,
		"write-limit", cfg.WriteLimit, "<bytes/s>"+
			"Global write rate limit in bytes per second i.e. how many bytes per second clients can send. "+
			"Zero means no limit. ")
}

func DirectAccess(fs *pflag.FlagSet, rules *[]ruleset.RegexpListItem) {
	fs.VarP(anyflag.NewSliceValue[ruleset.RegexpListItem](*rules, rules, ruleset.ParseRegexpListItem),
		"direct-access", "d", "<regexp>"+
			"Requests matching the regular expression are sent directly to the destination, bypassing the upstream. "+
			"The regular expression is matched against host/path, for CONNECT requests against host:port. "+
			"Prefix the expression with '-' to exclude requests from direct access. "+
			"The flag can be specified multiple times. "+
			"Example: -d '^localhost' -d '^127\\.0\\.0\\.1' -d '-^localhost:9090'. ")
}

func Headers(fs *pflag.FlagSet, headers *[]header.Header) {
	fs.VarP(anyflag.NewSliceValueWithRedact[header.Header](*headers, headers, header.ParseHeader, RedactHeader),
		"header", "H", "<header>"+
			"Set an upstream X-Header or modify client request headers. "+
			"Use the format \"name: value\" to set an upstream header, short names like \"profile\" are expanded to \"X-Crawlera-Profile\". "+
			"Use \"name;\" to set a client header to empty value, "+
			"\"-name\" to remove a client header, "+
			"\"-name*\" to remove client headers by prefix. "+
			"The flag can be specified multiple times. "+
			"Example: -H \"profile: desktop\" -H \"cookies: disable\" -H \"-X-Forwarded-*\". ")
}

func UpstreamConfig(fs *pflag.FlagSet, cfg *upstream.Config) {
	fs.VarP(anyflag.NewValueWithRedact[*url.URL](cfg.ProxyURL, &cfg.ProxyURL, headless.ParseProxyURL, RedactURL),
		"proxy", "x", "[protocol://]host:port"+
			"The smart proxy endpoint. "+
			"The supported protocols are: http, https. "+
			"No protocol specified will be treated as HTTP. ")

	fs.VarP(anyflag.NewValueWithRedact[string](cfg.APIKey, &cfg.APIKey, parseString, RedactSecret),
		"api-key", "k", "<key>"+
			"The smart proxy API key. ")

	authModes := []upstream.AuthMode{
		upstream.HeaderAuth,
		upstream.URLAuth,
	}
	fs.Var(anyflag.NewValue[upstream.AuthMode](cfg.AuthMode, &cfg.AuthMode, anyflag.EnumParser[upstream.AuthMode](authModes...)),
		"auth-mode", "<header|url>"+
			"How the API key is sent to the upstream. "+
			"Setting this to header sends the Proxy-Authorization header. "+
			"Setting this to url adds the key to the proxy URL. ")

	fs.Var(anyflag.NewValueWithRedact[*url.URL](cfg.APIURL, &cfg.APIURL, url.Parse, RedactURL),
		"session-api-url", "<url>"+
			"Base URL of the session management API. "+
			"By default the proxy host is used over http. ")

	fs.BoolVar(&cfg.InsecureSkipVerify,
		"insecure", cfg.InsecureSkipVerify,
		"Don't verify the certificate of an https upstream. ")

	fs.DurationVar(&cfg.DialTimeout,
		"upstream-dial-timeout", cfg.DialTimeout,
		"The maximum amount of time a dial to the upstream will wait for a connect to complete. ")

	fs.DurationVar(&cfg.ConnectTimeout,
		"upstream-connect-timeout", cfg.ConnectTimeout,
		"The maximum amount of time to establish a CONNECT tunnel through the upstream. ")

	fs.DurationVar(&cfg.ResponseHeaderTimeout,
		"upstream-response-header-timeout", cfg.ResponseHeaderTimeout,
		"The amount of time to wait for the upstream response headers after fully writing the request. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.IdleConnTimeout,
		"upstream-idle-conn-timeout", cfg.IdleConnTimeout,
		"The maximum amount of time an idle upstream connection will remain idle before closing itself. ")

	fs.IntVar(&cfg.MaxIdleConnsPerHost,
		"upstream-max-idle-conns", cfg.MaxIdleConnsPerHost,
		"The maximum number of idle keep-alive connections to the upstream. ")
}

func SessionConfig(fs *pflag.FlagSet, enabled *bool, cfg *session.Config) {
	fs.BoolVar(enabled,
		"sessions", *enabled,
		"Keep a sticky upstream session per client. "+
			"A client is identified by its IP address and User-Agent. ")

	affinities := []session.Affinity{
		session.SharedAffinity,
		session.ExclusiveAffinity,
	}
	fs.Var(anyflag.NewValue[session.Affinity](cfg.Affinity, &cfg.Affinity, anyflag.EnumParser[session.Affinity](affinities...)),
		"session-affinity", "<shared|exclusive>"+
			"Setting this to shared reuses one session for all concurrent requests of a client. "+
			"Setting this to exclusive leases a session to one request or tunnel at a time. ")

	sources := []session.IDSource{
		session.UpstreamIDSource,
		session.LocalIDSource,
	}
	fs.Var(anyflag.NewValue[session.IDSource](cfg.IDSource, &cfg.IDSource, anyflag.EnumParser[session.IDSource](sources...)),
		"session-id-source", "<upstream|local>"+
			"Setting this to upstream asks the upstream to create sessions. "+
			"Setting this to local generates session IDs locally. ")

	fs.DurationVar(&cfg.IdleTimeout,
		"session-idle-timeout", cfg.IdleTimeout,
		"Evict a session that was not used for this long. ")

	fs.DurationVar(&cfg.CreateTimeout,
		"session-create-timeout", cfg.CreateTimeout,
		"The maximum amount of time requests wait for a session being created by another request. ")

	fs.IntVar(&cfg.MaxFailures,
		"session-max-failures", cfg.MaxFailures,
		"Invalidate a session after this many consecutive failed requests. ")
}

func LimiterConfig(fs *pflag.FlagSet, cfg *limiter.Config) {
	fs.IntVar(&cfg.Capacity,
		"concurrency", cfg.Capacity,
		"The maximum number of requests and tunnels served through the upstream at the same time. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.MaxWait,
		"concurrency-max-wait", cfg.MaxWait,
		"The maximum amount of time a request waits for a free slot before it is rejected with status 503. ")
}

func RetryPolicy(fs *pflag.FlagSet, p *retry.Policy) {
	fs.IntVar(&p.MaxAttempts,
		"retry-max-attempts", p.MaxAttempts,
		"The number of attempts of an idempotent request including the first one. "+
			"Set to 1 to disable retries. ")

	fs.DurationVar(&p.InitialBackoff,
		"retry-initial-backoff", p.InitialBackoff,
		"The delay before the first retry. ")

	fs.Float64Var(&p.Multiplier,
		"retry-multiplier", p.Multiplier,
		"The growth factor of consecutive retry delays. ")

	fs.DurationVar(&p.Budget,
		"retry-budget", p.Budget,
		"The maximum amount of time spent on a request including retries. "+
			"Zero means no limit. ")
}

func HTTPServerConfig(fs *pflag.FlagSet, cfg *headless.HTTPServerConfig, prefix string) {
	namePrefix := prefix
	if namePrefix != "" {
		namePrefix += "-"
	}

	fs.StringVarP(&cfg.Addr,
		namePrefix+"address", "", cfg.Addr, "<host:port>"+
			"The server address to listen on. "+
			"If empty, the server is disabled. ")

	fs.DurationVar(&cfg.ReadHeaderTimeout,
		namePrefix+"read-header-timeout", cfg.ReadHeaderTimeout,
		"The amount of time allowed to read request headers. ")

	fs.DurationVar(&cfg.ShutdownTimeout,
		namePrefix+"shutdown-timeout", cfg.ShutdownTimeout,
		"The maximum amount of time to wait for the server to drain connections before closing. ")
}

func PromNamespace(fs *pflag.FlagSet, ns *string) {
	fs.StringVar(ns,
		"prom-namespace", *ns, "<namespace>"+
			"Prometheus namespace to use for metrics. ")
}

func LogConfig(fs *pflag.FlagSet, cfg *log.Config) {
	fs.Var(NewFileFlag(&cfg.File, headless.OpenFileParser(log.DefaultFileFlags, log.DefaultFileMode, log.DefaultDirMode)),
		"log-file", "<path>"+
			"Path to the log file, if empty, logs to stdout. "+
			"The file is reopened on SIGHUP to allow log rotation using external tools. ")

	logLevel := []log.Level{
		log.ErrorLevel,
		log.WarnLevel,
		log.InfoLevel,
		log.DebugLevel,
	}
	fs.Var(anyflag.NewValue[log.Level](cfg.Level, &cfg.Level, anyflag.EnumParser[log.Level](logLevel...)),
		"log-level", "<error|warn|info|debug>"+
			"Log level. ")

	logFormat := []log.Format{
		log.TextFormat,
		log.JSONFormat,
	}
	fs.Var(anyflag.NewValue[log.Format](cfg.Format, &cfg.Format, anyflag.EnumParser[log.Format](logFormat...)),
		"log-format", "<text|json>"+
			"Log format. ")
}

func HTTPLogConfig(fs *pflag.FlagSet, mode *httplog.Mode) {
	fs.Var(anyflag.NewValue[httplog.Mode](*mode, mode, anyflag.EnumParser[httplog.Mode](httplog.Modes()...)),
		"log-http", "<none|short-url|url|headers|errors>"+
			"HTTP request logging mode. "+
			"Setting this to none disables logging. "+
			"The short-url mode logs the method and the URL without the query string. "+
			"The url mode logs the full URL with credentials redacted. "+
			"The headers mode adds request and response headers, credentials and session IDs are redacted. "+
			"The errors mode logs the headers of requests that failed with status 5xx or without a response. "+
			"Every entry carries the status, the elapsed time and the number of upstream attempts. ")
}

func MarkFlagHidden(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.Flags().MarkHidden(name); err != nil {
			panic(err)
		}
	}
}

func AutoMarkFlagFilename(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Usage, "<path") || strings.HasSuffix(f.Name, "-file") {
			if err := cmd.MarkFlagFilename(f.Name); err != nil {
				panic(err)
			}
		}
	})
}

func parseString(val string) (string, error) {
	return val, nil
}
