package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goware/urlx"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

var ResourceLibrary = "llmloadgen"
var ResourceVersion = "dev"

type Options struct {
	Load struct {
		TotalRequests  int           `long:"totalrequests" description:"total number of requests before quitting" default:"100"`
		RequestsPerDay int           `long:"requestsperday" description:"target number of requests per day; reported, not enforced" default:"100000"`
		Threads        int           `long:"threads" description:"number of concurrent workers (0 means one per CPU)" default:"0"`
		FlushInterval  int           `long:"flushinterval" description:"each worker flushes the sink every N requests" default:"100"`
		FlushTimeout   time.Duration `long:"flushtimeout" description:"maximum time a single flush may take (0 means no limit)" default:"0s" yaml:",omitempty"`
	} `group:"Load Options"`
	Format struct {
		TokensPerRequest int     `long:"tokensperrequest" description:"target number of tokens per request" default:"1000"`
		Jitter           float64 `long:"jitter" description:"jitter in the number of tokens per request, as a fraction" default:"0.1"`
		SpansPerRequest  int     `long:"spansperrequest" description:"number of spans in each trace, including the llm span" default:"3"`
		SamplingRate     float64 `long:"samplingrate" description:"probability of each sampled score and its tag" default:"0.1"`
		Model            string  `long:"model" description:"model name reported on llm spans and used to pick the encoding" default:"gpt-3.5-turbo"`
		Tokenizer        string  `long:"tokenizer" description:"how text is counted in tokens" choice:"tiktoken" choice:"words" default:"tiktoken"`
	} `group:"Trace Format Options"`
	Telemetry struct {
		Host     string `long:"host" description:"the url of the host to receive the telemetry (or honeycomb, dogfood, local)" default:"honeycomb"`
		Insecure bool   `long:"insecure" description:"use this for insecure http (not https) connections" yaml:",omitempty"`
		Project  string `long:"project" description:"project name; the dataset or service name traces are logged under" env:"LLMLOADGEN_PROJECT" default:"load-test"`
		APIKey   string `long:"apikey" description:"the honeycomb API key(*)" env:"HONEYCOMB_API_KEY" yaml:"-"`
	} `group:"Telemetry Options"`
	Output struct {
		Sender             string        `long:"sender" description:"type of sender" choice:"otel" choice:"honeycomb" choice:"sqlite" choice:"print" choice:"dummy" default:"otel"`
		Protocol           string        `long:"protocol" description:"for otel only, protocol to use" choice:"grpc" choice:"http" choice:"stdout" default:"grpc"`
		DBPath             string        `long:"dbpath" description:"for sqlite only, path of the database file" default:"llmloadgen.db"`
		MaxQueueSize       int           `long:"maxqueuesize" description:"for otel only, maximum number of spans to queue before blocking" default:"0" yaml:",omitempty"`
		MaxExportBatchSize int           `long:"maxexportbatchsize" description:"for otel only, maximum number of spans to export at once" default:"0" yaml:",omitempty"`
		BatchTimeout       time.Duration `long:"batchtimeout" description:"for otel only, maximum time to wait before sending a batch" default:"0s" yaml:",omitempty"`
		ExportTimeout      time.Duration `long:"exporttimeout" description:"for otel only, maximum time to wait for a batch to be sent" default:"0s" yaml:",omitempty"`
	} `group:"Output Options"`
	Global struct {
		LogLevel       string        `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"warn"`
		DebugPort      int           `long:"debugport" description:"port to listen on for pprof and /metrics(*)" default:"-1" yaml:"-"`
		Seed           int64         `long:"seed" description:"random seed; the same seed and thread count produce the same requests" default:"42"`
		ReportInterval time.Duration `long:"reportinterval" description:"how often the overall request rate is printed" default:"2s"`
		Config         string        `long:"config" description:"name of config file to load(*)" default:"" yaml:"-"`
		WriteCfg       string        `long:"writecfg" description:"write effective YAML config to the specified output file and quit(*)" default:"" yaml:"-"`
	} `group:"Global Options"`
	apihost *url.URL
}

func newOptions() *Options {
	return &Options{}
}

func (o *Options) CopyStarredFieldsFrom(other *Options) {
	o.Telemetry.APIKey = other.Telemetry.APIKey
	o.Global.DebugPort = other.Global.DebugPort
	o.Global.Config = other.Global.Config
	o.Global.WriteCfg = other.Global.WriteCfg
}

func (o *Options) DebugLevel() int {
	switch o.Global.LogLevel {
	case "debug":
		return 3
	case "info":
		return 2
	case "warn":
		return 1
	case "error":
		return 0
	default:
		return 0
	}
}

// parses the host information and returns a cleaned-up version to make
// it easier to make sure that things are properly specified
func parseHost(host string, insecure bool, protocol string) (*url.URL, error) {
	switch host {
	case "honeycomb":
		host = "https://api.honeycomb.io:443"
	case "dogfood":
		host = "https://api-dogfood.honeycomb.io:443"
	case "local":
		host = "http://localhost:4317"
		if protocol == "http" {
			host = "http://localhost:4318"
		}
	default:
	}

	// if the scheme is not specified, fall back to the value of the insecure flag
	defaultScheme := "https"
	if insecure {
		defaultScheme = "http"
	}
	u, err := urlx.ParseWithDefaultScheme(host, defaultScheme)
	if err != nil {
		return nil, fmt.Errorf("unable to parse host %q: %w", host, err)
	}
	if u.Port() == "" {
		port := 4317 // default GRPC port
		if protocol == "http" {
			port = 4318
		}
		u.Host = fmt.Sprintf("%s:%d", u.Host, port)
	}
	return u, nil
}

func ReadConfig(opts *Options, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	err = dec.Decode(opts)
	if err != nil {
		return err
	}
	log.Printf("read config from %s\n", filename)
	return nil
}

func WriteConfig(opts *Options, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := yaml.NewEncoder(f)
	err = enc.Encode(opts)
	if err != nil {
		return err
	}
	log.Printf("wrote config to %s\n", filename)
	return nil
}

// closeSink closes the sink and logs any error it reports.
func closeSink(log Logger, sink Sink) error {
	err := sink.Close()
	if err != nil {
		log.Error("closing sink: %v\n", err)
	}
	return err
}

func main() {
	cmdopts := newOptions()

	parser := flags.NewParser(cmdopts, flags.Default)
	parser.Usage = `[OPTIONS]

	llmloadgen generates synthetic LLM application traces for load testing a
	tracing backend. Every request is a chain of function spans ending in one llm
	span that carries the prompt, the completion, and their token counts. Requests
	are backdated across the last 30 days, so a run looks like historical traffic.

	A fixed number of workers (--threads) each log their share of --totalrequests
	and flush the sink every --flushinterval requests, printing a progress line
	after each flush. A reporter prints the overall request rate every
	--reportinterval.

	Traces can be sent over OTLP (grpc or http) to Honeycomb or any OTel
	collector, as Honeycomb events, into a local SQLite file, or printed.

	Options can be set in a config file, or on the command line; to specify them in the
	config file, specify it on the command line with "--config=FILENAME". The config file
	format is YAML; use --writecfg to get a starting point.

	Note: If a config file is used, it MUST be used for all options, except for the ones
	marked in the help text with (*) -- these fields CANNOT be set in the config file.
	`

	// read the command line and envvars into cmdargs
	args, err := parser.Parse()
	if err != nil {
		switch flagsErr := err.(type) {
		case *flags.Error:
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		log.Fatalf("error reading command line: %v", err)
	}
	if len(args) > 0 {
		log.Fatalf("unexpected arguments: %v", args)
	}

	opts := newOptions()
	if cmdopts.Global.Config != "" {
		if err := ReadConfig(opts, cmdopts.Global.Config); err != nil {
			log.Fatalf("err %v -- unable to read config file %s", err, cmdopts.Global.Config)
		}
		opts.CopyStarredFieldsFrom(cmdopts)
	} else {
		opts = cmdopts // we don't have to read from a file
	}

	if opts.Global.WriteCfg != "" {
		err := WriteConfig(opts, opts.Global.WriteCfg)
		if err != nil {
			log.Fatalf("unable to write config: %s\n", err)
		}
		os.Exit(0)
	}

	log := NewLogger(opts.DebugLevel())

	opts.apihost, err = parseHost(opts.Telemetry.Host, opts.Telemetry.Insecure, opts.Output.Protocol)
	if err != nil {
		log.Fatal("%v\n", err)
	}
	log.Info("host: %s, project: %s, apikey: ...%4.4s\n", opts.apihost.String(), opts.Telemetry.Project, opts.Telemetry.APIKey)

	cfg, err := NewRunConfig(opts)
	if err != nil {
		log.Fatal("%v\n", err)
	}

	metrics := NewMetrics(nil)
	if opts.Global.DebugPort > 0 {
		serveDebug(log, opts.Global.DebugPort, metrics)
	}

	tok, err := NewTokenizer(cfg.Tokenizer, cfg.Model)
	if err != nil {
		log.Fatal("%v\n", err)
	}

	// ctrl-c stops the workers after their current request
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := NewSink(ctx, log, opts)
	if err != nil {
		log.Fatal("unable to initialize sink: %v\n", err)
	}

	coord, err := NewCoordinator(cfg, tok, metrics, log)
	if err != nil {
		closeSink(log, sink)
		log.Fatal("%v\n", err)
	}

	summary, err := coord.Run(ctx, sink)
	if cerr := closeSink(log, sink); cerr != nil && err == nil {
		err = cerr
	}
	if ctx.Err() != nil {
		log.Warn("shut down from operating system signal after %d requests\n", summary.Requests)
	}
	if err != nil {
		log.Error("run failed after %d requests: %v\n", summary.Requests, err)
		stop()
		os.Exit(1)
	}
	log.Info("logged %d requests in %v\n", summary.Requests, summary.Duration)
}
