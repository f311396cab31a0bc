package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// Options defines the command line arguments
type Options struct {
	Protocol       string        `long:"protocol" description:"OTLP transport to accept" choice:"grpc" choice:"http" default:"grpc"`
	Host           string        `long:"host" description:"interface to listen on" default:"localhost"`
	Port           int           `long:"port" description:"port to listen on (0 means 4317 for grpc, 4318 for http)" default:"0"`
	Capacity       uint          `long:"capacity" description:"number of distinct trace and span IDs the filters are sized for" default:"1000000"`
	ReportInterval time.Duration `long:"reportinterval" description:"how often to print span rates" default:"5s"`
	LogLevel       string        `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
}

func (o Options) listenAddr() string {
	port := o.Port
	if port == 0 {
		port = 4317
		if o.Protocol == "http" {
			port = 4318
		}
	}
	return net.JoinHostPort(o.Host, fmt.Sprint(port))
}

func report(log *logrus.Logger, ts *TraceServer, rates *SpanRateTracker) {
	r := rates.Summary()
	s := ts.Stats()
	log.Infof("Spans per second: %.2f (1s) | %.2f (10s) | %.2f (60s) | Total: %d spans, %d traces, %d llm spans, %d tokens",
		r.Rate1s, r.Rate10s, r.Rate60s, s.Spans, s.Traces, s.LLMSpans, s.Tokens)
}

func main() {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = `[OPTIONS]

	otlpsink is a local OTLP trace receiver for llmloadgen runs. It counts the
	distinct traces and spans it receives, the llm spans among them and the total
	tokens they report, and prints span rates while it runs.
	`
	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		logrus.Fatalf("error parsing flags: %v", err)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		log.Fatalf("bad log level: %v", err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rates := NewSpanRateTracker()
	ts := NewTraceServer(opts.Capacity, rates)

	addr := opts.listenAddr()
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", addr, err)
	}
	switch opts.Protocol {
	case "grpc":
		startGRPCReceiver(ctx, log, lis, ts)
	case "http":
		startHTTPReceiver(ctx, log, lis, ts)
	}

	ticker := time.NewTicker(opts.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			report(log, ts, rates)
		case <-ctx.Done():
			s := ts.Stats()
			fmt.Printf("\n%d traces, %d spans (%d llm, %d tokens) received this session\n",
				s.Traces, s.Spans, s.LLMSpans, s.Tokens)
			log.Info("shutting down gracefully")
			return
		}
	}
}
