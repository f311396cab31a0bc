package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	// Default values for gRPC configuration
	DefaultMaxSendMsgSize        = 4 * 1024 * 1024  // 4 MB
	DefaultMaxRecvMsgSize        = 15 * 1024 * 1024 // 15 MB
	DefaultMaxConnectionIdle     = 30 * time.Minute
	DefaultMaxConnectionAge      = time.Hour
	DefaultMaxConnectionAgeGrace = 5 * time.Minute
	DefaultKeepAlive             = 2 * time.Minute
	DefaultKeepAliveTimeout      = 20 * time.Second
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"
)

// startGRPCReceiver serves OTLP/gRPC on lis until ctx is cancelled.
func startGRPCReceiver(ctx context.Context, log *logrus.Logger, lis net.Listener, ts *TraceServer) {
	srv := grpc.NewServer(
		grpc.MaxSendMsgSize(DefaultMaxSendMsgSize),
		grpc.MaxRecvMsgSize(DefaultMaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     DefaultMaxConnectionIdle,
			MaxConnectionAge:      DefaultMaxConnectionAge,
			MaxConnectionAgeGrace: DefaultMaxConnectionAgeGrace,
			Time:                  DefaultKeepAlive,
			Timeout:               DefaultKeepAliveTimeout,
		}),
	)
	collectortrace.RegisterTraceServiceServer(srv, ts)

	go func() {
		log.Infof("gRPC server listening on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		log.Info("stopping gRPC server")
		srv.GracefulStop()
	}()
}

// startHTTPReceiver serves OTLP/HTTP on lis until ctx is cancelled.
func startHTTPReceiver(ctx context.Context, log *logrus.Logger, lis net.Listener, ts *TraceServer) {
	server := &http.Server{Handler: newHTTPHandler(log, ts)}

	go func() {
		log.Infof("HTTP server listening on %s", lis.Addr())
		if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		log.Info("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("error during server shutdown: %v", err)
		}
	}()
}

func newHTTPHandler(log *logrus.Logger, ts *TraceServer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/traces", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "failed to decompress gzip data: "+err.Error(), http.StatusBadRequest)
				return
			}
			defer gz.Close()
			reader = gz
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			http.Error(w, "error reading request body", http.StatusBadRequest)
			return
		}

		var req collectortrace.ExportTraceServiceRequest
		contentType := r.Header.Get("Content-Type")
		if contentType == contentTypeJSON {
			err = protojson.Unmarshal(body, &req)
		} else {
			// protobuf is the OTLP default
			contentType = contentTypeProtobuf
			err = proto.Unmarshal(body, &req)
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s payload: %v", contentType, err), http.StatusBadRequest)
			return
		}

		n := ts.Process(&req)
		log.Debugf("received %d new spans on /v1/traces", n)

		resp := &collectortrace.ExportTraceServiceResponse{}
		var out []byte
		if contentType == contentTypeJSON {
			out, err = protojson.Marshal(resp)
		} else {
			out, err = proto.Marshal(resp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(out)
	})
	return mux
}
