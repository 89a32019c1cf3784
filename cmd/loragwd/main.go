package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/handlers"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	grpc_middleware "github.com/mwitkow/go-grpc-middleware"
	grpc_opentracing "github.com/mwitkow/go-grpc-middleware/tracing/opentracing"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/loragw/forward"
	"github.com/akhenakh/loragw/gw"
	badgerstore "github.com/akhenakh/loragw/storage/badger"
	"github.com/akhenakh/loragw/web"
)

const appName = "loragwd"

var (
	version = "no version from LDFLAGS"

	logLevel = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")

	gwAddr = flag.String("gwAddr", ":1700", "UDP address listening for packet forwarders")
	dbPath = flag.String("dbPath", "lora.db", "DB path")

	natsURL = flag.String("natsURL", "", "NATS URL to forward frames to, disabled if empty")

	mqttBroker   = flag.String("mqttBroker", "", "MQTT broker to forward frames to eg tcp://localhost:1883, disabled if empty")
	mqttClientID = flag.String("mqttClientID", appName, "MQTT client ID")
	mqttUser     = flag.String("mqttUser", "", "MQTT username")
	mqttPassword = flag.String("mqttPassword", "", "MQTT password")
	mqttPrefix   = flag.String("mqttPrefix", "loragw", "MQTT topic prefix")
	mqttQoS      = flag.Int("mqttQoS", 0, "MQTT QoS 0, 1 or 2")

	httpMetricsPort = flag.Int("httpMetricsPort", 8888, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 9201, "http API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")

	httpServer        *http.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
)

func main() {
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = level.NewFilter(logger, levelOption(*logLevel))

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	// Badger
	opts := badger.DefaultOptions(*dbPath)
	opts.Logger = nil
	opts.TableLoadingMode = options.FileIO

	bdb, err := badger.Open(opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open DB", "error", err, "path", *dbPath)
		os.Exit(2)
	}
	defer bdb.Close()

	db := &badgerstore.Store{DB: bdb}

	// forwarders
	var fwds []forward.Forwarder
	if *natsURL != "" {
		nc, err := forward.ConnectNATS(*natsURL, appName)
		if err != nil {
			level.Error(logger).Log("msg", "can't connect to NATS", "error", err, "url", *natsURL)
			os.Exit(2)
		}
		defer nc.Close()
		fwds = append(fwds, forward.NewNATS(nc))
		level.Info(logger).Log("msg", "forwarding frames to NATS", "url", *natsURL)
	}

	if *mqttBroker != "" {
		if *mqttQoS < 0 || *mqttQoS > 2 {
			level.Error(logger).Log("msg", "invalid MQTT QoS", "qos", *mqttQoS)
			os.Exit(2)
		}
		mc, err := forward.ConnectMQTT(*mqttBroker, *mqttClientID, *mqttUser, *mqttPassword)
		if err != nil {
			level.Error(logger).Log("msg", "can't connect to MQTT", "error", err, "broker", *mqttBroker)
			os.Exit(2)
		}
		defer mc.Disconnect(250)
		fwds = append(fwds, forward.NewMQTT(mc, *mqttPrefix, byte(*mqttQoS)))
		level.Info(logger).Log("msg", "forwarding frames to MQTT", "broker", *mqttBroker)
	}

	// gRPC Health Server
	healthServer := health.NewServer()
	g.Go(func() error {
		grpcHealthServer = grpc.NewServer(
			grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
				grpc_opentracing.StreamServerInterceptor(),
				grpc_prometheus.StreamServerInterceptor,
			)),
			grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
				grpc_opentracing.UnaryServerInterceptor(),
				grpc_prometheus.UnaryServerInterceptor,
			)),
		)

		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
		grpc_prometheus.Register(grpcHealthServer)

		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server serving at %s", haddr))
		return grpcHealthServer.Serve(hln)
	})

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server serving at :%d", *httpMetricsPort))

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// web server
	g.Go(func() error {
		ws := web.NewServer(appName, logger, db)

		r := ws.Router()

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler: handlers.CompressHandler(
				handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(r),
			),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server serving at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// packet forwarders UDP server
	s := gw.NewServer(appName, logger, db, fwds...)
	if err := s.StartListener(ctx, *gwAddr); err != nil {
		level.Error(logger).Log("msg", "can't start gw listener", "error", err)
		os.Exit(2)
	}
	defer s.Close()

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_SERVING)

	select {
	case <-interrupt:
		cancel()
		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}

func levelOption(l string) level.Option {
	switch l {
	case "DEBUG":
		return level.AllowDebug()
	case "WARN":
		return level.AllowWarn()
	case "ERROR":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
