package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	_ "github.com/mbobakov/grpc-consul-resolver"
	"github.com/namsral/flag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/balancer/roundrobin"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/loragw/rxpk"
)

const appName = "loragwcli"

var (
	healthURI = flag.String("healthURI", "localhost:6666", "loragwd grpc health URI, consul://127.0.0.1:8500/loragwd is supported")
	service   = flag.String("service", "grpc.health.v1.loragwd", "health service name to check")
	validate  = flag.String("validate", "", "rxpk JSON file to validate, - for stdin, if empty perform a health check")
)

func main() {
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "app", appName)

	if *validate != "" {
		if err := validateFile(*validate); err != nil {
			level.Error(logger).Log("msg", "invalid rxpk", "reason", rxpk.Reason(err), "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	conn, err := grpc.Dial(*healthURI,
		grpc.WithInsecure(),
		grpc.WithBalancerName(roundrobin.Name), //nolint:staticcheck
	)
	if err != nil {
		level.Error(logger).Log("msg", "can't dial", "error", err)
		os.Exit(2)
	}
	defer conn.Close()

	c := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		level.Error(logger).Log("msg", "health check failed", "error", err)
		os.Exit(2)
	}

	level.Info(logger).Log("msg", "health check ok", "service", *service, "status", resp.Status.String())
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

// validateFile decodes the rxpk in path and prints its canonical form
func validateFile(path string) error {
	var b []byte
	var err error
	if path == "-" {
		b, err = ioutil.ReadAll(os.Stdin)
	} else {
		b, err = ioutil.ReadFile(path)
	}
	if err != nil {
		return err
	}

	r, err := rxpk.DecodeJSON(b)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rxpk.Encode(r), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
