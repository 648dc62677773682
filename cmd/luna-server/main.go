// Command luna-server binds a datagram socket and publishes (and, on
// request, echoes) every received LUNA packet until signaled to stop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	luna "github.com/airtower-luna/luna-go"
	"github.com/airtower-luna/luna-go/internal/lunametrics"
)

var (
	bindAddr    string
	port        int
	bufferSize  int
	metricsAddr string
	verbose     bool
)

func run(cmd *cobra.Command, _ []string) error {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	addr := net.JoinHostPort(bindAddr, strconv.Itoa(port))

	var metrics *lunametrics.Metrics
	var serverOpts []luna.ServerOption
	if metricsAddr != "" {
		metrics = lunametrics.New()
		serverOpts = append(serverOpts, luna.WithServerMetrics(metrics))
	}

	srv, err := luna.NewServer(addr, bufferSize, serverOpts...)
	if err != nil {
		return err
	}
	if err := srv.Bind(); err != nil {
		return err
	}
	log.Infof("listening on %s", srv.Bound())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metrics != nil {
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, metricsAddr); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	if err := srv.Run(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := srv.Stop(); err != nil {
			log.Warnf("stop: %v", err)
		}
	}()

	go func() {
		for rec := range srv.Records() {
			log.Debugf("received seq=%d from %s size=%d", rec.Sequence, rec.Source, rec.Size)
		}
	}()

	runErr := srv.Join()
	major, minor := srv.PageFaults()
	fmt.Fprintf(os.Stderr, "page faults: major=%d minor=%d\n", major, minor)
	return runErr
}

func main() {
	root := &cobra.Command{
		Use:          "luna-server",
		Short:        "Receive and optionally echo LUNA latency-measurement datagrams",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&bindAddr, "bind", "::", "address to bind to")
	root.Flags().IntVar(&port, "port", 7800, "port to bind to")
	root.Flags().IntVar(&bufferSize, "buffer-size", 1500, "receive buffer size in bytes")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address, disabled if empty")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
