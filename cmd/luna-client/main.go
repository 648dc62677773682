// Command luna-client sends absolutely-scheduled, kernel-timestamped
// datagrams to a luna-server and reports accepted echoes and
// shutdown diagnostics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	luna "github.com/airtower-luna/luna-go"
	"github.com/airtower-luna/luna-go/internal/generator"
	"github.com/airtower-luna/luna-go/internal/lunametrics"
)

var (
	server       string
	echo         bool
	bufferSize   int
	generatorArg string
	genOptions   []string
	metricsAddr  string
	verbose      bool
)

func parseOptions(raw []string) (map[string]string, error) {
	opts := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -O value %q, want KEY=VALUE", kv)
		}
		opts[key] = value
	}
	return opts, nil
}

func variantByName(name string) (generator.Variant, error) {
	switch name {
	case "default":
		return generator.Default, nil
	case "vary":
		return generator.Vary, nil
	case "rapid":
		return generator.Rapid, nil
	case "large":
		return generator.Large, nil
	default:
		return 0, fmt.Errorf("unknown generator %q", name)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	opts, err := parseOptions(genOptions)
	if err != nil {
		return err
	}
	variant, err := variantByName(generatorArg)
	if err != nil {
		return err
	}

	var metrics *lunametrics.Metrics
	if metricsAddr != "" {
		metrics = lunametrics.New()
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	clientOpts := []luna.ClientOption{}
	if echo {
		clientOpts = append(clientOpts, luna.WithEcho())
	}
	if metrics != nil {
		clientOpts = append(clientOpts, luna.WithClientMetrics(metrics))
	}

	client, err := luna.NewClient(server, bufferSize, clientOpts...)
	if err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	packets, err := generator.Run(ctx, variant, opts)
	if err != nil {
		return err
	}

	echoCount := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rec := range client.Echoes() {
			echoCount++
			log.Infof(color.GreenString("echo seq=%d from %s rtt recorded", rec.Sequence, rec.Source))
		}
	}()

feed:
	for {
		select {
		case pkt, ok := <-packets:
			if !ok {
				break feed
			}
			if err := client.Put(pkt.Delay, pkt.Size); err != nil {
				log.Errorf("put failed: %v", err)
				break feed
			}
		case <-ctx.Done():
			break feed
		}
	}

	if err := client.Close(); err != nil {
		log.Warnf("close: %v", err)
	}
	runErr := client.Join()
	<-done

	major, minor := client.PageFaults()
	fmt.Fprintf(os.Stderr, color.BlueString("echoes accepted: %d\n", echoCount))
	fmt.Fprintf(os.Stderr, "page faults: major=%d minor=%d\n", major, minor)
	return runErr
}

func main() {
	root := &cobra.Command{
		Use:          "luna-client",
		Short:        "Send absolutely-scheduled, timestamped datagrams for latency measurement",
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().StringVar(&server, "server", "localhost:7800", "server address, HOST:PORT")
	root.Flags().BoolVar(&echo, "echo", false, "request the server echo packets back")
	root.Flags().IntVar(&bufferSize, "buffer-size", 1500, "send buffer size in bytes")
	root.Flags().StringVar(&generatorArg, "generator", "default", "generator variant: default, vary, rapid, large")
	root.Flags().StringArrayVarP(&genOptions, "option", "O", nil, "generator option as KEY=VALUE, may be repeated")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address, disabled if empty")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
