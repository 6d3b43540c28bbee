package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/kbirk/ipclink/pkg/channel"
	"github.com/kbirk/ipclink/pkg/channel/nats"
	"github.com/kbirk/ipclink/pkg/channel/tcp"
	"github.com/kbirk/ipclink/pkg/channel/unix"
	"github.com/kbirk/ipclink/pkg/channel/websocket"
	"github.com/kbirk/ipclink/pkg/link"
	"github.com/kbirk/ipclink/pkg/log"
)

const (
	version = "0.0.1"
)

type options struct {
	transport string
	addr      string
	codec     string
	opType    string
	path      string
	input     string
	metadata  string
	timeout   time.Duration
	retries   uint64
	logLevel  string
	insecure  bool
	caFile    string
}

var (
	red     = color.New(color.FgRed, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan    = color.New(color.FgCyan, color.Bold).SprintFunc()
	magenta = color.New(color.FgMagenta, color.Bold).SprintFunc()
)

func main() {
	opts := options{}

	flag.StringVar(&opts.transport, "transport", "ws", "Transport: ws, tcp, unix or nats")
	flag.StringVar(&opts.addr, "addr", "", "Host address, socket path or NATS url")
	flag.StringVar(&opts.codec, "codec", "json", "Envelope codec: json or binary")
	flag.StringVar(&opts.opType, "type", "query", "Operation type: query, mutation or subscription")
	flag.StringVar(&opts.path, "path", "", "Operation path")
	flag.StringVar(&opts.input, "input", "", "Operation input as JSON")
	flag.StringVar(&opts.metadata, "metadata", "", "Operation context as comma separated key=value pairs")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Give up after this long, 0 waits until interrupted")
	flag.Uint64Var(&opts.retries, "retries", channel.DefaultMaxRetries, "Connection attempts before giving up")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flag.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	flag.StringVar(&opts.caFile, "ca-file", "", "CA certificate enabling TLS for tcp and ws")
	showVersion := flag.Bool("version", false, "Print the version and exit")

	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version + "\n")
		return
	}

	if opts.addr == "" {
		os.Stderr.WriteString("No `--addr` argument provided, Set the host address with `--addr=\"<address>\"`\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		os.Stderr.WriteString(red("ERROR: ") + err.Error() + "\n")
		os.Exit(1)
	}
}

func parseMetadata(s string) (link.Metadata, error) {
	md := link.Metadata{}
	if s == "" {
		return md, nil
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata pair %q", pair)
		}
		md[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return md, nil
}

func parseInput(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	return json.RawMessage(s), nil
}

func newClientTransport(opts options) (channel.ClientTransport, func(), error) {
	switch opts.transport {
	case "ws", "websocket":
		conf := websocket.ClientTransportConfig{
			Address:          opts.addr,
			Text:             opts.codec != "binary",
			HandshakeTimeout: 10 * time.Second,
		}
		if opts.caFile != "" || opts.insecure {
			tlsConfig, err := tcp.LoadClientTLSConfig(opts.caFile, opts.insecure)
			if err != nil {
				return nil, nil, err
			}
			conf.TLSConfig = tlsConfig
		}
		return websocket.NewClientTransport(conf), func() {}, nil
	case "tcp":
		conf := tcp.ClientTransportConfig{
			Address: opts.addr,
			NoDelay: true,
		}
		if opts.caFile != "" || opts.insecure {
			tlsConfig, err := tcp.LoadClientTLSConfig(opts.caFile, opts.insecure)
			if err != nil {
				return nil, nil, err
			}
			conf.TLSConfig = tlsConfig
		}
		return tcp.NewClientTransport(conf), func() {}, nil
	case "unix":
		return unix.NewClientTransport(unix.ClientTransportConfig{
			SocketPath: opts.addr,
		}), func() {}, nil
	case "nats":
		t := nats.NewClientTransport(nats.ClientTransportConfig{
			URL: opts.addr,
		})
		return t, t.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", opts.transport)
}

func run(ctx context.Context, opts options, stdout io.Writer, stderr io.Writer) error {
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := log.NewConsoleLogger(stderr, level)

	opType := link.OperationType(opts.opType)
	if !opType.Valid() {
		return fmt.Errorf("unknown operation type %q", opts.opType)
	}

	input, err := parseInput(opts.input)
	if err != nil {
		return err
	}

	md, err := parseMetadata(opts.metadata)
	if err != nil {
		return err
	}

	codec, err := channel.CodecByName(opts.codec)
	if err != nil {
		return err
	}

	transport, closeTransport, err := newClientTransport(opts)
	if err != nil {
		return err
	}
	defer closeTransport()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	conn, err := channel.ConnectWithRetry(ctx, transport, channel.RetryConfig{
		MaxRetries: opts.retries,
		Logger:     logger.With("dial"),
	})
	if err != nil {
		return err
	}

	ch, err := channel.New(channel.Config{
		Connection: conn,
		Codec:      codec,
		Logger:     logger.With("channel"),
	})
	if err != nil {
		conn.Close()
		return err
	}
	defer ch.Close()

	linkConf := link.Config{
		Channel: ch,
		Logger:  logger.With("link"),
	}
	if len(md) > 0 {
		ctx = link.NewContextWithMetadata(ctx, md)
		linkConf.CreateContext = link.MetadataContextProvider
	}

	l, err := link.NewLink(linkConf)
	if err != nil {
		return err
	}

	client, err := link.NewClient(link.ClientConfig{
		Link:       l,
		Middleware: []link.Middleware{link.LoggingMiddleware(logger)},
	})
	if err != nil {
		return err
	}

	return execute(ctx, client, opType, opts.path, input, stdout)
}

func execute(ctx context.Context, client *link.Client, opType link.OperationType, path string, input any, stdout io.Writer) error {
	if opType != link.OperationSubscription {
		var out json.RawMessage
		var err error
		if opType == link.OperationMutation {
			err = client.Mutate(ctx, path, input, &out)
		} else {
			err = client.Query(ctx, path, input, &out)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s %s\n", cyan("[data]"), string(out))
		fmt.Fprintf(stdout, "%s %s\n", green("[complete]"), path)
		return nil
	}

	errCh := make(chan error, 1)
	var count atomic.Int64
	sub, err := client.Subscribe(ctx, path, input, link.ObserverFuncs{
		OnNext: func(value json.RawMessage) {
			count.Add(1)
			fmt.Fprintf(stdout, "%s %s\n", cyan("[data]"), string(value))
		},
		OnError: func(err error) {
			errCh <- err
		},
		OnComplete: func() {
			errCh <- nil
		},
	})
	if err != nil {
		return err
	}

	select {
	case err = <-errCh:
	case <-ctx.Done():
		sub.Unsubscribe()
	}
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		fmt.Fprintf(stdout, "%s %s after %d values\n", magenta("[stopped]"), path, count.Load())
	} else {
		fmt.Fprintf(stdout, "%s %s after %d values\n", green("[complete]"), path, count.Load())
	}
	return nil
}
