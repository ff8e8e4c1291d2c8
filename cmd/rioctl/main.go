// rioctl is an interactive console for a Russound controller.
//
// It opens one RIO connection and reads commands from a readline prompt:
//
//	rioctl --host 192.168.1.50 --watch 'C[1].Z[1]' --watch 'S[1]'
//	rio> get C[1].Z[1] volume
//	rio> event C[1].Z[1] KeyPress Volume 20
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-rio/internal/infrastructure/logging"
	rioclient "github.com/nerrad567/gray-logic-rio/internal/rio"
)

// options holds the parsed command line.
type options struct {
	host      string
	port      int
	timeout   time.Duration
	watch     []string
	reconnect bool
	logLevel  string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line.
func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("rioctl", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVarP(&opts.host, "host", "H", os.Getenv("GRAYLOGIC_RIO_HOST"), "controller address (env GRAYLOGIC_RIO_HOST)")
	fs.IntVarP(&opts.port, "port", "p", rioclient.DefaultPort, "controller RIO port")
	fs.DurationVarP(&opts.timeout, "timeout", "t", 5*time.Second, "per-command timeout")
	fs.StringArrayVarP(&opts.watch, "watch", "w", nil, "device to watch at startup, e.g. 'C[1].Z[1]' (repeatable)")
	fs.BoolVar(&opts.reconnect, "reconnect", true, "reconnect after the connection drops")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "client log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.host == "" {
		return opts, fmt.Errorf("--host is required")
	}
	if opts.port < 1 || opts.port > 65535 {
		return opts, fmt.Errorf("--port must be between 1 and 65535")
	}
	return opts, nil
}

// run connects to the controller and serves the prompt until quit or EOF.
func run(ctx context.Context, cancel context.CancelFunc, opts options) error {
	sh, err := newShell(opts.timeout)
	if err != nil {
		return err
	}
	defer sh.Close()

	log := logging.NewWithWriter(sh.Stderr(), config.LoggingConfig{
		Level:  opts.logLevel,
		Format: "text",
	}, "rioctl")

	client := rioclient.New(rioclient.Config{
		Host:      opts.host,
		Port:      opts.port,
		Reconnect: opts.reconnect,
	})
	client.SetLogger(log)
	defer client.Close()

	client.AddConnectionCallback(func(connected bool) {
		if connected {
			fmt.Fprintf(sh.Stdout(), "connected to %s (RIO %s)\n", client.Address(), client.Version())
		} else {
			fmt.Fprintf(sh.Stdout(), "connection to %s lost\n", client.Address())
		}
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	err = client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", client.Address(), err)
	}

	sh.bind(client)
	for _, id := range opts.watch {
		sh.exec(ctx, "watch "+id)
	}

	sh.Run(ctx, cancel)
	return nil
}
