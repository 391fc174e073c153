package main

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/Zereker/xorsock"
	"github.com/Zereker/xorsock/internal/config"
	"github.com/Zereker/xorsock/internal/console"
	"github.com/Zereker/xorsock/internal/observability"
)

// session is one client invocation.
type session struct {
	cfg     config.ClientConfig
	address string
	message string

	in     io.Reader
	out    io.Writer
	logOut io.Writer
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func run(ctx context.Context, s session) error {
	logger := observability.InitLoggerTo(s.logOut, "xorsock-client", s.cfg.LogLevel)
	printer := console.New(s.out)

	opts := []xorsock.Option{
		xorsock.KeyOption(s.cfg.Key),
		xorsock.MaxFrameSizeOption(s.cfg.MaxFrameSize),
		xorsock.IdleTimeoutOption(s.cfg.IOTimeout),
		xorsock.LoggerOption(observability.NewAdapter(logger)),
		// Printed once the message is on the wire, before any acknowledgment.
		xorsock.OnMessageOption(func(m xorsock.Message) error {
			printer.Sent(m.Text(), m.Length())
			return nil
		}),
	}

	dialCtx := ctx
	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	client, err := xorsock.Dial(dialCtx, s.address, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.message != "" {
		ack, err := client.SendAndAwaitAck(s.message)
		if err != nil {
			return err
		}
		printer.Ack(ack)
		return nil
	}

	printer.Banner("connected to "+s.address, "type a message and press Enter; an empty line quits")
	err = client.Interactive(s.in, printer.Prompt, func(_, ack string) {
		printer.Ack(ack)
	})
	return err
}
