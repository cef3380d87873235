package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nbng/pkg/bridge"
	"nbng/pkg/codec"
	"nbng/pkg/session"
	"nbng/pkg/transport"
)

var (
	listenProtocol string
	listenRecvMS   uint32
	listenCount    int
	listenPayload  payloadFlags
)

var listenCmd = &cobra.Command{
	Use:   "listen <url>",
	Short: "Dial an endpoint and print every message received",
	Example: `  nbng-ctl listen tcp://127.0.0.1:5556 --protocol sub
  nbng-ctl listen tcp://127.0.0.1:5557 --protocol pull --count 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := transport.ParseProtocol(listenProtocol)
		if err != nil {
			return err
		}
		c, err := listenPayload.codec()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := session.Open(p, args[0], session.Options{RecvTimeout: session.TimeoutMS(&listenRecvMS)})
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		seen := 0
		emit := func(text string) {
			fmt.Fprintln(out, text)
			seen++
			if listenCount > 0 && seen >= listenCount {
				cancel()
			}
		}

		cb := func(r bridge.Result) {
			if !r.OK() {
				fmt.Fprintln(errOut, "receive:", r.Err)
				return
			}
			emit(listenPayload.renderRaw(r.Payload))
		}
		if c != nil {
			cb = codec.Decode(c, func(v any, err error) {
				if err != nil {
					fmt.Fprintln(errOut, "receive:", err)
					return
				}
				text, err := show(v)
				if err != nil {
					fmt.Fprintln(errOut, "render:", err)
					return
				}
				emit(text)
			})
		}
		sub, err := s.Receive(ctx, cb)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
		case <-sub.Done():
		}
		_ = sub.Dispose()
		return sub.Err()
	},
}

func init() {
	f := listenCmd.Flags()
	f.StringVarP(&listenProtocol, "protocol", "p", "sub", "socket protocol")
	f.Uint32Var(&listenRecvMS, "recv-timeout", 500, "receive timeout in ms; bounds how quickly Ctrl+C takes effect")
	f.IntVarP(&listenCount, "count", "c", 0, "exit after this many messages, 0 for no limit")
	f.BoolVar(&listenPayload.hex, "hex", false, "print payloads hex encoded")
	f.StringVar(&listenPayload.format, "format", "raw", "payload format: raw, json, cbor, proto")
}
