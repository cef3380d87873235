package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nbng/pkg/peer"
	"nbng/pkg/transport"
	"nbng/pkg/transport/sp"
)

var (
	serveProtocol string
	serveRate     float64
	serveRecvMS   uint32
)

var serveCmd = &cobra.Command{
	Use:   "serve <url>",
	Short: "Bind an endpoint and echo every request back",
	Example: `  nbng-ctl serve tcp://127.0.0.1:5555
  nbng-ctl serve tcp://127.0.0.1:5555 --protocol pair --rate 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := transport.ParseProtocol(serveProtocol)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := peer.Listen(sp.Open, p, args[0], transport.Options{
			RecvTimeout: time.Duration(serveRecvMS) * time.Millisecond,
		}, peer.Echo, peer.Options{Rate: serveRate})
		if err != nil {
			return err
		}
		return r.Serve(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveProtocol, "protocol", "p", "rep", "socket protocol")
	f.Float64Var(&serveRate, "rate", 0, "max replies per second, 0 for no limit")
	f.Uint32Var(&serveRecvMS, "recv-timeout", 0, "receive timeout in ms, 0 waits forever")
}
