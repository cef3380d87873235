package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nbng/pkg/codec"
	"nbng/pkg/session"
	"nbng/pkg/transport"
)

var (
	sendProtocol string
	sendURL      string
	sendData     string
	sendRecvMS   uint32
	sendSendMS   uint32
	sendRepeat   int
	sendRate     int
	sendPayload  payloadFlags
)

var sendCmd = &cobra.Command{
	Use:   "send <url>",
	Short: "Send one message and print the reply",
	Long: `Dial the endpoint, submit the payload and block for exactly one reply.
Fails with a receive timeout if no reply arrives within --recv-timeout.`,
	Example: `  nbng-ctl send tcp://127.0.0.1:5555 --data hello
  nbng-ctl send tcp://127.0.0.1:5555 --hex --data 0102
  nbng-ctl send ipc:///tmp/svc.ipc --format cbor --data '{"op":"ping"}'
  nbng-ctl send tcp://127.0.0.1:5555 --format proto --data '{"op":"ping"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			sendURL = args[0]
		}
		if sendURL == "" {
			return fmt.Errorf("an endpoint url is required")
		}
		p, err := transport.ParseProtocol(sendProtocol)
		if err != nil {
			return err
		}
		c, err := sendPayload.codec()
		if err != nil {
			return err
		}
		exchange, err := sendExchange(c, sendData)
		if err != nil {
			return err
		}

		s, err := session.Open(p, sendURL, session.Options{
			RecvTimeout: session.TimeoutMS(&sendRecvMS),
			SendTimeout: session.TimeoutMS(&sendSendMS),
			SendRate:    sendRate,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		for i := 0; i < max(sendRepeat, 1); i++ {
			start := time.Now()
			out, err := exchange(s)
			if err != nil {
				return err
			}
			zap.L().Debug("reply received", zap.Duration("rtt", time.Since(start)))
			fmt.Fprintln(cmd.OutOrStdout(), out)
		}
		return nil
	},
}

// sendExchange prepares one round trip. Structured formats go through
// codec.Call and print the decoded reply; raw payloads are sent as given.
func sendExchange(c codec.Codec, data string) (func(*session.Session) (string, error), error) {
	if c != nil {
		req, err := document(data)
		if err != nil {
			return nil, err
		}
		return func(s *session.Session) (string, error) {
			var reply any
			if err := codec.Call(s, c, req, &reply); err != nil {
				return "", err
			}
			return show(reply)
		}, nil
	}
	payload, err := sendPayload.raw(data)
	if err != nil {
		return nil, err
	}
	return func(s *session.Session) (string, error) {
		reply, err := s.Send(payload)
		if err != nil {
			return "", err
		}
		return sendPayload.renderRaw(reply), nil
	}, nil
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendProtocol, "protocol", "p", "req", "socket protocol")
	f.StringVar(&sendURL, "url", "", "endpoint url (alternative to the positional argument)")
	f.StringVarP(&sendData, "data", "d", "", "payload")
	f.Uint32Var(&sendRecvMS, "recv-timeout", 1000, "receive timeout in ms, 0 waits forever")
	f.Uint32Var(&sendSendMS, "send-timeout", 1000, "send timeout in ms, 0 waits forever")
	f.IntVarP(&sendRepeat, "repeat", "n", 1, "number of round trips")
	f.IntVar(&sendRate, "rate", 0, "max round trips per second, 0 for no limit")
	f.BoolVar(&sendPayload.hex, "hex", false, "payload and reply are hex encoded")
	f.StringVar(&sendPayload.format, "format", "raw", "payload format: raw, json, cbor, proto")
}
