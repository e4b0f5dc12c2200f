package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/photon"
	"github.com/alan-christopher/bb84chat/internal/config"
)

func newDemoCmd(cfg *config.Config, log *logrus.Logger) *cobra.Command {
	var (
		length  int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "demo [message]",
		Short: "Negotiate a key between two in-process peers and send one message",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := "Hello from Alice"
			if len(args) == 1 {
				msg = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := runDemo(ctx, *cfg, length, msg)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"length":      res.stats.Length,
				"sifted_bits": res.stats.SiftedBits,
				"key_bits":    res.stats.KeyBits,
				"sift_ratio":  res.stats.SiftRatio,
				"key_bias":    res.stats.KeyBias,
			}).Info("key negotiated")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent:     %q\n", msg)
			fmt.Fprintf(out, "cipher:   %s\n", truncate(res.cipher, 80))
			fmt.Fprintf(out, "received: %q\n", res.received)
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", 256, "Number of qubits to exchange.")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up on the exchange after this long.")
	return cmd
}

type demoResult struct {
	stats    bb84.Stats
	cipher   string
	received string
}

// runDemo runs both peers over an in-memory classical channel and a simulated
// quantum channel, then has the sender encrypt msg for the receiver.
func runDemo(ctx context.Context, cfg config.Config, length int, msg string) (demoResult, error) {
	src, err := cfg.Source()
	if err != nil {
		return demoResult{}, err
	}
	plain, err := bb84.PackText(msg)
	if err != nil {
		return demoResult{}, err
	}
	secretLen, err := bb84.SecretBytes(length, 0)
	if err != nil {
		return demoResult{}, err
	}
	secretBits, err := src.Bits(8 * secretLen)
	if err != nil {
		return demoResult{}, err
	}
	secret := secretBits.Data()

	sender, receiver := photon.NewSimulatedChannel(src, 1)
	l, r := net.Pipe()
	defer l.Close()
	defer r.Close()
	// net.Pipe ignores contexts, so closing it is how a deadline interrupts a
	// peer blocked on the classical channel.
	stop := context.AfterFunc(ctx, func() {
		l.Close()
		r.Close()
	})
	defer stop()
	alice, err := bb84.NewPeer(bb84.PeerOpts{
		Sender:           sender,
		ClassicalChannel: l,
		Rand:             src,
		Secret:           bytes.NewReader(secret),
		Length:           length,
	})
	if err != nil {
		return demoResult{}, err
	}
	bob, err := bb84.NewPeer(bb84.PeerOpts{
		Receiver:         receiver,
		ClassicalChannel: r,
		Rand:             src,
		Secret:           bytes.NewReader(secret),
		Length:           length,
	})
	if err != nil {
		return demoResult{}, err
	}

	type outcome struct {
		sess *bb84.Session
		err  error
	}
	bobDone := make(chan outcome, 1)
	go func() {
		sess, _, err := bob.NegotiateKey(ctx)
		if err != nil {
			r.Close()
		}
		bobDone <- outcome{sess, err}
	}()
	aSess, stats, err := alice.NegotiateKey(ctx)
	if err != nil {
		l.Close()
		<-bobDone
		return demoResult{}, fmt.Errorf("sender: %w", err)
	}
	b := <-bobDone
	if b.err != nil {
		aSess.Abort()
		return demoResult{}, fmt.Errorf("receiver: %w", b.err)
	}

	cipher, err := aSess.Encrypt(plain)
	if err != nil {
		b.sess.Abort()
		return demoResult{}, err
	}
	got, err := b.sess.Decrypt(cipher)
	if err != nil {
		return demoResult{}, err
	}
	return demoResult{
		stats:    stats,
		cipher:   strings.ReplaceAll(cipher.String(), " ", ""),
		received: bb84.UnpackText(got),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
