package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	"github.com/alan-christopher/bb84chat/bb84/photon"
)

var (
	inputs = []string{"length", "epsAuth", "seed"}
	// TODO: derive the columns from the Experiment type with reflection.
	columns = []string{"Length", "EpsAuth", "Seed", "SiftedBits", "KeyBits",
		"SiftRatio", "KeyBias", "AliceMessages", "BobMessages",
		"AliceClassicalBytes", "BobClassicalBytes", "Succeeded"}
)

// An Experiment packages together the result of benchmarking a single
// parameterization for easy formatting.
type Experiment struct {
	// Fields corresponding to experiment parameters
	Length  int
	EpsAuth float64
	Seed    int

	// Fields corresponding to experiment results
	SiftedBits          int
	KeyBits             int
	SiftRatio           float64
	KeyBias             float64
	AliceMessages       int
	BobMessages         int
	AliceClassicalBytes int
	BobClassicalBytes   int
	Succeeded           bool
}

// newBenchCmd runs a round of BB84 key negotiation for each entry in the
// cartesian product of its tuning parameters and writes a CSV line of
// statistics for each combination.
func newBenchCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Sweep exchange parameters and print CSV statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), cmd.Flags(), cmd.OutOrStdout(), log)
		},
	}
	fs := cmd.Flags()
	fs.IntSlice("length", []int{bb84.DefaultLength}, "The number of qubits to exchange per round.")
	fs.Float64Slice("epsAuth", []float64{bb84.DefaultEpsilon}, "The accepted probability of a forged classical message.")
	fs.IntSlice("seed", []int{42}, "Seeds for the reproducible entropy source.")
	return cmd
}

func runBench(ctx context.Context, fs *flag.FlagSet, out io.Writer, log *logrus.Logger) error {
	tmpl, err := template.New("line").Parse(lineTmpl())
	if err != nil {
		return fmt.Errorf("BUG: could not parse line template: %w", err)
	}
	var args [][]interface{}
	for _, inp := range inputs {
		vals, err := lookupInput(fs, inp)
		if err != nil {
			return err
		}
		args = append(args, vals)
	}
	fmt.Fprintln(out, header())
	var execErr error
	applyCartesian(func(args []interface{}) {
		if execErr != nil {
			return
		}
		exp := &Experiment{
			Length:  args[inpIndex("length")].(int),
			EpsAuth: args[inpIndex("epsAuth")].(float64),
			Seed:    args[inpIndex("seed")].(int),
		}
		if err := bench(ctx, exp); err != nil {
			log.WithError(err).WithField("experiment", fmt.Sprintf("%+v", *exp)).Warn("benchmark round failed")
		}
		execErr = tmpl.Execute(out, exp)
	}, args)
	return execErr
}

func inpIndex(v string) int {
	for i, inp := range inputs {
		if inp == v {
			return i
		}
	}
	return -1
}

func bench(ctx context.Context, exp *Experiment) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	seed := uint64(exp.Seed)
	secretLen, err := bb84.SecretBytes(exp.Length, exp.EpsAuth)
	if err != nil {
		return err
	}
	secretBits, err := entropy.NewPseudo(seed).Bits(8 * secretLen)
	if err != nil {
		return err
	}
	secret := secretBits.Data()
	l, r := net.Pipe()
	defer l.Close()
	defer r.Close()
	sender, receiver := photon.NewSimulatedChannel(entropy.NewPseudo(seed+1), 1)
	a, err := bb84.NewPeer(bb84.PeerOpts{
		Sender:           sender,
		ClassicalChannel: l,
		Rand:             entropy.NewPseudo(seed + 2),
		Secret:           bytes.NewReader(secret),
		Length:           exp.Length,
		EpsilonAuth:      exp.EpsAuth,
	})
	if err != nil {
		return err
	}
	b, err := bb84.NewPeer(bb84.PeerOpts{
		Receiver:         receiver,
		ClassicalChannel: r,
		Rand:             entropy.NewPseudo(seed + 3),
		Secret:           bytes.NewReader(secret),
		Length:           exp.Length,
		EpsilonAuth:      exp.EpsAuth,
	})
	if err != nil {
		return err
	}

	type result struct {
		stats bb84.Stats
		err   error
	}
	bobDone := make(chan result, 1)
	go func() {
		sess, stats, err := b.NegotiateKey(ctx)
		if err != nil {
			r.Close()
		} else {
			sess.Abort()
		}
		bobDone <- result{stats, err}
	}()
	sess, stats, err := a.NegotiateKey(ctx)
	if err != nil {
		cancel()
		l.Close()
	} else {
		sess.Abort()
	}
	bob := <-bobDone

	exp.SiftedBits = stats.SiftedBits
	exp.KeyBits = stats.KeyBits
	exp.SiftRatio = stats.SiftRatio
	exp.KeyBias = stats.KeyBias
	exp.AliceMessages = stats.MessagesSent
	exp.BobMessages = bob.stats.MessagesSent
	exp.AliceClassicalBytes = stats.BytesSent
	exp.BobClassicalBytes = bob.stats.BytesSent
	exp.Succeeded = err == nil && bob.err == nil
	if err != nil {
		return err
	}
	return bob.err
}

func header() string {
	return strings.Join(columns, ", ")
}

func lineTmpl() string {
	var els []string
	for _, c := range columns {
		els = append(els, "{{."+c+"}}")
	}
	return strings.Join(els, ", ") + "\n"
}

func lookupInput(fs *flag.FlagSet, name string) ([]interface{}, error) {
	var r []interface{}
	if v, err := fs.GetIntSlice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else if v, err := fs.GetFloat64Slice(name); err == nil {
		for _, val := range v {
			r = append(r, val)
		}
	} else {
		return nil, fmt.Errorf("unknown type for input %s", name)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("no values for input %s", name)
	}
	return r, nil
}

func applyCartesian(f func([]interface{}), args [][]interface{}) {
	for i := range args {
		if len(args[i]) == 1 {
			continue
		}
		l := make([][]interface{}, len(args))
		r := make([][]interface{}, len(args))
		copy(l, args)
		copy(r, args)
		l[i] = args[i][:1]
		r[i] = args[i][1:]
		applyCartesian(f, l)
		applyCartesian(f, r)
		return
	}
	x := make([]interface{}, 0, len(args))
	for _, a := range args {
		x = append(x, a[0])
	}
	f(x)
}
