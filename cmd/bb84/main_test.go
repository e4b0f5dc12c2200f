package main

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/alan-christopher/bb84chat/internal/config"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestApplyCartesian(t *testing.T) {
	var got [][]interface{}
	applyCartesian(func(x []interface{}) {
		got = append(got, append([]interface{}(nil), x...))
	}, [][]interface{}{{1, 2}, {"a"}, {0.5, 0.25}})
	want := [][]interface{}{
		{1, "a", 0.5}, {1, "a", 0.25},
		{2, "a", 0.5}, {2, "a", 0.25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("applyCartesian visited %v, want %v", got, want)
	}
}

func TestBench(t *testing.T) {
	cmd := newBenchCmd(quietLogger())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--length", "64,128", "--seed", "1"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("bench: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("bench printed %d lines, want header + 2:\n%s", len(lines), out.String())
	}
	if lines[0] != header() {
		t.Errorf("header == %q, want %q", lines[0], header())
	}
	for _, l := range lines[1:] {
		fields := strings.Split(l, ", ")
		if len(fields) != len(columns) {
			t.Errorf("line %q has %d fields, want %d", l, len(fields), len(columns))
			continue
		}
		if fields[len(fields)-1] != "true" {
			t.Errorf("round failed: %q", l)
		}
		if fields[7] != "1" || fields[8] != "1" {
			t.Errorf("each peer should send one message: %q", l)
		}
	}
}

func TestBenchRejectsUnauthenticatedRounds(t *testing.T) {
	for _, eps := range []float64{1, 2, -1} {
		exp := Experiment{Length: 64, EpsAuth: eps, Seed: 1}
		if err := bench(context.Background(), &exp); err == nil {
			t.Errorf("bench with epsAuth %v succeeded, want error", eps)
		}
		if exp.Succeeded {
			t.Errorf("bench with epsAuth %v reported success", eps)
		}
	}
}

func TestBenchRoundIsReproducible(t *testing.T) {
	run := func() Experiment {
		exp := Experiment{Length: 200, EpsAuth: 1e-9, Seed: 7}
		if err := bench(context.Background(), &exp); err != nil {
			t.Fatalf("bench: %v", err)
		}
		return exp
	}
	a, b := run(), run()
	if a != b {
		t.Errorf("same seed gave different results:\n%+v\n%+v", a, b)
	}
	if a.KeyBits != a.SiftedBits/2 {
		t.Errorf("KeyBits %d is not half of SiftedBits %d", a.KeyBits, a.SiftedBits)
	}
}

func TestRunDemo(t *testing.T) {
	for _, random := range []string{"secure", "chacha:demo", "pseudo:9"} {
		t.Run(random, func(t *testing.T) {
			cfg := config.Default()
			cfg.Random = random
			res, err := runDemo(context.Background(), cfg, 128, "attack at dawn")
			if err != nil {
				t.Fatalf("runDemo: %v", err)
			}
			if res.received != "attack at dawn" {
				t.Errorf("received %q", res.received)
			}
			if res.stats.Length != 128 || res.stats.KeyBits == 0 {
				t.Errorf("implausible stats %+v", res.stats)
			}
		})
	}
}

func TestRunDemoRejectsWideText(t *testing.T) {
	if _, err := runDemo(context.Background(), config.Default(), 64, "☃"); err == nil {
		t.Errorf("runDemo accepted a character above 0xFF")
	}
}

func TestApplyUnset(t *testing.T) {
	cfg := config.Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse([]string{"--addr", ":1234"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	env := config.Default()
	env.Addr = ":9999"
	env.LogLevel = "debug"
	applyUnset(fs, &cfg, env)
	if cfg.Addr != ":1234" {
		t.Errorf("explicit flag overridden: Addr == %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("environment ignored: LogLevel == %q", cfg.LogLevel)
	}
}
