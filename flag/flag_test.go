package flag_test

import (
	"testing"

	"github.com/alecthomas/kong"

	"github.com/govmm/superio/flag"
)

func TestParseConsoleFlags(t *testing.T) {
	t.Parallel()

	c := flag.CLI{}

	parser, err := kong.New(&c)
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	ctx, err := parser.Parse([]string{"console", "--loopback", "--stats"})
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	if ctx.Command() != "console" {
		t.Fatalf("expected: console, actual: %s", ctx.Command())
	}

	if !c.Console.Loopback {
		t.Fatalf("expected: loopback set, actual: unset")
	}

	if !c.Console.Stats {
		t.Fatalf("expected: stats set, actual: unset")
	}
}

func TestParseDefaultsToConsole(t *testing.T) {
	t.Parallel()

	c := flag.CLI{}

	parser, err := kong.New(&c)
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	ctx, err := parser.Parse([]string{})
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	if ctx.Command() != "console" {
		t.Fatalf("expected: console, actual: %s", ctx.Command())
	}

	if c.Console.Loopback || c.Console.Stats || c.Console.Pprof != "" {
		t.Fatalf("expected: zero flags, actual: %+v", c.Console)
	}
}

func TestParseSelftest(t *testing.T) {
	t.Parallel()

	c := flag.CLI{}

	parser, err := kong.New(&c)
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	ctx, err := parser.Parse([]string{"selftest"})
	if err != nil {
		t.Fatalf("expected: nil, actual: %v", err)
	}

	if ctx.Command() != "selftest" {
		t.Fatalf("expected: selftest, actual: %s", ctx.Command())
	}
}
