// Package flag is the command-line layer of the superio demo.
package flag

import (
	"log"
	"os"

	"github.com/alecthomas/kong"

	"github.com/govmm/superio/console"
)

// CLI is the command tree. The bare binary runs the console.
type CLI struct {
	Console  ConsoleCMD  `cmd:"" default:"1" help:"Attach the terminal to the emulated devices."`
	Selftest SelftestCMD `cmd:"" help:"Drive the devices through a scripted exchange and exit."`
}

// ConsoleCMD holds the interactive console flags.
type ConsoleCMD struct {
	Loopback bool   `help:"Start the UART with the modem loop closed." short:"l"`
	Stats    bool   `help:"Print device event counters on exit." short:"s"`
	Pprof    string `help:"Write a CPU profile into this directory." type:"path"`
}

// SelftestCMD has no flags of its own.
type SelftestCMD struct{}

func Parse() error {
	c := CLI{}

	programName := "superio"
	programDesc := "superio wires emulated serial-console devices to the hosting terminal"

	ctx := kong.Parse(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}

func (s *ConsoleCMD) Run() error {
	c := console.New(console.Config{
		Loopback: s.Loopback,
		Stats:    s.Stats,
		Pprof:    s.Pprof,
	})

	if err := c.Init(); err != nil {
		log.Fatal(err)
	}

	if err := c.Run(); err != nil {
		log.Fatal(err)
	}

	if err := c.Close(); err != nil {
		log.Fatal(err)
	}

	return nil
}

func (s *SelftestCMD) Run() error {
	if err := console.SelfTest(os.Stdout); err != nil {
		return err
	}

	return nil
}
