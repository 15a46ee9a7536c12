package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/urfave/cli.v2"

	"seq86/asm"
	"seq86/cpu"
)

type stdLogger struct{}

func (stdLogger) Log(msg string) { log.Println(msg) }

func main() {
	app := &cli.App{
		Name:    "seq86",
		Usage:   "Assemble and run a program on the pipelined SEQ machine",
		Version: "v0.1.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "mem",
				Aliases: []string{"m"},
				Usage:   "memory size in bytes",
				Value:   1024,
			},
			&cli.IntFlag{
				Name:    "sp",
				Aliases: []string{"s"},
				Usage:   "initial stack pointer (esp)",
				Value:   200,
			},
			&cli.BoolFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "log stage activity per tick",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "step through the pipeline interactively",
			},
		},
		Action: func(c *cli.Context) error {
			file := c.Args().First()
			if file == "" {
				cli.ShowAppHelp(c)
				return cli.Exit("", 1)
			}

			machine := cpu.New(c.Int("mem"))
			if c.Bool("trace") {
				machine.SetLogger(stdLogger{})
			}

			if err := asm.New(machine).AssembleFile(file); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			machine.SetStackPointer(uint32(c.Int("sp")))

			if c.Bool("debug") {
				if err := machine.Debug(); err != nil {
					return cli.Exit(err.Error(), 2)
				}
				return nil
			}

			if err := machine.Run(); err != nil {
				dump(machine)
				return cli.Exit(err.Error(), 2)
			}
			dump(machine)
			return nil
		},
	}

	app.Run(os.Args)
}

// dump prints the register file and memory image, 16 bytes per row.
func dump(m *cpu.Machine) {
	s := m.Observe()
	for _, name := range cpu.RegNames {
		fmt.Printf("%-6s\t%08x\n", name, s.Regs[name])
	}
	var row strings.Builder
	for i, b := range s.Memory {
		if i%16 == 0 {
			row.Reset()
			fmt.Fprintf(&row, "%#05x", i)
		}
		fmt.Fprintf(&row, "\t%02x", b)
		if i%16 == 15 {
			fmt.Println(row.String())
		}
	}
}
