// Command ahoi-modem is an interactive command-line driver for the
// acoustic modem: it connects over serial or TCP and lets an operator
// issue commands from a catalog at a text prompt.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/modem"
	"github.com/tuhh-eit/ahoi-modem/transport"
)

func main() {
	dev := pflag.StringP("device", "d", "", "Connection string: tcp@host[:port], a tty path, or empty to scan.")
	logFile := pflag.StringP("log", "l", "", "Write received packets to this hex log file (a .1, .2, ... suffix is added if it exists).")
	echoTx := pflag.Bool("echo-tx", false, "Print transmitted packets.")
	echoRx := pflag.Bool("echo-rx", false, "Print received packets.")
	blocking := pflag.BoolP("blocking", "b", true, "Wait for a command reply before returning.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ahoi-modem - interactive acoustic modem command console\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := applog.New(os.Stderr, "ahoi-modem")

	tp, err := resolveTransport(*dev, logger)
	if err != nil {
		logger.Error("could not resolve connection", "device", *dev, "err", err)
		os.Exit(1)
	}

	m := modem.New(logger)
	m.SetModeBlocking(*blocking)
	m.SetTxEcho(*echoTx)
	m.SetRxEcho(*echoRx)

	if err := m.Connect(tp); err != nil {
		logger.Error("connect failed", "err", err)
		os.Exit(1)
	}
	go m.Receive()

	if *logFile != "" {
		if err := m.LogOn(*logFile); err != nil {
			logger.Warn("could not open packet log", "err", err)
		}
	}
	defer m.Close()

	runConsole(m, logger)
}

// resolveTransport handles transport.Dial's documented empty-spec case
// itself: it scans for candidate serial devices and lets the operator pick
// one, falling back to Dial's own tcp@/tty parsing otherwise.
func resolveTransport(dev string, logger *applog.Logger) (transport.Transport, error) {
	if dev != "" {
		return transport.Dial(dev, logger)
	}

	candidates := transport.ScanSerial(globTTY())
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no serial devices found, pass --device explicitly")
	}

	fmt.Println("available serial devices:")
	for i, c := range candidates {
		fmt.Printf("  [%d] %s\n", i, c)
	}
	fmt.Print("select a device by index: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return nil, fmt.Errorf("no selection made")
	}
	idx, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || idx < 0 || idx >= len(candidates) {
		return nil, fmt.Errorf("invalid selection %q", scanner.Text())
	}

	return transport.Dial(candidates[idx], logger)
}

func globTTY() []string {
	matches, _ := filepath.Glob("/dev/ttyUSB*")
	acm, _ := filepath.Glob("/dev/ttyACM*")
	return append(matches, acm...)
}

func runConsole(m *modem.Modem, logger *applog.Logger) {
	fmt.Println("ahoi-modem console. Type 'help' for commands, 'quit' to exit.")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "version":
			dispatchErr(logger, m.GetVersion())
		case "config":
			dispatchErr(logger, m.GetConfig())
		case "reset":
			dispatchErr(logger, m.Reset())
		case "sleep":
			dispatchErr(logger, m.Sleep())
		case "battery":
			dispatchErr(logger, m.GetBatVoltage())
		case "packetstat":
			dispatchErr(logger, m.GetPacketStat())
		case "clearpacketstat":
			dispatchErr(logger, m.ClearPacketStat())
		case "program":
			if len(args) < 1 {
				fmt.Println("usage: program <firmware.bin> [erase]")
				continue
			}
			dispatchErr(logger, m.Program(args[0], len(args) > 1 && args[1] == "erase"))
		case "testsound":
			if len(args) < 1 {
				fmt.Println("usage: testsound <duration 1-250>")
				continue
			}
			dur, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Println("invalid duration:", err)
				continue
			}
			dispatchErr(logger, m.TestSound(byte(dur)))
		default:
			fmt.Println("unknown command:", cmd, "(type 'help')")
		}
	}
}

func dispatchErr(logger *applog.Logger, err error) {
	if err != nil {
		logger.Error("command failed", "err", err)
	}
}

func printHelp() {
	fmt.Println(`available commands:
  version            request firmware version
  config             request current configuration
  reset              reset the modem
  sleep              put the modem to sleep
  battery            request battery voltage
  packetstat         request packet statistics
  clearpacketstat    clear packet statistics
  program <f> [erase]  flash firmware image f; 'erase' skips the bootloader-entry command
  testsound <dur>    emit a test tone for dur*10ms
  quit               exit the console`)
}
