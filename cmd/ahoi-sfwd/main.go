// Command ahoi-sfwd is the serial-to-TCP forwarder: it cross-connects a
// serial link to the modem and a TCP server socket so bytes flow
// transparently between them, letting a remote client talk to a locally
// attached modem as if it were connected directly.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/pack"
	"github.com/tuhh-eit/ahoi-modem/transport"
)

func main() {
	dev := pflag.StringP("device", "d", "", "Serial device path, or empty to scan.")
	port := pflag.IntP("port", "p", transport.DefaultPort, "TCP port to listen on.")
	announce := pflag.Bool("announce", false, "Advertise the TCP server via DNS-SD.")
	logDir := pflag.String("log-dir", "", "If set, write tcp/serial packet logs to this directory.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ahoi-sfwd - transparent TCP/serial forwarder\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := applog.New(os.Stderr, "ahoi-sfwd")

	devPath := *dev
	if devPath == "" {
		selected, err := selectSerialDevice()
		if err != nil {
			logger.Error("could not select serial device", "err", err)
			os.Exit(1)
		}
		devPath = selected
	}

	serialTP := transport.NewSerial(devPath, logger)
	tcpTP := transport.NewTCPServer(*port, *announce, logger)

	if *logDir != "" {
		stamp := time.Now().Format("20060102-150405")
		if l, err := applog.OpenPacketLog(filepath.Join(*logDir, "sfwd-"+stamp+".serial.log")); err != nil {
			logger.Warn("could not open serial packet log", "err", err)
		} else {
			serialTP.AttachLog(l)
		}
		if l, err := applog.OpenPacketLog(filepath.Join(*logDir, "sfwd-"+stamp+".tcp.log")); err != nil {
			logger.Warn("could not open tcp packet log", "err", err)
		} else {
			tcpTP.AttachLog(l)
		}
	}

	// Cross connect: every packet decoded on one side is relayed out the
	// other, with no buffering or reinterpretation in between.
	if err := serialTP.Connect(forwardTo(tcpTP, logger, "serial->tcp")); err != nil {
		logger.Error("serial connect failed", "device", devPath, "err", err)
		os.Exit(1)
	}
	if err := tcpTP.Connect(forwardTo(serialTP, logger, "tcp->serial")); err != nil {
		logger.Error("tcp connect failed", "port", *port, "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, closing")
		_ = tcpTP.Close()
		_ = serialTP.Close()
	}()

	logger.Info("forwarding started", "device", devPath, "tcp-port", *port)
	go tcpTP.Receive()
	serialTP.Receive()
}

// forwardTo builds an RxCallback that relays a decoded packet onto dst,
// logging and dropping it on a send failure rather than killing the
// receive loop it was invoked from.
func forwardTo(dst interface{ Send(pack.Packet) error }, logger *applog.Logger, label string) transport.RxCallback {
	return func(p pack.Packet) {
		if err := dst.Send(p); err != nil {
			logger.Warn("forward failed", "path", label, "err", err)
		}
	}
}

func selectSerialDevice() (string, error) {
	matches, _ := filepath.Glob("/dev/ttyUSB*")
	acm, _ := filepath.Glob("/dev/ttyACM*")
	candidates := transport.ScanSerial(append(matches, acm...))
	if len(candidates) == 0 {
		return "", fmt.Errorf("no serial devices found, pass --device explicitly")
	}

	fmt.Println("available serial devices:")
	for i, c := range candidates {
		fmt.Printf("  [%d] %s\n", i, c)
	}
	fmt.Print("select a device by index: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("no selection made")
	}
	idx, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || idx < 0 || idx >= len(candidates) {
		return "", fmt.Errorf("invalid selection %q", scanner.Text())
	}
	return candidates[idx], nil
}
