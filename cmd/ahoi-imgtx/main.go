// Command ahoi-imgtx drives the reliable image-transfer protocol: in
// camera mode it answers requests by serving a JPEG file from disk (a
// stand-in for the real camera hardware, which is out of scope for this
// host-side library); in viewer mode it requests an image and writes the
// reassembled result to disk.
package main

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/tuhh-eit/ahoi-modem/applog"
	"github.com/tuhh-eit/ahoi-modem/imgtx"
	"github.com/tuhh-eit/ahoi-modem/modem"
	"github.com/tuhh-eit/ahoi-modem/transport"
)

func main() {
	dev := pflag.StringP("device", "d", "", "Connection string: tcp@host[:port], a tty path, or empty to scan.")
	mode := pflag.StringP("mode", "m", "viewer", "Role: 'camera' or 'viewer'.")
	camID := pflag.Uint8("cam-id", 0x01, "Modem address of the camera side.")
	hardAck := pflag.Bool("hard-ack", false, "Use transport-level hard acks instead of protocol soft acks.")
	payloadLen := pflag.Int("payload-len", 64, "Bytes of image data per DATA packet.")
	ackTimeout := pflag.Duration("ack-timeout", 2*time.Second, "Time to wait for an ACK before retransmitting.")
	retrans := pflag.Int("retransmissions", 5, "Maximum transmissions per packet, the first one included, before aborting.")
	size := pflag.StringP("size", "s", "640x480", "Requested image size as WxH.")
	quality := pflag.Int("quality", 75, "JPEG quality, 1-100.")
	flash := pflag.Bool("flash", false, "Request the camera fire its flash/illuminator.")
	sourceImage := pflag.String("source-image", "", "camera mode: JPEG file to serve in response to requests.")
	outFile := pflag.StringP("out", "o", "received.jpg", "viewer mode: where to save the received image.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ahoi-imgtx - reliable image transfer over the acoustic modem\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := applog.New(os.Stderr, "ahoi-imgtx")

	tp, err := transport.Dial(*dev, logger)
	if err != nil {
		logger.Error("could not resolve connection", "device", *dev, "err", err)
		os.Exit(1)
	}

	m := modem.New(logger)
	if err := m.Connect(tp); err != nil {
		logger.Error("connect failed", "err", err)
		os.Exit(1)
	}
	go m.Receive()
	defer m.Close()

	w, h, err := parseSize(*size)
	if err != nil {
		logger.Error("invalid --size", "err", err)
		os.Exit(1)
	}

	params := imgtx.Params{
		CamModemID:         *camID,
		HardAck:            *hardAck,
		PayloadLength:      *payloadLen,
		AckTimeout:         *ackTimeout,
		NumRetransmissions: *retrans,
		DefaultSize:        [2]int{w, h},
		DefaultQuality:     byte(*quality),
	}

	sink := &consoleSink{}

	switch strings.ToLower(*mode) {
	case "camera":
		if *sourceImage == "" {
			logger.Error("camera mode requires --source-image")
			os.Exit(1)
		}
		session := imgtx.NewSession(m, params, fileCapture(*sourceImage), sink, logger)
		session.Start()
		defer session.Close()
		logger.Info("camera session running, waiting for requests")
		select {}

	case "viewer":
		session := imgtx.NewSession(m, params, nil, sink, logger)
		session.Start()
		defer session.Close()

		logger.Info("requesting image", "size", [2]int{w, h}, "quality", *quality)
		if err := session.RequestImage([2]int{w, h}, byte(*quality), *flash); err != nil {
			logger.Error("request failed", "err", err)
			os.Exit(1)
		}

		// RequestImage only waits for the CMD_CAP packet itself to be
		// acked; the image (CMD_BEGIN, header/data segments, CMD_END)
		// streams back asynchronously on the receive goroutine. Wait for
		// the session to enter StatusRxImage and return to StatusIdle
		// before saving. The deadline bounds only the wait for the transfer
		// to start; once it has, the session's receive watchdog returns it
		// to idle if the camera side goes silent.
		deadline := time.Now().Add(*ackTimeout * time.Duration(*retrans+1) + time.Second)
		started := false
		for {
			st := session.Status()
			if st == imgtx.StatusRxImage {
				started = true
			} else if started {
				break
			} else if time.Now().After(deadline) {
				logger.Error("timed out waiting for image transfer to start")
				os.Exit(1)
			}
			time.Sleep(100 * time.Millisecond)
		}

		if err := sink.save(*outFile); err != nil {
			logger.Error("could not save received image", "err", err)
			os.Exit(1)
		}
		logger.Info("image saved", "path", *outFile)

	default:
		logger.Error("unknown --mode", "mode", *mode)
		os.Exit(1)
	}
}

func parseSize(s string) (int, int, error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

// fileCapture builds an imgtx.Capture that serves the same JPEG file from
// disk on every request, standing in for the PiCamera-backed capture() the
// original library falls back to the same way when no camera is attached.
// It ignores flash (no GPIO illuminator here) and serves the source image
// at its native resolution rather than resizing to the requested size,
// since no image-resampling library is grounded in the example corpus.
func fileCapture(path string) imgtx.Capture {
	return func(size [2]int, flash bool) (image.Image, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return jpeg.Decode(f)
	}
}

// consoleSink is a minimal imgtx.ProgressSink that prints progress to
// stderr and keeps the most recently decoded image for saving to disk.
type consoleSink struct {
	start time.Time
	img   image.Image
}

func (c *consoleSink) UpdateBar(current, total int) {
	fmt.Fprintf(os.Stderr, "\rprogress: %d/%d", current, total)
}

func (c *consoleSink) ResetTimer() { c.start = time.Time{} }
func (c *consoleSink) StartTimer()  { c.start = time.Now() }
func (c *consoleSink) StopTimer()   {}
func (c *consoleSink) TimerValue() time.Duration {
	if c.start.IsZero() {
		return 0
	}
	return time.Since(c.start)
}
func (c *consoleSink) UpdateImage(img image.Image)   { c.img = img }
func (c *consoleSink) ResizeToImage(img image.Image) {}
func (c *consoleSink) Close()                        {}

func (c *consoleSink) save(path string) error {
	if c.img == nil {
		return fmt.Errorf("no image received")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, c.img, &jpeg.Options{Quality: 90})
}
