// Command govnc-cli is a thin front-end over the govnc core: it connects
// to one named profile from a YAML config file, polls events, dumps the
// framebuffer to a PNG on request, and optionally serves Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	govnc "github.com/openrv/govnc"
	"github.com/openrv/govnc/internal"
	"github.com/openrv/govnc/internal/metrics"
)

func main() {
	var cfgPath, profileName, dumpPath, metricsAddr string
	flag.StringVar(&cfgPath, "c", "config.yaml", "config path")
	flag.StringVar(&profileName, "profile", "", "profile name to connect as")
	flag.StringVar(&dumpPath, "dump", "", "if set, write a PNG of the framebuffer here on exit")
	flag.StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9115")
	flag.Parse()

	cfg, err := internal.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	profile, ok := cfg.Profiles[profileName]
	if !ok {
		log.Fatalf("no profile named %q in %s", profileName, cfgPath)
	}
	connCfg, err := profile.ToConnectionConfig()
	if err != nil {
		log.Fatalf("profile %q: %v", profileName, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		metrics.Enable()
		go func() {
			if err := metrics.StartServer(ctx, metricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("Prometheus metrics listening on %s", metricsAddr)
	}

	vnc := govnc.New(govnc.ContextOptions{Log: log.Default()})
	defer vnc.Destroy()
	vnc.SetViewOnly(connCfg.ViewOnly)

	if cerr := vnc.Connect(connCfg); cerr != nil {
		log.Fatalf("connect: %s", cerr.Message)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var connected bool
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigc:
			log.Printf("shutting down...")
			break loop
		case <-ticker.C:
			for {
				ev, ok := vnc.PollEvent()
				if !ok {
					break
				}
				logEvent(ev)
				if ev.Kind == govnc.EventConnectResult && ev.OK {
					connected = true
					vnc.RequestFramebufferUpdateFull(0, 0, ev.FramebufferWidth, ev.FramebufferHeight)
				}
				if ev.Kind == govnc.EventFramebufferUpdateRequestFinished && connected {
					vnc.RequestFramebufferUpdate(0, 0, 0, 0)
				}
				if ev.Kind == govnc.EventDisconnected {
					break loop
				}
			}
		}
	}

	vnc.Disconnect()

	if dumpPath != "" {
		if err := dumpFramebuffer(vnc, dumpPath); err != nil {
			log.Printf("dump framebuffer: %v", err)
		} else {
			log.Printf("wrote %s", dumpPath)
		}
	}
}

func logEvent(ev govnc.Event) {
	switch ev.Kind {
	case govnc.EventConnectResult:
		if ev.OK {
			log.Printf("connected: %dx%d %q auth=%s", ev.FramebufferWidth, ev.FramebufferHeight, ev.DesktopName, ev.AuthTypeName)
		} else {
			log.Printf("connect failed: %s", ev.Err.Message)
		}
	case govnc.EventDisconnected:
		log.Printf("disconnected (graceful=%v)", ev.Graceful)
	case govnc.EventBell:
		log.Printf("bell")
	case govnc.EventCutText:
		log.Printf("cut text: %d bytes", len(ev.Text))
	default:
	}
}

func dumpFramebuffer(vnc *govnc.Context, path string) error {
	w, h, pixels, _ := vnc.AcquireFramebuffer()
	if w == 0 || h == 0 {
		return fmt.Errorf("empty framebuffer")
	}
	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			off := (y*int(w) + x) * 3
			img.Set(x, y, color.RGBA{R: pixels[off], G: pixels[off+1], B: pixels[off+2], A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
