package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/radarcloud/internal/api"
	"github.com/banshee-data/radarcloud/internal/config"
	"github.com/banshee-data/radarcloud/internal/db"
	"github.com/banshee-data/radarcloud/internal/frames"
	"github.com/banshee-data/radarcloud/internal/monitoring"
	"github.com/banshee-data/radarcloud/internal/network"
	"github.com/banshee-data/radarcloud/internal/pipeline"
	"github.com/banshee-data/radarcloud/internal/radar"
	"github.com/banshee-data/radarcloud/internal/serialmux"
	"github.com/banshee-data/radarcloud/internal/sim"
	"github.com/banshee-data/radarcloud/internal/timeutil"
	"github.com/banshee-data/radarcloud/internal/units"
	"github.com/banshee-data/radarcloud/internal/version"
)

var (
	configPath = flag.String("config", "", "Projector config file (.json, .yaml or .yml); defaults apply when empty")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	devMode    = flag.Bool("dev", false, "Feed the pipeline from a simulated scene")
	showVer    = flag.Bool("version", false, "Print version information and exit")
	debugLog   = flag.Bool("debug", false, "Log every batch and every ignored serial line")

	port     = flag.String("port", "", "Serial port the radar streams on (empty disables serial)")
	baudRate = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")

	udpAddr   = flag.String("udp", "", "UDP address to receive radar messages on, e.g. :7700 (empty disables)")
	pcapFile  = flag.String("pcap", "", "Replay radar messages from a pcap/pcapng capture")
	pcapSpeed = flag.Float64("pcap-speed", 1.0, "Replay speed multiplier; 0 replays as fast as possible")
	pcapPort  = flag.Int("pcap-port", network.DefaultPort, "UDP destination port to replay from the capture (0 for all)")
	pcapDir   = flag.String("pcap-dir", "", "Directory of captures that POST /api/replay may read (empty disables)")
	forward   = flag.String("forward", "", "Forward projected clouds as JSON datagrams to host:port")

	dbPath = flag.String("db", "", "SQLite file for projected clouds (empty disables storage)")
	retain = flag.Int("retain", 10000, "Number of stored clouds to keep")

	worldFrame  = flag.String("world-frame", "", "Override the configured world frame")
	mount       = flag.String("mount", "", "Static sensor mount in the world frame as x,y,z,yaw_deg")
	sensorFrame = flag.String("sensor-frame", "radar", "Frame ID of the radar, used by -mount")
	speedUnits  = flag.String("units", units.MPS, "Default speed units for the API: "+units.GetValidUnitsString())
)

// loadConfig reads path, or the built-in defaults when path is empty.
func loadConfig(path string) (*config.ProjectorConfig, error) {
	if path == "" {
		return config.DefaultProjectorConfig(), nil
	}
	return config.LoadProjectorConfig(path)
}

// parseMount parses "x,y,z,yaw" into a static transform from world to
// sensor.
func parseMount(s, world, sensor string) (frames.Transform, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return frames.Transform{}, fmt.Errorf("mount %q: want x,y,z,yaw_deg", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return frames.Transform{}, fmt.Errorf("mount %q: %w", s, err)
		}
		v[i] = f
	}
	return frames.Transform{
		Parent:      world,
		Child:       sensor,
		Translation: radar.Vec3{X: v[0], Y: v[1], Z: v[2]},
		Rotation:    frames.YawQuaternion(v[3]),
		Static:      true,
	}, nil
}

// pipelineConfig turns the projector config into a pipeline config.
// worldOverride replaces the configured world frame when set. In dev mode a
// config with no speed gate passes every target through, so the simulated
// scene is visible.
func pipelineConfig(cfg *config.ProjectorConfig, worldOverride string, dev bool) pipeline.Config {
	opts := cfg.ProjectorOptions()
	if opts.Speed.MinSpeed == nil && opts.Speed.MaxSpeed == nil && !opts.Speed.PassThroughUnfiltered {
		if dev {
			opts.Speed.PassThroughUnfiltered = true
		} else {
			log.Printf("no speed threshold configured: compensated targets will be dropped unless pass_through_unfiltered is set")
		}
	}
	world := cfg.GetWorldFrame()
	if worldOverride != "" {
		world = worldOverride
	}
	return pipeline.Config{
		Options:          opts,
		WorldFrame:       world,
		OutputFrame:      cfg.GetOutputFrame(),
		TransformTimeout: cfg.GetTransformTimeout(),
	}
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.Get())
		return
	}
	monitoring.SetDebug(*debugLog)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if _, err := units.Parse(*speedUnits); err != nil {
		log.Fatal(err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	transforms := frames.NewBuffer(
		frames.WithCapacity(cfg.GetTransformBufferSize()),
		frames.WithMaxAge(cfg.GetTransformMaxAge()),
	)
	pcfg := pipelineConfig(cfg, *worldFrame, *devMode)
	pcfg.Transforms = transforms

	if *mount != "" {
		tf, err := parseMount(*mount, pcfg.WorldFrame, *sensorFrame)
		if err != nil {
			log.Fatal(err)
		}
		if err := transforms.Set(tf); err != nil {
			log.Fatalf("invalid mount: %v", err)
		}
	}

	var sinks []pipeline.Sink
	var store *db.DB
	var cloudSink *db.CloudSink
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
		cloudSink = &db.CloudSink{DB: store, Retain: *retain}
		sinks = append(sinks, cloudSink)
	}

	var forwarder *network.Forwarder
	if *forward != "" {
		forwarder, err = network.NewForwarder(*forward, time.Minute)
		if err != nil {
			log.Fatalf("failed to create forwarder: %v", err)
		}
		defer forwarder.Close()
		sinks = append(sinks, forwarder)
	}

	p := pipeline.New(pcfg, transforms, sinks...)
	if cloudSink != nil {
		cloudSink.RunID = p.RunID()
	}
	log.Printf("%s", version.Get())
	log.Printf("pipeline %s: world=%s output=%s", p.RunID(), pcfg.WorldFrame, pcfg.OutputFrame)

	var radarSerial serialmux.Mux
	if *port != "" {
		m, err := serialmux.Open(*port, serialmux.PortOptions{BaudRate: *baudRate}, serialmux.OpenSerial)
		if err != nil {
			log.Fatalf("failed to open radar port: %v", err)
		}
		radarSerial = m
	} else {
		radarSerial = serialmux.NewDisabledSerialMux()
	}
	defer radarSerial.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if forwarder != nil {
		forwarder.Start(ctx)
	}

	// serial monitor and consumer
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := radarSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()
	go func() {
		defer wg.Done()
		serialmux.Consume(ctx, radarSerial, p)
		log.Print("serial consumer terminated")
	}()

	sources := map[string]func() interface{}{}

	var listener *network.Listener
	if *udpAddr != "" || *pcapFile != "" || *pcapDir != "" {
		listener = network.NewListener(network.ListenerConfig{Address: *udpAddr, Handler: p})
		sources["udp"] = func() interface{} { return listener.Stats() }
	}
	if *udpAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("UDP listener error: %v", err)
			}
		}()
	}
	if *pcapFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := network.ReplayPCAP(ctx, *pcapFile, network.ReplayConfig{Port: *pcapPort, Speed: *pcapSpeed}, listener.HandleDatagram)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("PCAP replay error: %v", err)
			}
			log.Printf("PCAP replay: %d packets, %d datagrams, %d errors in %v", stats.Packets, stats.Datagrams, stats.Errors, stats.Elapsed)
		}()
	}

	if *devMode {
		scene := sim.DefaultConfig()
		scene.WorldFrame = pcfg.WorldFrame
		scene.SensorFrame = *sensorFrame
		src := sim.NewSource(scene, timeutil.RealClock{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := src.Run(ctx, sim.Dispatcher(p), func(err error) { log.Printf("sim: %v", err) })
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("sim stopped: %v", err)
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		acfg := api.Config{Units: *speedUnits, Sources: sources}
		if store != nil {
			acfg.Store = store
		}
		if *pcapDir != "" {
			acfg.PCAPDir = *pcapDir
			acfg.Replay = func(ctx context.Context, path string, speed float64) (network.ReplayStats, error) {
				return network.ReplayPCAP(ctx, path, network.ReplayConfig{Port: *pcapPort, Speed: speed}, listener.HandleDatagram)
			}
		}
		mux := api.NewServer(p, acfg).ServeMux()

		radarSerial.AttachAdminRoutes(mux)
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("HTTP server listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
