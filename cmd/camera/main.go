package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/camera.control/internal/api"
	"github.com/banshee-data/camera.control/internal/camera"
	"github.com/banshee-data/camera.control/internal/config"
	"github.com/banshee-data/camera.control/internal/control"
	"github.com/banshee-data/camera.control/internal/db"
	"github.com/banshee-data/camera.control/internal/monitoring"
	"github.com/banshee-data/camera.control/internal/serialmux"
	"github.com/banshee-data/camera.control/internal/stream"
	"github.com/banshee-data/camera.control/internal/timeutil"
	"github.com/banshee-data/camera.control/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a simulated camera")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty to disable)")
	port        = flag.String("port", "/dev/ttyACM0", "Camera serial port (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Camera serial baud rate")
	dbPath      = flag.String("db", "camera.db", "History database path (empty to disable)")
	configPath  = flag.String("config", "", "Control tuning JSON (defaults when empty)")
	frameID     = flag.String("frame-id", "camera_optical", "Label attached to every frame")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const healthInterval = time.Second

// hardware is the camera handle plus whatever must run alongside it.
type hardware struct {
	cam camera.Hardware
	// run reads the device link until ctx ends; nil for the simulator
	run     func(ctx context.Context) error
	console serialmux.SerialMuxInterface
	label   string
	line    *serialmux.PortOptions
}

func openHardware(ctx context.Context, cfg *config.ControlConfig) (*hardware, error) {
	if *devMode {
		sim := camera.NewSimulated(camera.DefaultSimulatedConfig(), timeutil.RealClock{})
		return &hardware{cam: sim, console: serialmux.NewDisabledSerialMux(), label: "simulated"}, nil
	}

	opts, err := serialmux.PortOptions{BaudRate: *baud}.Normalize()
	if err != nil {
		return nil, err
	}
	mux, err := serialmux.NewRealSerialMux(*port, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera port %s: %w", *port, err)
	}
	cam := camera.NewSerialCamera(mux, timeutil.RealClock{}, cfg.GetSerialReplyTimeout())
	hw := &hardware{cam: cam, console: mux, label: *port, line: &opts}

	runErr := make(chan error, 1)
	go func() { runErr <- cam.Run(ctx) }()
	hw.run = func(context.Context) error { return <-runErr }

	if err := mux.Initialize(); err != nil {
		mux.Close()
		return nil, fmt.Errorf("failed to initialize camera: %w", err)
	}
	if err := cam.Open(); err != nil {
		mux.Close()
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}
	log.Printf("initialized camera on %s at %d baud", *port, opts.BaudRate)
	return hw, nil
}

func loadConfig() (*config.ControlConfig, error) {
	if *configPath == "" {
		return config.EmptyControlConfig(), nil
	}
	return config.LoadControlConfig(*configPath)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hw, err := openHardware(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer hw.console.Close()

	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
	}

	hub := stream.NewHub()
	defer hub.Close()
	health := monitoring.NewHealth()

	ctrl, err := control.New(control.Options{
		Hardware:  hw.cam,
		Publisher: hub,
		Config:    cfg,
		FrameID:   *frameID,
		OnFatal: func(err error) {
			log.Printf("camera lost, shutting down: %v", err)
			health.SetServing(false)
			stop()
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	var wg sync.WaitGroup

	if hw.run != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hw.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("camera link: %v", err)
				// the next Refresh escalates
			}
			log.Print("camera link routine terminated")
		}()
	}

	// continuous acquisition
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Stream(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("stream stopped: %v", err)
		}
		log.Print("stream routine terminated")
	}()

	// readiness and health
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			health.SetServing(ctrl.Refresh() && ctrl.Fatal() == nil)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		grpcServer := grpc.NewServer()
		health.Register(grpcServer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				<-ctx.Done()
				health.Shutdown()
				grpcServer.GracefulStop()
			}()
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Printf("gRPC health server stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiOpts := api.Options{Controller: ctrl, Hub: hub, Context: ctx, SerialPort: hw.label, SerialOptions: hw.line}
		if store != nil {
			apiOpts.Store = store
		}
		mux := api.NewServer(apiOpts).ServeMux()
		hw.console.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("db admin routes disabled: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// SSE clients never finish on their own
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
	if err := ctrl.Fatal(); err != nil {
		log.Fatalf("exiting after fatal camera error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
