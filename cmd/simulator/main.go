package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/config"
	"trip-tracker/internal/db"
	"trip-tracker/internal/feed"
	"trip-tracker/internal/logging"
	"trip-tracker/internal/metrics"
	"trip-tracker/internal/publisher"
	"trip-tracker/internal/sim"
	"trip-tracker/internal/speed"
	"trip-tracker/internal/track"
	"trip-tracker/internal/trackio"
)

const statusInterval = 30 * time.Second

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		log.Fatalf("logging error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	// Offline commands: "trips" lists stored trips, "export <id> <file>" writes one out.
	if len(os.Args) > 1 {
		if err := runCommand(ctx, store, os.Args[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.SpeedMultiplier, cfg.ReplaySpeedMultiplier, cfg.EmitInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// NATS is optional; without it samples are only recorded.
	var pub sim.Publisher
	if cfg.NATSURL != "" {
		nats, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, publisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nats.Close()
		pub = nats
	}

	mgr := sim.NewManager(sim.Options{
		Store:     store,
		Publisher: pub,
		Metrics:   managerMetrics(mcol),
		Intervals: speed.Intervals{
			Display:   cfg.DisplayInterval,
			Recording: cfg.RecordInterval,
			Sync:      cfg.SyncInterval,
		},
		HistorySize:           cfg.SpeedHistorySize,
		Unit:                  cfg.SpeedUnit,
		EmitInterval:          cfg.EmitInterval,
		TickInterval:          cfg.TickInterval,
		SpeedMultiplier:       cfg.SpeedMultiplier,
		ReplaySpeedMultiplier: cfg.ReplaySpeedMultiplier,
		Seed:                  cfg.RandomSeed,
	})

	sources := 0
	if cfg.DemoRouteFile != "" {
		route, err := trackio.ReadRouteFile(cfg.DemoRouteFile)
		if err != nil {
			log.Fatalf("demo route: %v", err)
		}
		name := route.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(cfg.DemoRouteFile), filepath.Ext(cfg.DemoRouteFile))
		}
		id, err := mgr.StartDemo(ctx, route.Segments, sim.DemoOptions{Name: name, Start: route.Start, End: route.End})
		if err != nil {
			log.Fatalf("start demo: %v", err)
		}
		log.WithFields(log.Fields{"trip": id, "segments": len(route.Segments)}).Info("demo started")
		sources++
	}

	switch {
	case cfg.ReplayTripID != "":
		if err := mgr.StartReplay(ctx, cfg.ReplayTripID); err != nil {
			log.Fatalf("replay %s: %v", cfg.ReplayTripID, err)
		}
		sources++
	case cfg.ReplayGPXFile != "":
		rec, err := trackio.ReadGPXFile(cfg.ReplayGPXFile)
		if err != nil {
			log.Fatalf("replay file: %v", err)
		}
		id, err := mgr.StartReplayFromSamples(ctx, rec.Name, rec.Samples)
		if err != nil {
			log.Fatalf("replay file: %v", err)
		}
		log.WithFields(log.Fields{"trip": id, "samples": len(rec.Samples)}).Info("replaying GPX file")
		sources++
	}

	feedDone := make(chan struct{})
	if cfg.NMEASerialPort != "" {
		port, err := feed.OpenSerial(cfg.NMEASerialPort, cfg.NMEABaudRate)
		if err != nil {
			log.Fatalf("open %s: %v", cfg.NMEASerialPort, err)
		}
		go func() {
			defer close(feedDone)
			defer mgr.FinishLive()
			err := feed.NewReader(port, feedMetrics(mcol)).Run(ctx, func(s track.PositionSample) {
				if _, err := mgr.IngestLive(ctx, s); err != nil {
					log.WithError(err).Warn("live fix rejected")
				}
			})
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("NMEA feed stopped")
			}
		}()
		sources++
	} else {
		close(feedDone)
	}

	if sources == 0 {
		log.Warn("no sources configured; set DEMO_ROUTE_FILE, REPLAY_TRIP_ID, REPLAY_GPX_FILE or NMEA_SERIAL_PORT")
	}

	go logStatus(ctx, mgr, cfg)

	// Block until context cancelled
	<-ctx.Done()
	<-feedDone
	mgr.Stop()
	log.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (*db.TripStore, func()) {
	dsn := cfg.DatabaseURL
	if cfg.TripsDatabase != "" {
		var err error
		if dsn, err = db.WithDBName(dsn, cfg.TripsDatabase); err != nil {
			log.Fatalf("TRIPS_DATABASE: %v", err)
		}
	}
	conn, err := db.Open(dsn)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := conn.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if cfg.MigrateOnStart {
		if err := conn.MigrateUp(); err != nil {
			log.Fatalf("db migrate error: %v", err)
		}
	}
	if v, dirty, err := conn.MigrateVersion(); err == nil {
		log.WithFields(log.Fields{"db": conn, "schema": v, "dirty": dirty}).Info("trip store ready")
	}
	return db.NewTripStore(conn), func() { conn.Close() }
}

func runCommand(ctx context.Context, store *db.TripStore, args []string) error {
	switch args[0] {
	case "trips":
		trips, err := store.ListTrips(ctx, 0)
		if err != nil {
			return err
		}
		for _, t := range trips {
			ended := "recording"
			if t.Finished() {
				ended = t.EndedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s\t%d pts\t%.0f m\n",
				t.ID, t.Source, t.Name, t.StartedAt.Format(time.RFC3339), ended, t.PointCount, t.DistanceMeters)
		}
		return nil
	case "export":
		if len(args) != 3 {
			return fmt.Errorf("usage: export <trip-id> <file.gpx|file.geojson>")
		}
		return exportTrip(ctx, store, args[1], args[2])
	default:
		return fmt.Errorf("unknown command %q (valid: trips, export)", args[0])
	}
}

func exportTrip(ctx context.Context, store *db.TripStore, tripID, path string) error {
	trip, points, err := store.LoadTrip(ctx, tripID)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpx":
		err = trackio.WriteGPX(f, trip.Name, points)
	case ".geojson", ".json":
		coords := make([]track.Coordinate, len(points))
		for i, p := range points {
			coords[i] = p.Coordinate()
		}
		if len(coords) == 0 {
			return trackio.ErrEmptyTrack
		}
		// A recorded trip becomes a one-segment route that can be driven again.
		err = trackio.WriteRoute(f, trackio.Route{
			Name: trip.Name,
			Segments: []track.RouteSegment{{
				Coordinates:    coords,
				DistanceMeters: trip.DistanceMeters,
				RoadType:       track.Local,
			}},
		})
	default:
		return fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"trip": tripID, "file": path, "points": len(points)}).Info("trip exported")
	return f.Close()
}

func logStatus(ctx context.Context, mgr *sim.Manager, cfg *config.Config) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, id := range mgr.Active() {
			snap, ok := mgr.Snapshot(id)
			if !ok {
				continue
			}
			log.WithFields(log.Fields{
				"trip":     id,
				"source":   snap.Source,
				"progress": fmt.Sprintf("%.1f%%", snap.Progress),
				"distance": fmt.Sprintf("%.0fm", snap.DistanceMeters),
				"speed":    fmt.Sprintf("%.1f %s", snap.CurrentSpeed, cfg.SpeedUnit),
				"avg":      fmt.Sprintf("%.1f %s", snap.AverageSpeed, cfg.SpeedUnit),
			}).Info("trip status")
		}
	}
}

// The collector is optional; these keep a nil *Collector out of the
// interfaces so components skip instrumentation.

func publisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func managerMetrics(c *metrics.Collector) sim.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func feedMetrics(c *metrics.Collector) feed.Metrics {
	if c == nil {
		return nil
	}
	return c
}
