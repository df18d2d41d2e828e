// Command isovox extracts the isosurface of a scalar field and saves it
// as a binary STL file.
//
// The field and extraction parameters are read from a YAML job file. When
// no job file is given a unit sphere is meshed. Flags override the job:
//
//	isovox -job torus.yaml -output torus.stl -check
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/soypat/isovox/internal/config"
	"github.com/soypat/isovox/render"
)

func main() {
	var (
		jobPath    string
		outputPath string
		iso        float64
		workers    int
		logLevel   string
		check      bool
	)
	flag.StringVar(&jobPath, "job", "", "YAML job file")
	flag.StringVar(&outputPath, "output", "", "output STL file, overrides job")
	flag.Float64Var(&iso, "iso", 0, "isovalue, overrides job")
	flag.IntVar(&workers, "workers", 0, "number of worker goroutines, overrides job")
	flag.StringVar(&logLevel, "log", "", "log level (debug, info, warn, error), overrides job")
	flag.BoolVar(&check, "check", false, "report mesh topology problems")
	flag.Parse()

	job := config.Default()
	if jobPath != "" {
		var err error
		job, err = config.Load(jobPath)
		if err != nil {
			fatal(slog.Default(), "loading job", err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			job.Output = outputPath
		case "iso":
			job.Iso = float32(iso)
		case "workers":
			job.Workers = workers
		case "log":
			job.LogLevel = logLevel
		}
	})
	level, err := job.Level()
	if err != nil {
		fatal(slog.Default(), "bad log level", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	render.SetLogger(log)

	if err := run(log, job, check); err != nil {
		if errors.Is(err, render.ErrCanceled) {
			log.Warn("interrupted", slog.String("err", err.Error()))
			os.Exit(130)
		}
		fatal(log, "extraction failed", err)
	}
}

func run(log *slog.Logger, job config.Job, check bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	field, err := job.Source.Field()
	if err != nil {
		return err
	}
	params := job.Params()
	var lastTenth int
	params.Progress = func(fraction float32) bool {
		if tenth := int(fraction * 10); tenth > lastTenth {
			lastTenth = tenth
			log.Info("progress", slog.Int("percent", tenth*10))
		}
		return true
	}

	start := time.Now()
	mesh, err := render.MarchingCubesContext(ctx, field, params)
	if err != nil {
		return err
	}
	log.Info("meshed",
		slog.Int("vertices", len(mesh.Vertices)),
		slog.Int("triangles", len(mesh.Faces)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if len(mesh.Faces) == 0 {
		log.Warn("empty mesh, nothing written", slog.Float64("iso", float64(params.Iso)))
		return nil
	}
	if check {
		vs := field.Grid().VoxelSize
		tol := 1e-6 * min(vs.X, vs.Y, vs.Z)
		log.Info("topology",
			slog.Bool("closed", mesh.IsClosed()),
			slog.Int("boundary_edges", mesh.BoundaryEdges()),
			slog.Int("non_manifold_edges", mesh.NonManifoldEdges()),
			slog.Int("coincident_vertices", len(render.CoincidentVertices(mesh, tol))),
			slog.Float64("volume", mesh.Volume()),
			slog.Float64("area", mesh.Area()),
		)
	}
	if err := render.CreateSTL(job.Output, render.NewMeshRenderer(mesh)); err != nil {
		return err
	}
	log.Info("wrote", slog.String("path", job.Output))
	return nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, slog.String("err", err.Error()))
	os.Exit(1)
}
