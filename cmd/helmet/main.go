package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/detector"
	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/inference/providers"
	"github.com/nvr-ai/go-helmet/metrics"
	"github.com/nvr-ai/go-helmet/profiler"
	"github.com/nvr-ai/go-helmet/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

const (
	// DefaultConfigPath is read when -c is not given.
	DefaultConfigPath = "config/helmet.yaml"
	// DefaultSnapshotWidth is the alarm thumbnail width in pixels.
	DefaultSnapshotWidth = 640
	// DefaultOutputFPS is used when the input does not report a frame rate.
	DefaultOutputFPS = 25.0
)

func main() {
	var (
		configPath     string
		inputNames     string
		outputNames    string
		modelPath      string
		videoPath      string
		outPath        string
		snapshotDir    string
		snapshotFormat string
		metricsAddr    string
		backendName    string
		warmup         int
		verbose        bool
	)
	flag.StringVar(&configPath, "c", DefaultConfigPath, "Path to the YAML configuration")
	flag.StringVar(&inputNames, "i", "", "Engine input tensor names, separated by ';' or ','")
	flag.StringVar(&outputNames, "o", "", "Engine output tensor names, separated by ';' or ','")
	flag.StringVar(&modelPath, "m", "", "Path to the model artifact")
	flag.StringVar(&videoPath, "v", "", "Video file or directory of numbered frames")
	flag.StringVar(&outPath, "out", "", "Annotated output video (default: <input>.result.mp4)")
	flag.StringVar(&snapshotDir, "snapshots", "", "Directory for alarm snapshots (disabled when empty)")
	flag.StringVar(&snapshotFormat, "snapshot-format", string(images.FormatJPEG), "Snapshot format: jpeg, webp or png")
	flag.StringVar(&metricsAddr, "metrics", "", "Listen address for /metrics and /healthz (disabled when empty)")
	flag.StringVar(&backendName, "backend", "", "Execution provider: cpu, cuda, tensorrt or openvino")
	flag.IntVar(&warmup, "warmup", -1, "Warmup inferences (default: from configuration)")
	flag.BoolVar(&verbose, "verbose", false, "Log at debug level")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "helmet")

	if videoPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	config.LoadDotEnv(".env")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	cfg.ApplyEnv()
	if names := config.SplitNames(inputNames); len(names) > 0 {
		cfg.Model.InputNames = names
	}
	if names := config.SplitNames(outputNames); len(names) > 0 {
		cfg.Model.OutputNames = names
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if backendName != "" {
		cfg.Model.Backend = backendName
	}
	if warmup >= 0 {
		cfg.Pipeline.Warmup = warmup
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options{
		video:          videoPath,
		out:            outPath,
		snapshotDir:    snapshotDir,
		snapshotFormat: snapshotFormat,
		metricsAddr:    metricsAddr,
	}, log); err != nil {
		log.WithError(err).Fatal("helmet detection failed")
	}
}

type options struct {
	video          string
	out            string
	snapshotDir    string
	snapshotFormat string
	metricsAddr    string
}

// source is a frame source that can report its frame rate and be closed.
type source interface {
	detector.Source
	Close() error
}

func openSource(path string) (source, float64, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		dir, err := util.OpenFrameDir(path)
		if err != nil {
			return nil, 0, err
		}
		return dir, DefaultOutputFPS, nil
	}

	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, 0, err
	}
	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = DefaultOutputFPS
	}
	return capture, fps, nil
}

// primed replays the frame read to size the detector before reading on.
type primed struct {
	first gocv.Mat
	done  bool
	src   detector.Source
}

func (p *primed) Read(m *gocv.Mat) bool {
	if !p.done {
		p.done = true
		p.first.CopyTo(m)
		return true
	}
	return p.src.Read(m)
}

func defaultOutput(input string) string {
	base := strings.TrimSuffix(filepath.Base(filepath.Clean(input)), filepath.Ext(input))
	return filepath.Join(filepath.Dir(filepath.Clean(input)), base+".result.mp4")
}

func run(ctx context.Context, cfg *config.Config, opts options, log *logrus.Entry) error {
	backendOpts, err := providers.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	backend, err := providers.NewBackend(backendOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.WithError(err).Warn("close backend")
		}
	}()

	m := metrics.New()
	timer := profiler.NewStageTimer(profiler.Options{Verbose: cfg.Pipeline.Timing})
	timer.AddObserver(m)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, m, log)
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	src, fps, err := openSource(opts.video)
	if err != nil {
		return err
	}
	defer src.Close()

	first := gocv.NewMat()
	defer first.Close()
	if !src.Read(&first) || first.Empty() {
		return errors.New("input has no frames")
	}

	d, err := detector.NewBuilder().
		WithConfig(cfg).
		WithBackend(backend).
		WithStageTimer(timer).
		WithFrame(first).
		Build()
	if err != nil {
		return err
	}
	defer d.Close()

	if n := cfg.Pipeline.Warmup; n > 0 {
		if err := d.Warmup(n); err != nil {
			return err
		}
	}

	out := opts.out
	if out == "" {
		out = defaultOutput(opts.video)
	}
	writer, err := gocv.VideoWriterFile(out, "mp4v", fps, first.Cols(), first.Rows(), true)
	if err != nil {
		return err
	}
	defer writer.Close()

	runner := &detector.Runner{
		Stream:   strings.TrimSuffix(filepath.Base(opts.video), filepath.Ext(opts.video)),
		Detector: d,
		Source:   &primed{first: first, src: src},
		Sink:     writer,
		Recorder: m,
		Log:      log,
	}
	if opts.snapshotDir != "" {
		format, err := images.ParseFormat(opts.snapshotFormat)
		if err != nil {
			return err
		}
		runner.OnAlarm = detector.SnapshotOnAlarm(images.SnapshotOptions{
			Dir:    opts.snapshotDir,
			Width:  DefaultSnapshotWidth,
			Format: format,
		}, log)
	}

	stats, err := runner.Run(ctx)
	if cfg.Pipeline.Timing {
		timer.Report()
	}
	log.WithFields(logrus.Fields{
		"output":  out,
		"frames":  stats.Frames,
		"alarms":  stats.Alarms,
		"elapsed": stats.Elapsed.Truncate(time.Millisecond),
	}).Info("finished")
	return err
}

func serveMetrics(addr string, m *metrics.Metrics, log *logrus.Entry) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}
