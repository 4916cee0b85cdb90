package measurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"broadband-tester/pkg/directory"
	"broadband-tester/pkg/ipinfo"
	"broadband-tester/pkg/models"
	"broadband-tester/pkg/prober"
	"broadband-tester/pkg/selector"
	"broadband-tester/pkg/throughput"
)

// ErrCancelled indicates the run was cut short by cancellation or the
// overall deadline.
var ErrCancelled = errors.New("measurement cancelled")

// State is one stage of the orchestrated run.
type State string

const (
	StateIdle              State = "idle"
	StateDiscovering       State = "discovering"
	StateProbing           State = "probing"
	StateSelecting         State = "selecting"
	StateMeasuringDownload State = "measuring_download"
	StateMeasuringUpload   State = "measuring_upload"
	StateAggregating       State = "aggregating"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// ProgressFunc receives stage-progress diagnostics during a run.
type ProgressFunc func(state State, message string)

// Config holds every tunable of one run. All values have working defaults;
// nothing inside the engine is a hardcoded magic number.
type Config struct {
	DirectoryURL     string
	DirectoryTimeout time.Duration
	IdentityURL      string
	IdentityToken    string
	Probe            prober.Config
	Throughput       throughput.Config
	// OverallTimeout bounds the whole run; it is the single source of
	// truth for run cancellation. Zero means no engine-imposed bound.
	OverallTimeout time.Duration
}

// Service orchestrates one measurement run: discover, probe, select,
// measure download, measure upload, aggregate. It is explicitly constructed
// with no ambient state, so independent runs never interfere.
type Service struct {
	cfg      Config
	dialer   transport.StreamDialer
	logger   *slog.Logger
	progress ProgressFunc

	mu    sync.Mutex
	state State
	ran   bool
}

// NewService builds an orchestrator. A nil dialer means direct TCP.
func NewService(dialer transport.StreamDialer, cfg Config, logger *slog.Logger) *Service {
	if dialer == nil {
		dialer = &transport.TCPDialer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, dialer: dialer, logger: logger, state: StateIdle}
}

// OnProgress registers a stage-progress callback. Must be called before Run.
func (s *Service) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// State returns the current stage of the run.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes the full state machine and produces exactly one immutable
// MeasurementResult. Any stage failure, or cancellation at any point, moves
// the machine to Failed carrying the originating error.
func (s *Service) Run(ctx context.Context) (*models.MeasurementResult, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: service already ran; construct a new one per run", ErrInvalidArgument)
	}
	s.ran = true
	s.mu.Unlock()

	if s.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OverallTimeout)
		defer cancel()
	}

	s.transition(StateDiscovering, "fetching server directory")
	dir := directory.NewClient(s.cfg.DirectoryURL, s.cfg.DirectoryTimeout, s.logger)
	servers, err := dir.FetchServers(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	client := s.lookupIdentity(ctx)
	servers = directory.WithDistances(servers, client.Lat, client.Lon)

	s.transition(StateProbing, fmt.Sprintf("probing %d candidate servers", len(servers)))
	statsBy := prober.New(s.dialer, s.cfg.Probe, s.logger).ProbeAll(ctx, servers)
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, err)
	}

	s.transition(StateSelecting, "selecting best server")
	best, err := selector.Select(servers, statsBy)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	s.logger.Info("selected server",
		"name", best.Name,
		"host", best.Host,
		"avgMs", statsBy[best.ID].AvgMs,
		"distanceKM", best.DistanceKM)

	measurer := throughput.New(s.dialer, s.cfg.Throughput, s.logger)
	if s.progress != nil {
		measurer.OnProgress(func(direction models.Direction, mbps float64) {
			s.progress(s.State(), fmt.Sprintf("%s: %.2f Mbps", direction, mbps))
		})
	}

	s.transition(StateMeasuringDownload, "measuring download speed")
	download, err := measurer.Measure(ctx, best, models.DirectionDownload)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	s.transition(StateMeasuringUpload, "measuring upload speed")
	upload, err := measurer.Measure(ctx, best, models.DirectionUpload)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	s.transition(StateAggregating, "aggregating result")
	result, err := Aggregate(best, statsBy[best.ID], download, upload, client, time.Now())
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	s.transition(StateDone, "measurement complete")
	return result, nil
}

// lookupIdentity fetches the client identity fields. The identity is data
// attached to the result, not a stage: a failed lookup degrades the fields
// to empty strings and the run carries on.
func (s *Service) lookupIdentity(ctx context.Context) models.ClientInfo {
	info, err := ipinfo.NewClient(s.cfg.IdentityURL, s.cfg.IdentityToken).Lookup(ctx)
	if err != nil {
		s.logger.Warn("client identity lookup failed", "error", err)
		return models.ClientInfo{}
	}
	s.logger.Debug("client identity", "ip", info.IP, "isp", info.ISP, "country", info.Country)
	return info
}

func (s *Service) transition(state State, message string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("stage", "state", state)
	if s.progress != nil {
		s.progress(state, message)
	}
}

// fail moves the machine to Failed. Context errors, wherever they surfaced,
// are reported as cancellation.
func (s *Service) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
	}
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	s.logger.Error("run failed", "error", err)
	return err
}
