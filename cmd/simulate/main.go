package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-cmcd/internal/cmcd"
	"hls-cmcd/internal/platform/config"
	"hls-cmcd/internal/platform/logger"
	"hls-cmcd/internal/platform/metrics"
)

const (
	segmentDuration  = 4.0
	initialBandwidth = 6_000_000
	requestTimeout   = 5 * time.Second
)

func main() {
	_ = config.Load()

	var cfg config.SimulateConfig
	var cmcdCfg cmcd.Config
	for _, target := range []any{&cfg, &cmcdCfg} {
		if err := config.ParseEnv(target); err != nil {
			logger.New("error", "text").Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if !cmcdCfg.Enabled {
		log.Warn("CMCD_ENABLED is false, requests will not carry CMCD data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := newSimulator(cfg, cmcdCfg, log, metrics.New())
	if err != nil {
		log.Error("simulator setup failed", "error", err)
		os.Exit(1)
	}
	if err := sim.run(ctx); err != nil {
		log.Error("simulation failed", "sid", sim.manager.SessionID(), "error", err)
		os.Exit(1)
	}
	log.Info("simulation finished", "sid", sim.manager.SessionID(), "segments", cfg.Segments)
}

// simulator plays a VOD stream from the collector's media root, sending
// every request through cmcd.Transport.
type simulator struct {
	cfg     config.SimulateConfig
	base    *url.URL
	client  *http.Client
	manager *cmcd.Manager
	player  *scriptedPlayer
	log     *slog.Logger
}

func newSimulator(cfg config.SimulateConfig, cmcdCfg cmcd.Config, log *slog.Logger, met *metrics.Metrics) (*simulator, error) {
	base, err := url.Parse(cfg.CollectorURL)
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}

	player := newScriptedPlayer(segmentDuration, initialBandwidth)
	manager := cmcd.NewManager(player, cmcdCfg,
		cmcd.WithLogger(log),
		cmcd.WithMetrics(met),
		cmcd.WithErrorHandler(func(category string, err error) {
			log.Debug("cmcd field skipped", "category", category, "error", err)
		}),
	)

	return &simulator{
		cfg:     cfg,
		base:    base,
		client:  &http.Client{Transport: &cmcd.Transport{Manager: manager}, Timeout: requestTimeout},
		manager: manager,
		player:  player,
		log:     log,
	}, nil
}

func (s *simulator) run(ctx context.Context) error {
	if err := s.fetch(ctx, "master.m3u8", cmcd.RequestTypeManifest,
		&cmcd.RequestContext{Type: cmcd.AdvancedRequestTypeMasterPlaylist}); err != nil {
		return err
	}
	for _, kind := range []string{cmcd.MediaKindVideo, cmcd.MediaKindAudio} {
		if err := s.fetch(ctx, kind+"/playlist.m3u8", cmcd.RequestTypeManifest,
			&cmcd.RequestContext{Type: cmcd.AdvancedRequestTypeMediaPlaylist}); err != nil {
			return err
		}
		initSegment := s.player.segment(kind, 0)
		initSegment.Type = cmcd.AdvancedRequestTypeInitSegment
		initSegment.Segment = nil
		if err := s.fetch(ctx, kind+"/init.mp4", cmcd.RequestTypeSegment, initSegment); err != nil {
			return err
		}
	}

	for i := 0; i < s.cfg.Segments; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stalled := i > 0 && i == s.cfg.StallAt
		if stalled {
			s.player.drain()
			s.player.setBandwidth(initialBandwidth / 4)
			s.manager.SetBuffering(true)
			s.log.Info("simulated stall", "segment", i)
		}

		for _, kind := range []string{cmcd.MediaKindVideo, cmcd.MediaKindAudio} {
			path := fmt.Sprintf("%s/%d.m4s", kind, i)
			if err := s.fetch(ctx, path, cmcd.RequestTypeSegment, s.player.segment(kind, i)); err != nil {
				return err
			}
			s.player.buffered(kind)
		}

		if i == 0 || stalled {
			s.manager.SetBuffering(false)
			s.player.setBandwidth(initialBandwidth)
		}
		if s.player.play(segmentDuration / 2) {
			s.manager.SetBuffering(true)
			s.manager.SetBuffering(false)
		}
	}

	return s.endSession(ctx)
}

// fetch requests path relative to the media root and discards the body.
func (s *simulator) fetch(ctx context.Context, path string, t cmcd.RequestType, rc *cmcd.RequestContext) error {
	u := s.base.JoinPath(path)
	req, err := http.NewRequestWithContext(cmcd.WithRequestInfo(ctx, t, rc), http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	s.log.Debug("fetched", "path", path, "status", resp.StatusCode)
	return nil
}

// endSession tells the collector the session is over. It is skipped when no
// CMCD data was sent.
func (s *simulator) endSession(ctx context.Context) error {
	sid := s.manager.SessionID()
	if sid == "" {
		return nil
	}

	u := *s.base
	u.RawQuery = ""
	u.Path = "/sessions/" + url.PathEscape(sid) + "/end"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build end request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("end session: unexpected status %d", resp.StatusCode)
	}
	return nil
}
