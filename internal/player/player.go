// Package player drives the Stopped/Playing/Paused state machine that
// streams records out of a log file and republishes them on their
// original topics, honoring a configurable playback rate.
package player

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openbag/openbag/internal/config"
	openbagerrors "github.com/openbag/openbag/internal/errors"
	"github.com/openbag/openbag/internal/logging"
	"github.com/openbag/openbag/internal/logstore"
	"github.com/openbag/openbag/transport"
)

// tracerName names the OpenTelemetry tracer used for per-record publish
// spans, following the teacher's "events-service-tracer" convention.
const tracerName = "openbag-player-tracer"

// State is one of the player's three lifecycle states.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Player streams records from a log file back onto the bus. See spec
// §4.5 for the state machine, playback loop, and rate semantics this
// implements.
type Player struct {
	mu    sync.Mutex
	state State

	cfg     config.PlayerConfig
	factory transport.Factory
	log     logging.Logger
	metrics *Metrics

	reader      *logstore.Reader
	publishers  map[string]transport.Publisher // by topic
	playbackRate float64

	playedMessages atomic.Uint64

	running    atomic.Bool
	stopped    atomic.Bool // true once Stop has torn down the reader/factory
	pauseCond  *sync.Cond
	playerDone sync.WaitGroup
}

// New creates a Player. cfg.PlaybackRate is normalized once here: zero is
// preserved ("as fast as possible"); only strictly negative values are
// clamped to 1.0. Nothing downstream re-clamps.
func New(cfg config.PlayerConfig, factory transport.Factory, log logging.Logger, metrics *Metrics) *Player {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	p := &Player{
		cfg:          cfg,
		factory:      factory,
		log:          log,
		metrics:      metrics,
		publishers:   make(map[string]transport.Publisher),
		playbackRate: normalizeRate(cfg.PlaybackRate),
	}
	p.pauseCond = sync.NewCond(&p.mu)
	return p
}

// normalizeRate implements the spec's resolved rate semantics: 0 means "as
// fast as possible" and is preserved as 0; negative rates clamp to 1.0;
// any positive rate passes through unchanged.
func normalizeRate(rate float64) float64 {
	if rate < 0 {
		return 1.0
	}
	return rate
}

// SetPlaybackRate changes the rate that subsequent inter-record delays
// use. It normalizes through normalizeRate, as New does; the playback loop
// does not re-clamp.
func (p *Player) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playbackRate = normalizeRate(rate)
}

// State returns the player's current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PlayedMessages returns the count of records published since the last
// Start (reset on loop restart).
func (p *Player) PlayedMessages() uint64 { return p.playedMessages.Load() }

// Start opens the log file, creates one bus publisher per channel's
// topic, and spawns the playback goroutine.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return fmt.Errorf("%w: player already started", openbagerrors.ErrConfig)
	}
	if p.cfg.InputPath == "" {
		return fmt.Errorf("%w: no input path configured", openbagerrors.ErrConfig)
	}
	if p.factory == nil {
		return fmt.Errorf("%w: no transport factory", openbagerrors.ErrConfig)
	}

	reader, err := logstore.Open(p.cfg.InputPath)
	if err != nil {
		return err
	}

	publishers := make(map[string]transport.Publisher)
	for _, topic := range reader.Topics() {
		pub, err := p.factory.CreatePublisher(topic)
		if err != nil {
			reader.Close()
			return fmt.Errorf("%w: create publisher for %q: %v", openbagerrors.ErrConfig, topic, err)
		}
		publishers[topic] = pub
	}

	p.reader = reader
	p.publishers = publishers
	p.playedMessages.Store(0)
	p.state = StatePlaying
	p.running.Store(true)
	p.stopped.Store(false)

	p.playerDone.Add(1)
	go p.playLoop()

	return nil
}

// playLoop runs the streaming playback algorithm from spec §4.5. It is
// iterative, not recursive: loop_playback restarts the outer for loop
// rather than calling itself, fixing the unbounded-stack recursion in the
// original source's PlayLoop.
func (p *Player) playLoop() {
	defer p.playerDone.Done()

	ctx := context.Background()

	for {
		if !p.runOnePass(ctx) {
			return
		}

		p.mu.Lock()
		loop := p.cfg.LoopPlayback && p.running.Load()
		if loop {
			p.playedMessages.Store(0)
		}
		p.mu.Unlock()

		if !loop {
			p.mu.Lock()
			p.state = StateStopped
			p.mu.Unlock()
			return
		}
	}
}

// runOnePass streams every record in the reader once. It returns false if
// the player was stopped while still running (caller must not loop), true
// if it reached the end of the file normally.
func (p *Player) runOnePass(ctx context.Context) bool {
	it := p.reader.Messages()

	var lastTs uint64
	first := true

	tracer := otel.Tracer(tracerName)

	for it.Next() {
		if !p.running.Load() {
			return false
		}

		p.mu.Lock()
		for p.state == StatePaused {
			// Sleeping between records is purely inter-record (delta since the
			// last record), so there is no absolute schedule to shift forward
			// after waking: the next delay is computed fresh from lastTs.
			p.pauseCond.Wait()
		}
		running := p.running.Load()
		rate := p.playbackRate
		p.mu.Unlock()

		if !running {
			return false
		}

		rec := it.Record()

		channel, ok := p.reader.ChannelByID(rec.ChannelID)
		if !ok || channel.MessageEncoding != "protobuf" {
			p.metrics.skippedTotal.Inc()
			continue
		}

		if !first && rate > 0 {
			deltaNs := rec.LogTimeNs - lastTs
			sleepMs := float64(deltaNs) / 1e6 / rate
			if sleepMs > 0 {
				time.Sleep(time.Duration(sleepMs * float64(time.Millisecond)))
			}
		}

		pub, ok := p.publishers[channel.Topic]
		if !ok {
			p.metrics.skippedTotal.Inc()
			continue
		}

		spanCtx, span := tracer.Start(ctx, "PublishRecord")
		span.SetAttributes(
			attribute.String("openbag.topic", channel.Topic),
			attribute.Int64("openbag.sequence", int64(rec.Sequence)),
		)
		_ = spanCtx

		if pub.Publish(rec.Data) {
			p.playedMessages.Add(1)
			p.metrics.playedMessagesTotal.WithLabelValues(channel.Topic).Inc()
		} else {
			p.metrics.publishErrorsTotal.WithLabelValues(channel.Topic).Inc()
			p.log.Error("player: publish failed", openbagerrors.ErrPublish, logging.Fields{"topic": channel.Topic})
		}
		span.End()

		lastTs = rec.LogTimeNs
		first = false
	}

	if err := it.Err(); err != nil {
		p.log.Error("player: iteration failed", err, nil)
	}

	return true
}

// Pause suspends the playback loop after its current record; already
// in-flight publishes are not interrupted.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePlaying {
		p.state = StatePaused
	}
}

// Resume reverses Pause and wakes the playback goroutine.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePaused {
		p.state = StatePlaying
		p.pauseCond.Broadcast()
	}
}

// Stop transitions to Stopped from any state — including a playback loop
// that already self-stopped at end of file — waking a paused playback
// goroutine so it can observe the stop and exit, then joins it and tears
// down the reader/factory exactly once.
func (p *Player) Stop() error {
	p.mu.Lock()
	p.state = StateStopped
	p.running.Store(false)
	p.pauseCond.Broadcast()
	p.mu.Unlock()

	p.playerDone.Wait()

	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if p.reader != nil {
		err = p.reader.Close()
	}
	if factErr := p.factory.Close(); factErr != nil && err == nil {
		err = factErr
	}
	return err
}
