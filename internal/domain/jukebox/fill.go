package jukebox

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-jukebox/internal/domain/candidates"
	"github.com/edumarques81/stellar-jukebox/internal/domain/song"
	"github.com/edumarques81/stellar-jukebox/internal/infra/retry"
	"github.com/edumarques81/stellar-jukebox/internal/infra/worker"
)

// startFill submits a background fill topping q up to its target. The
// result comes back to the engine goroutine as a fillDoneMsg.
func (e *Engine) startFill(q *candidates.Queue, kind candidates.Kind, manual *manualMsg) {
	if time.Now().Before(e.nextFillAt) && manual == nil {
		return
	}

	constraints, err := e.settings.Constraints()
	if err != nil {
		e.failManualOrAuto(manual, err)
		return
	}

	pending := e.auto.Items()
	if q != e.auto {
		pending = append(pending, q.Items()...)
	}
	var recent map[string]struct{}
	if e.cfg.History != nil {
		recent = e.cfg.History.URIs()
	}

	req := candidates.Request{
		Source:      e.settings.Source(),
		Kind:        kind,
		Count:       q.Deficit(),
		Constraints: constraints,
		Exclude:     candidates.Exclusions{History: recent, Pending: pending},
	}
	if req.Count == 0 {
		return
	}

	taskKind := worker.KindJukeboxFill
	if manual != nil {
		taskKind = worker.KindManualFill
	}
	generation := e.generation

	_, err = e.cfg.Submitter.Submit(worker.Task{
		Kind:      taskKind,
		Partition: e.cfg.Partition,
		Run: func(ctx context.Context) error {
			start := time.Now()
			res, relaxed, err := e.runFill(ctx, req)
			msg := fillDoneMsg{
				queue:      q,
				kind:       kind,
				manual:     manual,
				res:        res,
				relaxed:    relaxed,
				err:        err,
				elapsed:    time.Since(start),
				generation: generation,
			}
			select {
			case e.inbox <- msg:
			case <-e.done:
			case <-ctx.Done():
			}
			return err
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to schedule jukebox fill")
		if manual != nil {
			manual.reply <- manualReply{err: err}
		}
		return
	}

	e.setState(StateFilling)
	log.Debug().
		Str("partition", e.cfg.Partition).
		Str("kind", string(kind)).
		Int("count", req.Count).
		Bool("manual", manual != nil).
		Msg("Jukebox fill scheduled")
}

// runFill executes on a worker. Protocol errors are retried; a shortfall
// under a uniqueness constraint is retried once without it.
func (e *Engine) runFill(ctx context.Context, req candidates.Request) (candidates.Result, bool, error) {
	res, err := e.fillWithRetry(ctx, req)
	if err != nil || !res.Shortfall || req.Constraints.UniqueTag == song.TagNone {
		return res, false, err
	}

	relaxedReq := req
	relaxedReq.Constraints.UniqueTag = song.TagNone
	relaxed, err := e.fillWithRetry(ctx, relaxedReq)
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Relaxed jukebox fill failed, keeping partial result")
		return res, false, nil
	}
	if len(relaxed.Candidates) > len(res.Candidates) {
		return relaxed, true, nil
	}
	return res, false, nil
}

func (e *Engine) fillWithRetry(ctx context.Context, req candidates.Request) (candidates.Result, error) {
	var res candidates.Result
	err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		queue, err := e.cfg.Player.Queue(ctx)
		if err != nil {
			return fmt.Errorf("%w: read queue: %w", candidates.ErrProtocol, err)
		}
		req.Exclude.Queue = queue
		res, err = e.cfg.Filler.Fill(ctx, req)
		return err
	})
	return res, err
}

func (e *Engine) fillDone(ctx context.Context, m fillDoneMsg) {
	e.lastFill = time.Now()
	if e.cfg.Observer != nil {
		e.cfg.Observer.FillFinished(e.cfg.Partition, m.kind, m.res, m.err, m.elapsed)
	}

	if m.manual != nil {
		e.manualDone(ctx, m)
	} else {
		e.autoDone(ctx, m)
	}

	if len(e.manualWait) > 0 && e.state != StateFilling {
		next := e.manualWait[0]
		e.manualWait = e.manualWait[1:]
		e.startManual(ctx, next)
	}
}

func (e *Engine) autoDone(ctx context.Context, m fillDoneMsg) {
	if m.generation != e.generation {
		e.setState(e.settledState())
		if m.err != nil {
			log.Warn().Err(m.err).Str("partition", e.cfg.Partition).Msg("Fill for outdated settings failed, ignoring")
		} else {
			log.Debug().Str("partition", e.cfg.Partition).Msg("Discarding fill for outdated settings")
		}
		e.tick(ctx)
		return
	}
	if m.err != nil {
		e.fail(m.err)
		return
	}
	e.setState(e.settledState())

	e.auto.Push(m.res.Candidates...)
	e.pendingChanged()
	if m.res.Shortfall {
		e.nextFillAt = time.Now().Add(e.cfg.TickInterval)
		log.Warn().
			Str("partition", e.cfg.Partition).
			Int("selected", len(m.res.Candidates)).
			Int("seen", m.res.Seen).
			Msg("Jukebox found fewer candidates than requested")
	}
	if m.relaxed {
		e.warn("Not enough unique candidates, uniqueness constraint relaxed")
	}

	e.retick = false
	moved, err := e.moveToLive(ctx, e.auto, e.settings.QueueLength)
	if err != nil {
		log.Warn().Err(err).Str("partition", e.cfg.Partition).Msg("Failed to top up the play queue")
		return
	}
	if moved > 0 {
		e.pendingChanged()
		e.autoplay(ctx)
	}
}

func (e *Engine) manualDone(ctx context.Context, m fillDoneMsg) {
	e.setState(e.settledState())

	if m.err != nil {
		log.Warn().Err(m.err).Str("partition", e.cfg.Partition).Msg("Manual jukebox fill failed")
		m.manual.reply <- manualReply{err: m.err}
		e.afterFill(ctx)
		return
	}

	m.queue.Push(m.res.Candidates...)
	if m.relaxed {
		e.warn("Not enough unique candidates, uniqueness constraint relaxed")
	}
	added, moveErr := e.moveToLive(ctx, m.queue, math.MaxInt)
	if added > 0 {
		e.autoplay(ctx)
	}
	m.manual.reply <- manualReply{added: added, err: moveErr}
	e.afterFill(ctx)
}

// settledState is the state an engine returns to after a fill.
func (e *Engine) settledState() State {
	if e.lastErr != "" {
		return StateError
	}
	return e.restingState()
}

// afterFill runs a tick deferred while the fill was in flight.
func (e *Engine) afterFill(ctx context.Context) {
	if e.retick {
		e.retick = false
		e.tick(ctx)
	}
}

// fail puts the engine into the error state and disables it until it is
// reconfigured.
func (e *Engine) fail(cause error) {
	e.lastErr = cause.Error()
	e.settings.Mode = ModeOff
	e.retick = false
	e.setState(StateError)

	log.Error().Err(cause).Str("partition", e.cfg.Partition).Msg("Jukebox fill failed, jukebox disabled")
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.JukeboxError(e.cfg.Partition, cause.Error())
	}
}

func (e *Engine) failManualOrAuto(manual *manualMsg, cause error) {
	if manual != nil {
		manual.reply <- manualReply{err: cause}
		return
	}
	e.fail(cause)
}

func (e *Engine) warn(message string) {
	log.Warn().Str("partition", e.cfg.Partition).Msg(message)
	if e.cfg.Notifier != nil {
		e.cfg.Notifier.JukeboxWarning(e.cfg.Partition, message)
	}
}

func (e *Engine) startManual(_ context.Context, m manualMsg) {
	if e.state == StateFilling {
		e.manualWait = append(e.manualWait, m)
		return
	}
	q := candidates.NewQueue(e.cfg.Partition+"/manual", candidates.ManualPolicy(m.count))
	e.startFill(q, e.settings.Mode.Kind(), &m)
}
