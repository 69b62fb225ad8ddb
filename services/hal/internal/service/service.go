package service

import (
	"context"
	"errors"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/errcode"
	"dhtcode-go/services/hal/internal/consts"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/registry"
	"dhtcode-go/services/hal/internal/util"
	"dhtcode-go/services/hal/internal/worker"
	"dhtcode-go/types"
	"dhtcode-go/x/timex"
)

const (
	minPeriod  = 200 * time.Millisecond
	maxPeriod  = time.Hour
	firstDelay = 200 * time.Millisecond
)

type devEntry struct {
	adaptor halcore.Adaptor
	caps    map[string]int // kind -> numeric capability id
	busID   string
}

type capKey struct {
	kind string
	id   int
}

type Service struct {
	conn *bus.Connection
	pf   halcore.Platform

	workers map[string]*worker.MeasureWorker // busID -> worker
	wcfg    halcore.WorkerConfig
	results chan halcore.Result

	devices   map[string]devEntry
	capToDev  map[capKey]string // (kind,id) -> devID
	nextCapID map[string]int

	devPeriod  map[string]time.Duration
	devNextDue map[string]time.Time

	timer *time.Timer
}

var (
	topicConfigHAL = bus.T(consts.TokConfig, consts.TokHAL)
	topicCtrl      = bus.T(consts.TokHAL, consts.TokCapability, bus.Single, bus.Single, consts.TokControl, bus.Single)
	topicHALState  = bus.T(consts.TokHAL, consts.TokState)
)

func New(conn *bus.Connection, pf halcore.Platform) *Service {
	return &Service{
		conn:       conn,
		pf:         pf,
		workers:    map[string]*worker.MeasureWorker{},
		results:    make(chan halcore.Result, 64),
		devices:    map[string]devEntry{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		devPeriod:  map[string]time.Duration{},
		devNextDue: map[string]time.Time{},
	}
}

// WithWorkerConfig overrides worker timings. Call before Run.
func (s *Service) WithWorkerConfig(c halcore.WorkerConfig) *Service {
	s.wcfg = c
	return s
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState("idle", "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}

	for {
		if next := s.earliestDevDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.publishState("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HALConfig)
			if !ok {
				s.publishState("error", "config_wrong_type", nil)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState("ready", "configured_with_errors", err)
				continue
			}
			s.publishState("ready", "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

// hal/capability/<kind>/<id>/control/<verb>
func (s *Service) handleControl(msg *bus.Message) {
	if len(msg.Topic) != 6 {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	kind, _ := msg.Topic[2].(string)
	idNum, ok := util.AsInt(msg.Topic[3])
	if !ok || kind == "" {
		s.replyErr(msg, errcode.InvalidTopic)
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, errcode.UnknownCapability)
		return
	}
	method, _ := msg.Topic[5].(string)

	switch method {
	case consts.CtrlReadNow:
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.conn.Reply(msg, types.ReadNowAck{OK: true}, false)
		} else {
			s.replyErr(msg, errcode.Busy)
		}
	case consts.CtrlSetRate:
		p, ok := decodeSetRate(msg.Payload)
		if !ok || p <= 0 {
			s.replyErr(msg, errcode.InvalidPeriod)
			return
		}
		s.devPeriod[devID] = util.ClampDuration(p, minPeriod, maxPeriod)
		s.bumpDevNext(devID, time.Now())
		s.conn.Reply(msg, types.SetRateAck{OK: true, Period: s.devPeriod[devID]}, false)
	default:
		ent := s.devices[devID]
		if ent.adaptor == nil {
			s.replyErr(msg, errcode.NoAdaptor)
			return
		}
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		switch {
		case err == nil:
			s.conn.Reply(msg, res, false)
		case errors.Is(err, halcore.ErrUnsupported):
			s.replyErr(msg, errcode.Unsupported)
		default:
			s.replyErr(msg, errcode.Of(err))
		}
	}
}

// decodeSetRate accepts types.SetRate or a JSON-like {"period_ms": n}.
func decodeSetRate(p any) (time.Duration, bool) {
	if sr, ok := p.(types.SetRate); ok {
		return sr.Period, true
	}
	var m struct {
		PeriodMS int `json:"period_ms"`
	}
	if p == nil || util.DecodeJSON(p, &m) != nil {
		return 0, false
	}
	return time.Duration(m.PeriodMS) * time.Millisecond, true
}

func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var errs []error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		if _, exists := s.devices[d.ID]; exists {
			continue
		}

		b, ok := registry.Lookup(d.Type)
		if !ok {
			errs = append(errs, &errcode.E{C: errcode.UnknownDevice, Op: "build", Msg: d.ID})
			continue
		}
		out, err := b.Build(registry.BuildInput{
			Ctx:        ctx,
			Platform:   s.pf,
			DeviceID:   d.ID,
			Type:       d.Type,
			ParamsJSON: d.Params,
		})
		if err != nil {
			errs = append(errs, &errcode.E{C: errcode.Of(err), Op: "build", Msg: d.ID, Err: err})
			continue
		}

		if _, ok := s.workers[out.BusID]; !ok {
			w := worker.New(s.wcfg, s.results)
			w.Start(ctx)
			s.workers[out.BusID] = w
		}

		ad := out.Adaptor
		entry := devEntry{adaptor: ad, busID: out.BusID, caps: map[string]int{}}
		now := time.Now()
		for _, ci := range ad.Capabilities() {
			id := s.nextCapID[ci.Kind]
			s.nextCapID[ci.Kind]++

			entry.caps[ci.Kind] = id
			s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

			s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
			s.pubRet(ci.Kind, id, consts.TokState,
				types.CapabilityState{Link: types.LinkUp, TS: now.UnixMilli()})
		}
		s.devices[d.ID] = entry

		if out.SampleEvery > 0 {
			s.devPeriod[d.ID] = util.ClampDuration(out.SampleEvery, minPeriod, maxPeriod)
			// First reading shortly after configuration.
			s.devNextDue[d.ID] = now.Add(firstDelay)
		}
	}

	// Tidy-up devices not in config
	for devID, ent := range s.devices {
		if _, ok := seen[devID]; ok {
			continue
		}
		now := timex.NowMs()
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokInfo, nil)
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: now})
			delete(s.capToDev, capKey{kind: kind, id: id})
		}
		delete(s.devices, devID)
		delete(s.devPeriod, devID)
		delete(s.devNextDue, devID)
	}
	return errors.Join(errs...)
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *Service) bumpDevNext(devID string, from time.Time) {
	period, ok := s.devPeriod[devID]
	if !ok {
		return
	}
	s.devNextDue[devID] = from.Add(util.ClampDuration(period, minPeriod, maxPeriod))
}

func (s *Service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

// ---- results ----

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := timex.NowMs()

	if r.Err != nil {
		code := string(errcode.Of(r.Err))
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{
				Link:  types.LinkDegraded,
				TS:    now,
				Error: code,
			})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(capTopic(rd.Kind, id, consts.TokValue), rd.Payload, false))
		s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
}

// ---- bus helpers ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: timex.NowMs()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(topicHALState, pl, true))
}

func (s *Service) replyErr(req *bus.Message, code errcode.Code) {
	if code == "" {
		code = errcode.Error
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: string(code)}, false)
}

func capTopic(kind string, id int, suffix string) bus.Topic {
	return bus.T(consts.TokHAL, consts.TokCapability, kind, id, suffix)
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopic(kind, id, suffix), p, true))
}
