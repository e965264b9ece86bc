package service

import (
	"sync"
	"sync/atomic"
	"time"
)

// State — разделяемое состояние процесса для /readyz и /healthz.
// Пишут: bootstrap (прогрев), okx_websocket (стримы), runner (тики).
type State struct {
	startedAt time.Time
	now       func() time.Time

	ready   atomic.Bool
	streams atomic.Int32 // живые ws-стримы, по одному на таймфрейм

	ticks        atomic.Int64
	lastTickUnix atomic.Int64

	mu         sync.Mutex
	warmedBars int
	warmupErr  string
}

// Snapshot — то, что отдаёт /healthz.
type Snapshot struct {
	Ready        bool   `json:"ready"`
	WSConnected  bool   `json:"wsConnected"`
	WSStreams    int32  `json:"wsStreams"`
	UptimeSec    int64  `json:"uptimeSec"`
	Ticks        int64  `json:"ticks"`
	LastTickUnix int64  `json:"lastTickUnix"`
	WarmedBars   int    `json:"warmedBars"`
	WarmupError  string `json:"warmupError,omitempty"`
}

func NewState() *State {
	return &State{startedAt: time.Now(), now: time.Now}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// SetWSConnected вызывается парами true/false каждым стримом.
func (s *State) SetWSConnected(v bool) {
	if v {
		s.streams.Add(1)
		return
	}
	for {
		n := s.streams.Load()
		if n <= 0 || s.streams.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (s *State) WSConnected() bool { return s.streams.Load() > 0 }

// SetWarmup фиксирует итог прогрева; ошибка не мешает ready.
func (s *State) SetWarmup(bars int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warmedBars = bars
	s.warmupErr = ""
	if err != nil {
		s.warmupErr = err.Error()
	}
}

func (s *State) TouchTick(t time.Time) {
	s.ticks.Add(1)
	s.lastTickUnix.Store(t.Unix())
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return s.now().Sub(s.startedAt) }

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	bars, werr := s.warmedBars, s.warmupErr
	s.mu.Unlock()

	return Snapshot{
		Ready:        s.Ready(),
		WSConnected:  s.WSConnected(),
		WSStreams:    s.streams.Load(),
		UptimeSec:    int64(s.Uptime().Seconds()),
		Ticks:        s.ticks.Load(),
		LastTickUnix: s.lastTickUnix.Load(),
		WarmedBars:   bars,
		WarmupError:  werr,
	}
}
