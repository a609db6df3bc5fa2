package traffic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPacketSize is the UDP payload size used by the presets.
const DefaultPacketSize = 1400

// WindowSize is the measurement window of the data-plane rate meter. Progress
// reports count elapsed windows so runs can be lined up with switch state.
const WindowSize = 100 * time.Millisecond

var ErrInvalidPhase = errors.New("invalid traffic phase")

type Phase struct {
	Name     string
	RateMbps float64
	Duration time.Duration
}

// PacketsPerSecond converts the phase rate into a packet rate for size-byte
// payloads.
func (p Phase) PacketsPerSecond(size int) float64 {
	if size <= 0 {
		return 0
	}
	return p.RateMbps * 1_000_000 / 8 / float64(size)
}

// Plan is a named sequence of phases sharing one payload.
type Plan struct {
	Name       string
	PacketSize int
	Fill       byte
	Phases     []Phase
}

func (p Plan) Validate() error {
	if p.PacketSize <= 0 || p.PacketSize > 65507 {
		return fmt.Errorf("%w: packet size %d", ErrInvalidPhase, p.PacketSize)
	}
	if len(p.Phases) == 0 {
		return fmt.Errorf("%w: plan %q has no phases", ErrInvalidPhase, p.Name)
	}
	for _, ph := range p.Phases {
		if ph.RateMbps <= 0 || ph.Duration <= 0 {
			return fmt.Errorf("%w: %q needs a positive rate and duration", ErrInvalidPhase, ph.Name)
		}
	}
	return nil
}

// High saturates the flow well above the red threshold.
func High() Plan {
	return Plan{
		Name:       "high",
		PacketSize: DefaultPacketSize,
		Fill:       'Y',
		Phases:     []Phase{{Name: "high rate", RateMbps: 15, Duration: 15 * time.Second}},
	}
}

// Low stays below the red threshold for the whole run.
func Low() Plan {
	return Plan{
		Name:       "low",
		PacketSize: DefaultPacketSize,
		Fill:       'X',
		Phases:     []Phase{{Name: "low rate", RateMbps: 3, Duration: 15 * time.Second}},
	}
}

// Hysteresis trips the meter, then holds a trickle long enough for the
// recovery window count to complete.
func Hysteresis() Plan {
	return Plan{
		Name:       "hysteresis",
		PacketSize: DefaultPacketSize,
		Fill:       'Z',
		Phases: []Phase{
			{Name: "burst", RateMbps: 15, Duration: 5 * time.Second},
			{Name: "counting windows", RateMbps: 0.5, Duration: 12 * time.Second},
			{Name: "recovery", RateMbps: 0.5, Duration: 10 * time.Second},
		},
	}
}

// Presets maps CLI names to plan constructors.
var Presets = map[string]func() Plan{
	"high":       High,
	"low":        Low,
	"hysteresis": Hysteresis,
}

type Result struct {
	Packets uint64
	Bytes   uint64
	Elapsed time.Duration
}

func (r Result) AvgMbps() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) * 8 / r.Elapsed.Seconds() / 1_000_000
}

// Windows is the number of meter windows covered by the run.
func (r Result) Windows() int {
	return int(r.Elapsed / WindowSize)
}

func (r *Result) add(o Result) {
	r.Packets += o.Packets
	r.Bytes += o.Bytes
}

// Progress is reported roughly once per second of sending.
type Progress struct {
	Phase       string
	Elapsed     time.Duration
	Packets     uint64
	CurrentMbps float64
	Windows     int
}

type Option func(*Sender)

// WithProgress installs a callback invoked from the sending goroutine.
func WithProgress(fn func(Progress)) Option {
	return func(s *Sender) { s.progress = fn }
}

// WithPhaseStart installs a callback invoked before each phase.
func WithPhaseStart(fn func(Phase, float64)) Option {
	return func(s *Sender) { s.phaseStart = fn }
}

// Sender writes UDP datagrams to a single destination at a paced rate.
type Sender struct {
	conn       net.Conn
	progress   func(Progress)
	phaseStart func(Phase, float64)
}

func Dial(ip string, port int, opts ...Option) (*Sender, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSender(conn, opts...), nil
}

func NewSender(conn net.Conn, opts ...Option) *Sender {
	s := &Sender{conn: conn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Close() error {
	return s.conn.Close()
}

// Run sends every phase of plan in order. On cancellation it returns the
// totals sent so far together with ctx.Err().
func (s *Sender) Run(ctx context.Context, plan Plan) (Result, error) {
	if err := plan.Validate(); err != nil {
		return Result{}, err
	}

	payload := make([]byte, plan.PacketSize)
	for i := range payload {
		payload[i] = plan.Fill
	}

	var total Result
	start := time.Now()
	for _, ph := range plan.Phases {
		res, err := s.SendPhase(ctx, payload, ph)
		total.add(res)
		if err != nil {
			total.Elapsed = time.Since(start)
			return total, err
		}
	}
	total.Elapsed = time.Since(start)
	return total, nil
}

// SendPhase sends payload at ph.RateMbps until ph.Duration has elapsed.
func (s *Sender) SendPhase(ctx context.Context, payload []byte, ph Phase) (Result, error) {
	pps := ph.PacketsPerSecond(len(payload))
	if pps <= 0 || ph.Duration <= 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidPhase, ph.Name)
	}
	if s.phaseStart != nil {
		s.phaseStart(ph, pps)
	}

	phaseCtx, cancel := context.WithTimeout(ctx, ph.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(pps), 1)
	reportEvery := uint64(pps)
	if reportEvery == 0 {
		reportEvery = 1
	}

	var res Result
	start := time.Now()
	for {
		if err := limiter.Wait(phaseCtx); err != nil {
			res.Elapsed = time.Since(start)
			// The phase deadline ends the phase normally. Wait also fails early
			// when the next token would land past it.
			return res, ctx.Err()
		}
		if _, err := s.conn.Write(payload); err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("send: %w", err)
		}
		res.Packets++
		res.Bytes += uint64(len(payload))

		if s.progress != nil && res.Packets%reportEvery == 0 {
			elapsed := time.Since(start)
			s.progress(Progress{
				Phase:       ph.Name,
				Elapsed:     elapsed,
				Packets:     res.Packets,
				CurrentMbps: Result{Bytes: res.Bytes, Elapsed: elapsed}.AvgMbps(),
				Windows:     int(elapsed / WindowSize),
			})
		}
	}
}
