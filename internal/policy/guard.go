package policy

import (
	"fmt"
	"net"

	"github.com/google/cel-go/cel"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/decision"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// Veto reasons reported by Guard.Allow.
const (
	ReasonProtected  = "protected"
	ReasonGuard      = "guard"
	ReasonGuardError = "guard_error"
)

// Guard decides whether a drop recommended by the classifier may proceed. It
// can only turn a drop into no action, never the reverse.
type Guard struct {
	protected map[string]bool
	expr      string
	program   cel.Program
}

// NewGuard compiles the drop guard expression. The expression sees
// target_ip, src_ip, dst_ip (strings) and src_port, dst_port, protocol,
// packet_count, byte_count (ints) and must evaluate to a bool; true lets the
// drop through.
func NewGuard(cfg config.PolicyConfig) (*Guard, error) {
	g := &Guard{protected: make(map[string]bool), expr: cfg.DropGuard}

	for _, ip := range cfg.ProtectedIPs {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return nil, fmt.Errorf("protected ip %q is not an IP address", ip)
		}
		g.protected[parsed.String()] = true
	}

	if cfg.DropGuard == "" {
		return g, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("target_ip", cel.StringType),
		cel.Variable("src_ip", cel.StringType),
		cel.Variable("dst_ip", cel.StringType),
		cel.Variable("src_port", cel.IntType),
		cel.Variable("dst_port", cel.IntType),
		cel.Variable("protocol", cel.IntType),
		cel.Variable("packet_count", cel.IntType),
		cel.Variable("byte_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating guard environment: %w", err)
	}

	ast, iss := env.Compile(cfg.DropGuard)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compiling drop guard: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("drop guard must evaluate to bool, got %s", ast.OutputType())
	}

	g.program, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building drop guard program: %w", err)
	}

	logging.Info("[POLICY] Drop guard compiled: %s", cfg.DropGuard)
	return g, nil
}

// Allow reports whether d may be executed for rec. Non-drop decisions are
// always allowed. When a drop is refused the reason names the check.
func (g *Guard) Allow(rec flow.Record, d decision.Decision) (bool, string) {
	if g == nil || !d.IsDrop() {
		return true, ""
	}

	if ip := net.ParseIP(d.TargetIP); ip != nil && g.protected[ip.String()] {
		return false, ReasonProtected
	}

	if g.program == nil {
		return true, ""
	}

	out, _, err := g.program.Eval(map[string]interface{}{
		"target_ip":    d.TargetIP,
		"src_ip":       rec.SrcIP,
		"dst_ip":       rec.DstIP,
		"src_port":     int64(rec.SrcPort),
		"dst_port":     int64(rec.DstPort),
		"protocol":     int64(rec.Protocol),
		"packet_count": int64(rec.PacketCount),
		"byte_count":   int64(rec.ByteCount),
	})
	if err != nil {
		logging.Error("[POLICY] flow_id=%d drop guard evaluation failed: %v", rec.FlowID, err)
		return false, ReasonGuardError
	}

	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return false, ReasonGuard
	}
	return true, ""
}

// Protected lists the addresses that are never dropped.
func (g *Guard) Protected() []string {
	out := make([]string, 0, len(g.protected))
	for ip := range g.protected {
		out = append(out, ip)
	}
	return out
}
