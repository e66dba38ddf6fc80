package unitproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strings"

	"github.com/banshee-data/tsnr.report/internal/exposure"
	"github.com/banshee-data/tsnr.report/internal/monitoring"
	"github.com/banshee-data/tsnr.report/internal/table"
)

// FrameSource reads frame headers and computes the per-fiber TSNR2 values of
// one unit. The metric itself is opaque to this package.
type FrameSource interface {
	ReadHeader(ctx context.Context, path string) (Header, error)
	Compute(ctx context.Context, in exposure.Inputs) (Result, error)
}

// Header holds decoded frame header keywords. Values are strings or numbers.
type Header map[string]any

// Value returns the keyword as a table value.
func (h Header) Value(key string) (table.Value, bool) {
	raw, ok := h[key]
	if !ok || raw == nil {
		return table.Value{}, false
	}
	if n, isNum := raw.(json.Number); isNum {
		if i, err := n.Int64(); err == nil {
			return table.Int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return table.Value{}, false
		}
		return table.Float(f), true
	}
	v, err := table.Of(raw)
	if err != nil {
		return table.Value{}, false
	}
	return v, true
}

// Str returns the keyword as a trimmed string, or "" when absent.
func (h Header) Str(key string) string {
	v, ok := h.Value(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.Str())
}

// FiberValues is a per-fiber column. Non-finite entries are encoded as JSON
// null and decoded back as NaN.
type FiberValues []float64

func (f FiberValues) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (f *FiberValues) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FiberValues, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*f = out
	return nil
}

// Result is the output of one metric computation: a per-fiber table keyed by
// metric column name plus the scalar alpha.
type Result struct {
	Fibers map[string]FiberValues `json:"fibers"`
	Alpha  float64                `json:"alpha"`
}

// ExecSource runs an external command that prints JSON on stdout:
//
//	<Command> [Args...] header <frame>
//	<Command> [Args...] compute --frame F --fiberflat F --sky F --fluxcalib F
type ExecSource struct {
	Command string
	Args    []string
}

// ReadHeader implements FrameSource.
func (s ExecSource) ReadHeader(ctx context.Context, path string) (Header, error) {
	out, err := s.run(ctx, "header", path)
	if err != nil {
		return nil, err
	}
	var h Header
	if err := decodeJSON(out, &h); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", path, err)
	}
	return h, nil
}

// Compute implements FrameSource.
func (s ExecSource) Compute(ctx context.Context, in exposure.Inputs) (Result, error) {
	out, err := s.run(ctx, "compute",
		"--frame", in.Frame,
		"--fiberflat", in.FiberFlat,
		"--sky", in.Sky,
		"--fluxcalib", in.FluxCalib)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := decodeJSON(out, &res); err != nil {
		return Result{}, fmt.Errorf("decode result for %s: %w", in.Frame, err)
	}
	return res, nil
}

func (s ExecSource) run(ctx context.Context, args ...string) ([]byte, error) {
	if s.Command == "" {
		return nil, fmt.Errorf("no compute command configured")
	}
	argv := append(append([]string{}, s.Args...), args...)
	monitoring.Debugf("Executing: %s %s", s.Command, strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, s.Command, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w, stderr: %s", s.Command, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
