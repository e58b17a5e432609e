// Package capabilities discovers what an OGC service offers: layer names for WMS/WFS and the
// coordinate reference systems a WFS advertises. Lookups never fail outward; a broken or
// unreachable service yields an empty result with the cause attached for diagnostics.
package capabilities

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/executor"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/observability"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/ogc"
)

const DefaultTimeout = 10 * time.Second

// Layers is the outcome of a layer lookup. Err is set when Names is empty because the
// lookup failed rather than because the service offers nothing.
type Layers struct {
	Names []string
	Err   error
}

// CRSSet holds advertised CRS identifiers exactly as listed (usually URNs).
type CRSSet struct {
	Codes map[string]struct{}
	Err   error
}

func (s CRSSet) Sorted() []string {
	out := make([]string, 0, len(s.Codes))
	for c := range s.Codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type Resolver struct {
	exec    executor.Interface
	logger  *slog.Logger
	timeout time.Duration
}

func NewResolver(exec executor.Interface, logger *slog.Logger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{exec: exec, logger: logger, timeout: timeout}
}

// ListLayers returns the layer (WMS) or feature type (WFS) names of serviceURL.
func (r *Resolver) ListLayers(ctx context.Context, serviceURL string, t model.ServiceType) Layers {
	capURL := ogc.CapabilitiesURL(serviceURL, t)
	r.logger.DebugContext(ctx, "fetching capabilities", "url", capURL)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := r.exec.Get(ctx, capURL, nil, "capabilities")
	if err != nil {
		return Layers{Names: []string{}, Err: r.fail(ctx, "layers", capURL, err)}
	}
	if !looksLikeXML(body) {
		r.logger.WarnContext(ctx, "capabilities response is not XML",
			"url", capURL, "received", snippet(body))
		return Layers{Names: []string{}, Err: r.fail(ctx, "layers", capURL, errNotXML)}
	}
	names, err := parseNames(body, t)
	if err != nil {
		return Layers{Names: []string{}, Err: r.fail(ctx, "layers", capURL, err)}
	}
	if names == nil {
		names = []string{}
	}
	r.logger.DebugContext(ctx, "capabilities layers", "url", capURL, "layers", names)
	return Layers{Names: names}
}

// SupportedCRS returns every DefaultCRS/OtherCRS a WFS 2.0.0 capabilities document lists.
func (r *Resolver) SupportedCRS(ctx context.Context, wfsURL string) CRSSet {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := r.exec.Get(ctx, wfsURL, ogc.CRSCapabilitiesParams(), "capabilities")
	if err != nil {
		return CRSSet{Codes: map[string]struct{}{}, Err: r.fail(ctx, "crs", wfsURL, err)}
	}
	if !looksLikeXML(body) {
		return CRSSet{Codes: map[string]struct{}{}, Err: r.fail(ctx, "crs", wfsURL, errNotXML)}
	}
	codes, err := parseCRS(body)
	if err != nil {
		return CRSSet{Codes: map[string]struct{}{}, Err: r.fail(ctx, "crs", wfsURL, err)}
	}
	set := CRSSet{Codes: codes}
	r.logger.DebugContext(ctx, "supported crs", "url", wfsURL, "crs", set.Sorted())
	return set
}

func (r *Resolver) fail(ctx context.Context, lookup, target string, err error) error {
	reason := "transport"
	var se *executor.StatusError
	switch {
	case errors.As(err, &se):
		reason = "status"
	case errors.Is(err, errNotXML):
		reason = "not_xml"
	case errors.Is(err, errParse):
		reason = "parse"
	}
	observability.IncCapabilityFailure(lookup, reason)
	r.logger.WarnContext(ctx, "capabilities lookup failed",
		"lookup", lookup, "url", target, "reason", reason, "err", err)
	return err
}

func snippet(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
