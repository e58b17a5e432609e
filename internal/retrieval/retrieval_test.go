package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/mohammed-shakir/geodata-retrieval/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/geodata-retrieval/internal/capabilities"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/executor"
	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
	"github.com/mohammed-shakir/geodata-retrieval/internal/events"
	"github.com/mohammed-shakir/geodata-retrieval/internal/export"
	"github.com/mohammed-shakir/geodata-retrieval/internal/features"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wfsStub serves GeoJSON pages out of total features (total < 0 never runs out).
// The request with index failAt is answered with a 500.
type wfsStub struct {
	total  int
	failAt int

	mu      sync.Mutex
	queries []url.Values
}

func (s *wfsStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	s.queries = append(s.queries, q)
	idx := len(s.queries) - 1
	s.mu.Unlock()

	if idx == s.failAt {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	count, _ := strconv.Atoi(q.Get("COUNT"))
	start, _ := strconv.Atoi(q.Get("STARTINDEX"))
	n := count
	if s.total >= 0 {
		n = max(0, min(count, s.total-start))
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, page(start, n, q.Get("SRSNAME")))
}

func (s *wfsStub) requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

// page answers in the requested SRSNAME and, like many servers, without a crs member
func page(start, n int, srsName string) string {
	coords := "4.5,51.5"
	if srsName == crs.RDNew.URN() {
		coords = "155000,463000"
	}
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection","features":[`)
	for i := range n {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"type":"Feature","id":"f.%d","geometry":{"type":"Point","coordinates":[%s]},"properties":{"i":%d}}`, start+i, coords, start+i)
	}
	b.WriteString(`]}`)
	return b.String()
}

type fakeCRS struct {
	byURL map[string][]string
	calls []string
}

func (f *fakeCRS) SupportedCRS(_ context.Context, u string) capabilities.CRSSet {
	f.calls = append(f.calls, u)
	set := capabilities.CRSSet{Codes: map[string]struct{}{}}
	for _, c := range f.byURL[u] {
		set.Codes[c] = struct{}{}
	}
	return set
}

type transformCall struct {
	in       model.BBox
	from, to crs.Code
}

type fakeTransformer struct {
	out   model.BBox
	err   error
	calls []transformCall
}

func (f *fakeTransformer) Transform(b model.BBox, from, to crs.Code) (model.BBox, error) {
	f.calls = append(f.calls, transformCall{in: b, from: from, to: to})
	return f.out, f.err
}

type recordSink struct{ got []events.LayerRetrieved }

func (r *recordSink) Publish(ev events.LayerRetrieved) { r.got = append(r.got, ev) }

type harness struct {
	orch  *Orchestrator
	crs   *fakeCRS
	tr    *fakeTransformer
	sink  *recordSink
	dir   string
	pages PageFetcher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		crs:  &fakeCRS{byURL: map[string][]string{}},
		tr:   &fakeTransformer{out: model.BBox{X1: 100000, Y1: 400000, X2: 110000, Y2: 410000, SRID: "EPSG:28992"}},
		sink: &recordSink{},
		dir:  t.TempDir(),
	}
	h.pages = executor.New(quiet(), nil, "geodata-retrieval-test")
	h.orch = New(quiet(), Deps{
		CRS:         h.crs,
		Transformer: h.tr,
		Pages:       h.pages,
		Aggregator:  geojsonagg.New(false),
		Normalizer:  features.NewNormalizer(quiet()),
		Writer:      export.Writer{Dir: h.dir},
		Events:      h.sink,
	}, opts)
	return h
}

func featureCount(t *testing.T, gj string) int {
	t.Helper()
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal([]byte(gj), &fc); err != nil {
		t.Fatalf("decode result geojson: %v", err)
	}
	return len(fc.Features)
}

var caller = model.BBox{X1: 4, Y1: 51, X2: 5, Y2: 52, SRID: "EPSG:4326"}

func TestFetch_PaginatesUntilShortPage(t *testing.T) {
	stub := &wfsStub{total: 2*1000 + 7, failAt: -1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	reqs := stub.requests()
	if len(reqs) != 3 {
		t.Fatalf("requests=%d want 3", len(reqs))
	}
	for i, q := range reqs {
		if got, want := q.Get("STARTINDEX"), strconv.Itoa(i*1000); got != want {
			t.Fatalf("request %d STARTINDEX=%s want %s", i, got, want)
		}
		if q.Get("COUNT") != "1000" || q.Get("TYPENAMES") != "bag:pand" {
			t.Fatalf("request %d params %v", i, q)
		}
	}

	res, ok := rs["bag:pand"]
	if !ok || res.Type != model.WFS {
		t.Fatalf("result missing or wrong type: %+v", rs)
	}
	if n := featureCount(t, res.GeoJSON); n != 2007 {
		t.Fatalf("features=%d want 2007", n)
	}
	if res.Filename != "bag_pand_4326.geojson" {
		t.Fatalf("filename=%q", res.Filename)
	}
	onDisk, err := os.ReadFile(filepath.Join(h.dir, res.Filename))
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if string(onDisk) != res.GeoJSON {
		t.Fatalf("persisted file differs from in-memory result")
	}
}

func TestFetch_FailedPageKeepsEarlierPages(t *testing.T) {
	stub := &wfsStub{total: -1, failAt: 2}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := len(stub.requests()); got != 3 {
		t.Fatalf("requests=%d want 3", got)
	}
	if n := featureCount(t, rs["bag:pand"].GeoJSON); n != 2000 {
		t.Fatalf("features=%d want 2000", n)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "bag_pand_4326.geojson")); err != nil {
		t.Fatalf("partial result not persisted: %v", err)
	}
}

func TestFetch_FirstPageFailureRegistersNothing(t *testing.T) {
	stub := &wfsStub{total: -1, failAt: 0}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rs) != 0 {
		t.Fatalf("expected empty result set, got %+v", rs)
	}
	if len(h.sink.got) != 0 {
		t.Fatalf("unexpected events %+v", h.sink.got)
	}
}

func TestFetch_MaxPagesStopsEndlessServer(t *testing.T) {
	stub := &wfsStub{total: -1, failAt: -1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{PageSize: 5, MaxPages: 4})
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := len(stub.requests()); got != 4 {
		t.Fatalf("requests=%d want 4", got)
	}
	if n := featureCount(t, rs["bag:pand"].GeoJSON); n != 20 {
		t.Fatalf("features=%d want 20", n)
	}
}

func TestFetch_SelectsRDNewWhenAdvertised(t *testing.T) {
	stub := &wfsStub{total: 3, failAt: -1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	h.crs.byURL[srv.URL] = []string{crs.RDNew.URN(), crs.WGS84.URN()}
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(h.tr.calls) != 1 {
		t.Fatalf("transform calls=%d want 1", len(h.tr.calls))
	}
	c := h.tr.calls[0]
	if c.from != crs.WGS84 || c.to != crs.RDNew || c.in != caller {
		t.Fatalf("transform call %+v", c)
	}
	q := stub.requests()[0]
	if q.Get("SRSNAME") != crs.RDNew.URN() {
		t.Fatalf("SRSNAME=%q", q.Get("SRSNAME"))
	}
	if want := "100000,400000,110000,410000," + crs.RDNew.URN(); q.Get("BBOX") != want {
		t.Fatalf("BBOX=%q want %q", q.Get("BBOX"), want)
	}

	// pages carry no crs member, so the requested SRSNAME decides the source system
	var fc struct {
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(rs["bag:pand"].GeoJSON), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 3 {
		t.Fatalf("features=%d want 3", len(fc.Features))
	}
	p := fc.Features[0].Geometry.Coordinates
	if math.Abs(p[0]-5.3872) > 1e-3 || math.Abs(p[1]-52.1552) > 1e-3 {
		t.Fatalf("point=%v want ~[5.3872 52.1552]", p)
	}
}

func TestFetch_FallsBackToWGS84WithoutTransform(t *testing.T) {
	stub := &wfsStub{total: 3, failAt: -1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	h.crs.byURL[srv.URL] = []string{"urn:ogc:def:crs:EPSG::3857", crs.WGS84.URN()}
	ds := []model.Dataset{{Name: "osm", URL: srv.URL, Type: model.WFS}}

	if _, err := h.orch.Fetch(context.Background(), []string{"osm"}, map[string][]string{"osm": {"roads"}}, ds, caller); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(h.tr.calls) != 0 {
		t.Fatalf("unexpected transform calls %+v", h.tr.calls)
	}
	q := stub.requests()[0]
	if want := "4,51,5,52," + crs.WGS84.URN(); q.Get("BBOX") != want {
		t.Fatalf("BBOX=%q want %q", q.Get("BBOX"), want)
	}
}

func TestFetch_WorkingBoxDoesNotLeakAcrossDatasets(t *testing.T) {
	rd := &wfsStub{total: 1, failAt: -1}
	rdSrv := httptest.NewServer(rd)
	defer rdSrv.Close()
	plain := &wfsStub{total: 1, failAt: -1}
	plainSrv := httptest.NewServer(plain)
	defer plainSrv.Close()

	h := newHarness(t, Options{})
	h.crs.byURL[rdSrv.URL] = []string{crs.RDNew.URN()}
	ds := []model.Dataset{
		{Name: "rd", URL: rdSrv.URL, Type: model.WFS},
		{Name: "plain", URL: plainSrv.URL, Type: model.WFS},
	}
	box := caller

	_, err := h.orch.Fetch(context.Background(), []string{"rd", "plain"},
		map[string][]string{"rd": {"a"}, "plain": {"b"}}, ds, box)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if box != caller {
		t.Fatalf("caller bbox modified: %+v", box)
	}
	if want := "4,51,5,52," + crs.WGS84.URN(); plain.requests()[0].Get("BBOX") != want {
		t.Fatalf("second dataset BBOX=%q want %q", plain.requests()[0].Get("BBOX"), want)
	}
}

type noNetwork struct{ t *testing.T }

func (n noNetwork) FetchPage(context.Context, string, url.Values) ([]byte, error) {
	n.t.Fatalf("WMS path must not touch the network")
	return nil, nil
}

func TestFetch_WMSBuildsURLWithoutNetwork(t *testing.T) {
	h := newHarness(t, Options{})
	h.orch.deps.Pages = noNetwork{t: t}
	ds := []model.Dataset{
		{Name: "topo", URL: "http://example/wms", Type: model.WMS},
		{Name: "unselected", URL: "http://example/other", Type: model.WMS},
	}

	rs, err := h.orch.Fetch(context.Background(), []string{"topo"},
		map[string][]string{"topo": {"water"}, "unselected": {"x"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("results=%v want only water", rs)
	}
	res := rs["water"]
	if res.Type != model.WMS || !strings.Contains(res.URL, "bbox=4,51,5,52") || !strings.Contains(res.URL, "layers=water") {
		t.Fatalf("unexpected WMS result %+v", res)
	}
	if len(h.crs.calls) != 0 || len(h.tr.calls) != 0 {
		t.Fatalf("WMS dataset negotiated crs=%v transform=%v", h.crs.calls, h.tr.calls)
	}
	if len(h.sink.got) != 1 || h.sink.got[0].URL != res.URL || h.sink.got[0].RunID == "" {
		t.Fatalf("events=%+v", h.sink.got)
	}
}

func TestFetch_TransformErrorAborts(t *testing.T) {
	h := newHarness(t, Options{})
	h.orch.deps.Pages = noNetwork{t: t}
	h.tr.err = crs.ErrUnsupported
	h.crs.byURL["http://bag"] = []string{crs.RDNew.URN()}
	ds := []model.Dataset{{Name: "bag", URL: "http://bag", Type: model.WFS}}

	rs, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller)
	if !errors.Is(err, crs.ErrUnsupported) {
		t.Fatalf("err=%v want ErrUnsupported", err)
	}
	if !strings.Contains(err.Error(), "bag") {
		t.Fatalf("error does not name the dataset: %v", err)
	}
	if rs != nil {
		t.Fatalf("results=%v want nil", rs)
	}
}

type failingWriter struct{}

func (failingWriter) Write(string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestFetch_WriteErrorPropagates(t *testing.T) {
	stub := &wfsStub{total: 1, failAt: -1}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	h := newHarness(t, Options{})
	h.orch.deps.Writer = failingWriter{}
	ds := []model.Dataset{{Name: "bag", URL: srv.URL, Type: model.WFS}}

	if _, err := h.orch.Fetch(context.Background(), []string{"bag"}, map[string][]string{"bag": {"bag:pand"}}, ds, caller); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err=%v want disk full", err)
	}
}

func TestFetch_LaterLayerWithSameNameWins(t *testing.T) {
	h := newHarness(t, Options{})
	ds := []model.Dataset{
		{Name: "a", URL: "http://a/wms", Type: model.WMS},
		{Name: "b", URL: "http://b/wms", Type: model.WMS},
	}
	rs, err := h.orch.Fetch(context.Background(), []string{"a", "b"},
		map[string][]string{"a": {"water"}, "b": {"water"}}, ds, caller)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasPrefix(rs["water"].URL, "http://b/wms?") {
		t.Fatalf("url=%q want dataset b", rs["water"].URL)
	}
}
