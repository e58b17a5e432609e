package main

import (
	"reflect"
	"testing"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

func TestParseBBox(t *testing.T) {
	got, err := parseBBox(" 4.8, 52.3 ,5,52.4")
	if err != nil {
		t.Fatalf("parseBBox: %v", err)
	}
	if want := (model.BBox{X1: 4.8, Y1: 52.3, X2: 5, Y2: 52.4, SRID: "EPSG:4326"}); got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	for _, bad := range []string{"", "1,2,3", "a,2,3,4", "5,1,4,2"} {
		if _, err := parseBBox(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseList(t *testing.T) {
	if got := parseList(" BAG, ,Topo "); !reflect.DeepEqual(got, []string{"BAG", "Topo"}) {
		t.Fatalf("got %v", got)
	}
	if got := parseList(""); got != nil {
		t.Fatalf("got %v want nil", got)
	}
}

func TestParseLayers(t *testing.T) {
	got, err := parseLayers("BAG=bag:pand|bag:verblijfsobject; Topo = water ;Empty=")
	if err != nil {
		t.Fatalf("parseLayers: %v", err)
	}
	want := map[string][]string{
		"BAG":   {"bag:pand", "bag:verblijfsobject"},
		"Topo":  {"water"},
		"Empty": nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := parseLayers("no-equals-sign"); err == nil {
		t.Fatalf("expected error")
	}
}
