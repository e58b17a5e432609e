// Package crs identifies coordinate reference systems by EPSG code and picks the working system
// for a service. Reprojection lives in projtransform.
package crs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a numeric EPSG identifier.
type Code int

const (
	WGS84 Code = 4326
	RDNew Code = 28992
)

var ErrUnsupported = errors.New("unsupported crs identifier")

const urnPrefix = "urn:ogc:def:crs:EPSG:"

// URN renders the OGC URN form, e.g. urn:ogc:def:crs:EPSG::4326
func (c Code) URN() string {
	return urnPrefix + ":" + strconv.Itoa(int(c))
}

// EPSG renders the short authority form, e.g. EPSG:4326
func (c Code) EPSG() string {
	return "EPSG:" + strconv.Itoa(int(c))
}

func (c Code) String() string { return c.EPSG() }

// Parse accepts the identifier spellings found in capabilities documents and GeoJSON crs members.
func Parse(s string) (Code, error) {
	raw := strings.TrimSpace(s)
	v := strings.ToLower(raw)
	var tail string
	switch {
	case v == "crs84" || strings.HasSuffix(v, ":crs84") || strings.HasSuffix(v, "/crs84"):
		return WGS84, nil
	case strings.HasPrefix(v, "epsg:"):
		tail = v[len("epsg:"):]
	case strings.HasPrefix(v, strings.ToLower(urnPrefix)):
		// urn:ogc:def:crs:EPSG:<version>:<code>, version usually empty
		rest := v[len(urnPrefix):]
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnsupported, raw)
		}
		tail = rest[i+1:]
	case strings.HasPrefix(v, "http://www.opengis.net/def/crs/epsg/"):
		tail = v[strings.LastIndex(v, "/")+1:]
	case strings.HasPrefix(v, "http://www.opengis.net/gml/srs/epsg.xml#"):
		tail = v[strings.LastIndex(v, "#")+1:]
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	n, err := strconv.Atoi(tail)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupported, raw)
	}
	return Code(n), nil
}

// Select returns preferred when the service advertises it, else fallback.
// Matching is on the URN spelling as the capabilities document lists it.
func Select(supported map[string]struct{}, preferred, fallback Code) Code {
	if _, ok := supported[preferred.URN()]; ok {
		return preferred
	}
	return fallback
}
