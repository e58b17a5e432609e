// Package ogc builds WFS and WMS request URLs and query parameters.
package ogc

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
	"github.com/mohammed-shakir/geodata-retrieval/internal/crs"
)

const (
	WFSVersion    = "2.0.0"
	GeoJSONFormat = "application/json"
)

// CapabilitiesURL is the plain layer discovery request, no version pinned
func CapabilitiesURL(serviceURL string, t model.ServiceType) string {
	return withQuery(serviceURL, "request=GetCapabilities&service="+string(t))
}

// CRSCapabilitiesParams asks a WFS for its 2.0.0 capabilities, which list DefaultCRS/OtherCRS
func CRSCapabilitiesParams() url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", WFSVersion)
	params.Set("request", "GetCapabilities")
	return params
}

// BuildGetFeatureParams returns one GeoJSON page of layer inside bbox, expressed in working
func BuildGetFeatureParams(layer string, bbox model.BBox, working crs.Code, count, startIndex int) url.Values {
	srs := working.URN()
	params := url.Values{}
	params.Set("SERVICE", "WFS")
	params.Set("REQUEST", "GetFeature")
	params.Set("VERSION", WFSVersion)
	params.Set("TYPENAMES", layer)
	params.Set("SRSNAME", srs)
	params.Set("BBOX", bbox.Extent()+","+srs)
	params.Set("COUNT", strconv.Itoa(count))
	params.Set("STARTINDEX", strconv.Itoa(startIndex))
	params.Set("OUTPUTFORMAT", GeoJSONFormat)
	return params
}

// MergeQuery returns endpoint with params added to whatever query it already carries
func MergeQuery(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func withQuery(base, query string) string {
	base = strings.TrimSpace(base)
	switch {
	case strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&"):
		return base + query
	case strings.Contains(base, "?"):
		return base + "&" + query
	default:
		return base + "?" + query
	}
}
