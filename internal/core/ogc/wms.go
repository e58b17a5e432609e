package ogc

import (
	"fmt"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

const (
	mapWidth  = 500
	mapHeight = 500
)

// GetMapURL renders a fixed 500x500 PNG request for bbox, always in EPSG:4326.
// Nothing is fetched; the URL is handed to whoever renders the map.
func GetMapURL(serviceURL, layer string, bbox model.BBox) string {
	q := fmt.Sprintf("service=WMS&request=GetMap&layers=%s&bbox=%s&width=%d&height=%d&srs=EPSG:4326&format=image/png",
		layer, bbox.Extent(), mapWidth, mapHeight)
	return withQuery(serviceURL, q)
}
