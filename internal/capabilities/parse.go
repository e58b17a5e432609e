package capabilities

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/mohammed-shakir/geodata-retrieval/internal/core/model"
)

var (
	errNotXML = errors.New("response is not XML")
	errParse  = errors.New("invalid capabilities XML")
)

// namespaces tried when no unqualified Layer/Name or FeatureType/Name exists
var (
	wmsNamespaces = map[string]bool{
		"http://www.opengis.net/wms":       true,
		"http://www.opengis.net/wms/1.3.0": true,
	}
	wfsNamespaces = map[string]bool{
		"http://www.opengis.net/wfs/2.0": true,
	}
)

func newDecoder(body []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// looksLikeXML mirrors the cheap guard in front of the parser: after whitespace
// (and a UTF-8 BOM) the body has to open with '<'.
func looksLikeXML(body []byte) bool {
	b := bytes.TrimPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("\xef\xbb\xbf"))
	b = bytes.TrimLeft(b, " \t\r\n")
	return len(b) > 0 && b[0] == '<'
}

// parseNames collects the text of every Name element that is a direct child of a
// Layer (WMS) or FeatureType (WFS) element, in document order. Unqualified matches win;
// namespaced ones are the fallback.
func parseNames(body []byte, t model.ServiceType) ([]string, error) {
	parent, namespaces := "Layer", wmsNamespaces
	if t == model.WFS {
		parent, namespaces = "FeatureType", wfsNamespaces
	}

	var plain, qualified []string
	var stack []xml.Name
	var text strings.Builder
	capturing := false

	dec := newDecoder(body)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			capturing = false
			if el.Name.Local == "Name" && len(stack) > 0 {
				p := stack[len(stack)-1]
				if p.Local == parent && p.Space == el.Name.Space && (p.Space == "" || namespaces[p.Space]) {
					capturing = true
					text.Reset()
				}
			}
			stack = append(stack, el.Name)
		case xml.CharData:
			if capturing {
				text.Write(el)
			}
		case xml.EndElement:
			if capturing && el.Name.Local == "Name" {
				if name := strings.TrimSpace(text.String()); name != "" {
					if el.Name.Space == "" {
						plain = append(plain, name)
					} else {
						qualified = append(qualified, name)
					}
				}
			}
			capturing = false
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(plain) > 0 {
		return plain, nil
	}
	return qualified, nil
}

// parseCRS returns the trimmed text of every element whose local name ends in
// DefaultCRS or OtherCRS, whatever its namespace.
func parseCRS(body []byte) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	var text strings.Builder
	capturing := false

	dec := newDecoder(body)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errParse, err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			capturing = isCRSElement(el.Name.Local)
			text.Reset()
		case xml.CharData:
			if capturing {
				text.Write(el)
			}
		case xml.EndElement:
			if capturing && isCRSElement(el.Name.Local) {
				if v := strings.TrimSpace(text.String()); v != "" {
					out[v] = struct{}{}
				}
			}
			capturing = false
		}
	}
	return out, nil
}

func isCRSElement(local string) bool {
	return strings.HasSuffix(local, "DefaultCRS") || strings.HasSuffix(local, "OtherCRS")
}
