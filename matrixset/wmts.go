/*
Copyright © 2023 mapknit authors
*/
package matrixset

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// wmtsCapabilities mirrors the parts of a WMTS GetCapabilities document
// needed to reconstruct tile matrix sets. Element names match local names,
// so the ows namespace prefixes are transparent to the decoder.
type wmtsCapabilities struct {
	XMLName  xml.Name `xml:"Capabilities"`
	Contents struct {
		TileMatrixSets []wmtsTileMatrixSet `xml:"TileMatrixSet"`
	} `xml:"Contents"`
}

type wmtsTileMatrixSet struct {
	Identifier   string           `xml:"Identifier"`
	SupportedCRS string           `xml:"SupportedCRS"`
	TileMatrices []wmtsTileMatrix `xml:"TileMatrix"`
}

type wmtsTileMatrix struct {
	Identifier       string  `xml:"Identifier"`
	ScaleDenominator float64 `xml:"ScaleDenominator"`
	TopLeftCorner    string  `xml:"TopLeftCorner"`
	TileWidth        int     `xml:"TileWidth"`
	TileHeight       int     `xml:"TileHeight"`
	MatrixWidth      int     `xml:"MatrixWidth"`
	MatrixHeight     int     `xml:"MatrixHeight"`
}

// LoadWMTSCapabilities parses a WMTS GetCapabilities document and returns the
// tile matrix set with the given identifier. An empty identifier selects the
// first set in the document.
func LoadWMTSCapabilities(r io.Reader, setIdentifier string) (*TileMatrixSet, error) {
	var caps wmtsCapabilities
	if err := xml.NewDecoder(r).Decode(&caps); err != nil {
		return nil, fmt.Errorf("decode capabilities: %w", err)
	}

	if len(caps.Contents.TileMatrixSets) == 0 {
		return nil, fmt.Errorf("capabilities document has no tile matrix sets")
	}

	var raw *wmtsTileMatrixSet
	if setIdentifier == "" {
		raw = &caps.Contents.TileMatrixSets[0]
	} else {
		for i := range caps.Contents.TileMatrixSets {
			if caps.Contents.TileMatrixSets[i].Identifier == setIdentifier {
				raw = &caps.Contents.TileMatrixSets[i]
				break
			}
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("tile matrix set %q not found in capabilities", setIdentifier)
	}

	crsID := normalizeCRS(raw.SupportedCRS)
	mpu := MetersPerUnit(crsID)

	set := TileMatrixSet{
		Identifier: raw.Identifier,
		CRS:        crsID,
	}
	for _, m := range raw.TileMatrices {
		topLeft, err := parseCorner(m.TopLeftCorner)
		if err != nil {
			return nil, fmt.Errorf("tile matrix %q: %w", m.Identifier, err)
		}
		tm, err := NewTileMatrix(m.Identifier, m.ScaleDenominator, mpu, topLeft,
			m.MatrixWidth, m.MatrixHeight, m.TileWidth, m.TileHeight)
		if err != nil {
			return nil, err
		}
		set.Matrices = append(set.Matrices, tm)
	}

	if len(set.Matrices) == 0 {
		return nil, fmt.Errorf("tile matrix set %q has no matrices", raw.Identifier)
	}
	return &set, nil
}

// normalizeCRS maps URN forms like urn:ogc:def:crs:EPSG::25832 or
// urn:ogc:def:crs:EPSG:6.18:3857 to the EPSG:nnnn identifier.
func normalizeCRS(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(strings.ToUpper(s), "EPSG"); idx >= 0 {
		rest := s[idx:]
		parts := strings.Split(rest, ":")
		code := parts[len(parts)-1]
		if code != "" {
			return "EPSG:" + code
		}
	}
	return s
}

func parseCorner(s string) (orb.Point, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return orb.Point{}, fmt.Errorf("malformed TopLeftCorner %q", s)
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("malformed TopLeftCorner %q", s)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("malformed TopLeftCorner %q", s)
	}
	return orb.Point{x, y}, nil
}
