package roadmap

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRoadmapURL is returned for roadmap URLs without a "/roadmap/<id>-..." segment.
var ErrInvalidRoadmapURL = errors.New("invalid roadmap url")

// RoadmapID extracts the id between "/roadmap/" and the first "-" of a roadmap page URL, e.g.
// https://acme.productboard.com/roadmap/4821-product-roadmap → "4821".
func RoadmapID(roadmapURL string) (string, error) {
	_, rest, ok := strings.Cut(roadmapURL, "/roadmap/")
	if !ok {
		return "", fmt.Errorf("%w: %q has no /roadmap/ segment", ErrInvalidRoadmapURL, roadmapURL)
	}
	id, _, _ := strings.Cut(rest, "-")
	if id == "" {
		return "", fmt.Errorf("%w: %q has an empty roadmap id", ErrInvalidRoadmapURL, roadmapURL)
	}
	return id, nil
}

// Matcher recognises the request that loads a roadmap's initial payload.
type Matcher struct {
	needle string
}

func NewMatcher(roadmapURL string) (Matcher, error) {
	id, err := RoadmapID(roadmapURL)
	if err != nil {
		return Matcher{}, err
	}
	return Matcher{needle: "/" + id + "/initial"}, nil
}

// Match reports whether requestURL contains "/<roadmap id>/initial".
func (m Matcher) Match(requestURL string) bool {
	return m.needle != "" && strings.Contains(requestURL, m.needle)
}
