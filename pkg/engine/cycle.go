// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// cycleKey pairs the fingerprints of the latest review response and the
// fix response that followed it.
type cycleKey struct {
	review string
	fix    string
}

// cycleDetector watches review/fix oscillations within one piece run.
// When the same (review, fix) content pair reappears inside the window,
// the run is stuck rewriting the same change and must break out.
type cycleDetector struct {
	reviewRE *regexp.Regexp
	fixRE    *regexp.Regexp
	window   int

	lastReview string
	recent     []cycleKey
}

func newCycleDetector(reviewPattern, fixPattern string, window int) (*cycleDetector, error) {
	reviewRE, err := regexp.Compile(reviewPattern)
	if err != nil {
		return nil, fmt.Errorf("compile review pattern %q: %w", reviewPattern, err)
	}
	fixRE, err := regexp.Compile(fixPattern)
	if err != nil {
		return nil, fmt.Errorf("compile fix pattern %q: %w", fixPattern, err)
	}
	if window < 1 {
		window = 1
	}
	return &cycleDetector{reviewRE: reviewRE, fixRE: fixRE, window: window}, nil
}

// observe feeds one movement response into the detector and reports
// whether a cycle was detected.
func (d *cycleDetector) observe(movement, content string) bool {
	if d.reviewRE.MatchString(movement) {
		d.lastReview = fingerprint(content)
		return false
	}
	if !d.fixRE.MatchString(movement) || d.lastReview == "" {
		return false
	}

	key := cycleKey{review: d.lastReview, fix: fingerprint(content)}
	for _, seen := range d.recent {
		if seen == key {
			return true
		}
	}
	d.recent = append(d.recent, key)
	if len(d.recent) > d.window {
		d.recent = d.recent[len(d.recent)-d.window:]
	}
	return false
}

// fingerprint hashes content with whitespace runs collapsed, so
// formatting jitter between rounds does not defeat detection.
func fingerprint(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
