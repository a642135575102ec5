// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics implements topic names and subscription filters for the
// relay: segment-wise wildcard matching and boundary validation.
package topics

import "strings"

// Match reports whether a concrete topic matches a subscription filter.
// Filters may contain '+' (matches exactly one level) and a trailing '#'
// (matches all remaining levels, including none). Topics starting with '$'
// are reserved: a wildcard in the first filter level never matches them.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if topic[0] == '$' && (filterLevels[0] == "+" || filterLevels[0] == "#") {
		return false
	}

	for i, fl := range filterLevels {
		if fl == "#" {
			// Legal only as the last level; matches the parent itself
			// and everything below it, including zero extra levels.
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl == "+" {
			continue
		}
		if fl != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
