// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Common validation errors.
var (
	ErrInvalidTopic  = errors.New("invalid topic name: empty, contains wildcards or illegal characters")
	ErrInvalidFilter = errors.New("invalid topic filter: empty, misplaced wildcard or illegal characters")
)

// ValidateTopic checks that a topic name is publishable: non-empty, free of
// wildcard characters, valid UTF-8 and without null characters.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	if !utf8.ValidString(topic) || strings.Contains(topic, "\u0000") {
		return ErrInvalidTopic
	}
	return nil
}

// ValidateFilter checks that a subscription filter is well formed: non-empty,
// valid UTF-8, no null characters, '+' only as a whole level and '#' only as
// the final level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidFilter
	}
	if !utf8.ValidString(filter) || strings.Contains(filter, "\u0000") {
		return ErrInvalidFilter
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return ErrInvalidFilter
		}
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidFilter
			}
		}
	}
	return nil
}
