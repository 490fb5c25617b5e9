// Copyright 2026 The Proofwork Authors
// This file is part of the Proofwork library.
//
// The Proofwork library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Proofwork library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Proofwork library. If not, see <http://www.gnu.org/licenses/>.

// Package descriptor validates the versioned task descriptor JSON payload
// at ingress (bounty publish, job materialization) so that every other
// package works off a typed, already-validated view instead of a raw
// map[string]interface{}, per design note §9 ("Parse once at ingress;
// pass typed forms through handlers").
package descriptor

import (
	"crypto/sha256"
	"encoding/json"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"github.com/proofwork/proofwork/internal/apperr"
)

const (
	MaxSizeBytes = 16 * 1024
	MaxDepth     = 6

	// validationCacheSize bounds the memoized-validation cache below; a
	// bounty fans out into many jobs sharing one descriptor, so revalidating
	// byte-identical payloads on every materialization is wasted work.
	validationCacheSize = 4096
)

type cacheEntry struct {
	v   *Validated
	err error
}

var validationCache, _ = lru.New(validationCacheSize)

func cacheKey(raw []byte, opts Options) [32 + 1]byte {
	sum := sha256.Sum256(raw)
	var key [32 + 1]byte
	copy(key[:32], sum[:])
	if opts.BrowserFlowValidate {
		key[32] |= 1
	}
	if opts.BrowserFlowAllowValueEnv {
		key[32] |= 2
	}
	return key
}

var forbiddenKey = regexp.MustCompile(`(?i)token|secret|password`)

var allowedCapabilityTags = map[string]bool{
	"browser":        true,
	"http":           true,
	"ffmpeg":         true,
	"llm_summarize":  true,
	"screenshot":     true,
}

// RequiredArtifact is one entry of output_spec.required_artifacts[].
type RequiredArtifact struct {
	Kind        string `json:"kind"`
	Label       string `json:"label,omitempty"`
	LabelPrefix string `json:"label_prefix,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// Validated is the typed, validated view of a task descriptor; the opaque
// JSON itself is still what gets persisted, but all other components read
// this struct instead of the raw bytes.
type Validated struct {
	SchemaVersion     string
	Type              string
	CapabilityTags    []string
	FreshnessSLASec   int64
	RequiredArtifacts []RequiredArtifact
	Raw               json.RawMessage
}

type wireDescriptor struct {
	SchemaVersion  string   `json:"schema_version"`
	Type           string   `json:"type"`
	CapabilityTags []string `json:"capability_tags"`
	InputSpec      json.RawMessage `json:"input_spec,omitempty"`
	OutputSpec     *struct {
		RequiredArtifacts []RequiredArtifact `json:"required_artifacts"`
	} `json:"output_spec,omitempty"`
	FreshnessSLASec int64           `json:"freshness_sla_sec,omitempty"`
	SiteProfile     json.RawMessage `json:"site_profile,omitempty"`
}

var validArtifactKinds = map[string]bool{
	"screenshot": true,
	"log":        true,
	"video":      true,
	"other":      true,
}

// Options controls environment-toggled validator behavior, per DESIGN.md
// Open Question decision #3.
type Options struct {
	BrowserFlowValidate      bool
	BrowserFlowAllowValueEnv bool
}

// Validate parses and validates raw, returning a typed Validated view or a
// ValidationFailure apperr.Error (never retried by the outbox, per the
// error handling design).
func Validate(raw []byte, opts Options) (*Validated, error) {
	if len(raw) > MaxSizeBytes {
		return nil, apperr.New(apperr.ValidationFailure, "descriptor_too_large", "task descriptor exceeds 16KB")
	}

	key := cacheKey(raw, opts)
	if v, ok := validationCache.Get(key); ok {
		entry := v.(cacheEntry)
		return entry.v, entry.err
	}
	validated, err := validate(raw, opts)
	validationCache.Add(key, cacheEntry{v: validated, err: err})
	return validated, err
}

func validate(raw []byte, opts Options) (*Validated, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailure, "descriptor_invalid_json", "task descriptor is not valid JSON", err)
	}
	if depth := jsonDepth(generic, 0); depth > MaxDepth {
		return nil, apperr.New(apperr.ValidationFailure, "descriptor_too_deep", "task descriptor exceeds depth 6")
	}
	if bad, ok := firstForbiddenKey(generic); ok {
		return nil, apperr.New(apperr.ValidationFailure, "descriptor_forbidden_key", "task descriptor key '"+bad+"' is forbidden")
	}

	var wire wireDescriptor
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, apperr.Wrap(apperr.ValidationFailure, "descriptor_invalid_shape", "task descriptor does not match the v1 schema", err)
	}
	if wire.SchemaVersion != "v1" {
		return nil, apperr.New(apperr.ValidationFailure, "descriptor_bad_schema_version", "only schema_version v1 is supported")
	}
	if wire.Type == "" {
		return nil, apperr.New(apperr.ValidationFailure, "descriptor_missing_type", "task descriptor requires a type")
	}
	for _, tag := range wire.CapabilityTags {
		if !allowedCapabilityTags[tag] {
			return nil, apperr.New(apperr.ValidationFailure, "descriptor_unknown_capability", "unknown capability tag: "+tag)
		}
	}
	var required []RequiredArtifact
	if wire.OutputSpec != nil {
		for _, a := range wire.OutputSpec.RequiredArtifacts {
			if !validArtifactKinds[a.Kind] {
				return nil, apperr.New(apperr.ValidationFailure, "descriptor_bad_artifact_kind", "unknown required_artifacts kind: "+a.Kind)
			}
			required = append(required, a)
		}
	}
	if opts.BrowserFlowValidate && containsTag(wire.CapabilityTags, "browser") {
		if err := validateBrowserFlow(wire.SiteProfile, opts); err != nil {
			return nil, err
		}
	}

	tags := append([]string(nil), wire.CapabilityTags...)
	sort.Strings(tags)

	return &Validated{
		SchemaVersion:     wire.SchemaVersion,
		Type:              wire.Type,
		CapabilityTags:    tags,
		FreshnessSLASec:   wire.FreshnessSLASec,
		RequiredArtifacts: required,
		Raw:               json.RawMessage(raw),
	}, nil
}

// validateBrowserFlow performs the (env-togglable) stricter check applied
// to browser-capability descriptors: the site profile must not reference
// environment-variable interpolation unless explicitly allowed.
func validateBrowserFlow(siteProfile json.RawMessage, opts Options) error {
	if len(siteProfile) == 0 {
		return nil
	}
	if !opts.BrowserFlowAllowValueEnv && containsEnvInterpolation(siteProfile) {
		return apperr.New(apperr.ValidationFailure, "descriptor_env_interpolation_disallowed", "site_profile may not reference environment variables")
	}
	return nil
}

func containsEnvInterpolation(raw json.RawMessage) bool {
	return regexp.MustCompile(`\$\{env(\.|:)`).Match(raw)
}

func containsTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func jsonDepth(v interface{}, cur int) int {
	switch t := v.(type) {
	case map[string]interface{}:
		max := cur
		for _, vv := range t {
			if d := jsonDepth(vv, cur+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := cur
		for _, vv := range t {
			if d := jsonDepth(vv, cur+1); d > max {
				max = d
			}
		}
		return max
	default:
		return cur
	}
}

func firstForbiddenKey(v interface{}) (string, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, vv := range t {
			if forbiddenKey.MatchString(k) {
				return k, true
			}
			if k2, ok := firstForbiddenKey(vv); ok {
				return k2, true
			}
		}
	case []interface{}:
		for _, vv := range t {
			if k2, ok := firstForbiddenKey(vv); ok {
				return k2, true
			}
		}
	}
	return "", false
}
