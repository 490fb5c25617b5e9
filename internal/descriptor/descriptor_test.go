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

package descriptor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDescriptor() []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  "v1",
		"type":            "web_task",
		"capability_tags": []string{"http", "browser"},
	})
	return raw
}

func TestValidateAcceptsWellFormedDescriptor(t *testing.T) {
	v, err := Validate(validDescriptor(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "web_task", v.Type)
	assert.Equal(t, []string{"browser", "http"}, v.CapabilityTags)
}

func TestValidateRejectsUnknownSchemaVersion(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version": "v2",
		"type":           "web_task",
	})
	_, err := Validate(raw, Options{})
	require.Error(t, err)
}

func TestValidateRejectsForbiddenKey(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version": "v1",
		"type":           "web_task",
		"input_spec":     map[string]interface{}{"api_token": "x"},
	})
	_, err := Validate(raw, Options{})
	require.Error(t, err)
}

func TestValidateRejectsUnknownCapabilityTag(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  "v1",
		"type":            "web_task",
		"capability_tags": []string{"nuclear_launch"},
	})
	_, err := Validate(raw, Options{})
	require.Error(t, err)
}

func TestValidateRejectsEnvInterpolationByDefault(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  "v1",
		"type":            "web_task",
		"capability_tags": []string{"browser"},
		"site_profile":    json.RawMessage(`{"cookie":"${env.SECRET}"}`),
	})
	_, err := Validate(raw, Options{BrowserFlowValidate: true})
	require.Error(t, err)

	_, err = Validate(raw, Options{BrowserFlowValidate: true, BrowserFlowAllowValueEnv: true})
	require.NoError(t, err)
}

// TestValidateCachesByContentAndOptions exercises the memoized-validation
// path: re-validating byte-identical descriptors returns an equivalent
// result without needing to re-run every check, but the cache is keyed on
// Options too, so flipping BrowserFlowValidate on the same bytes isn't
// served a stale verdict from the other branch.
func TestValidateCachesByContentAndOptions(t *testing.T) {
	raw, _ := json.Marshal(map[string]interface{}{
		"schema_version":  "v1",
		"type":            "web_task",
		"capability_tags": []string{"browser"},
		"site_profile":    json.RawMessage(`{"cookie":"${env.SECRET}"}`),
	})

	_, err := Validate(raw, Options{BrowserFlowValidate: false})
	require.NoError(t, err)

	_, err = Validate(raw, Options{BrowserFlowValidate: true})
	require.Error(t, err)

	v, err := Validate(raw, Options{BrowserFlowValidate: false})
	require.NoError(t, err)
	assert.Equal(t, "web_task", v.Type)
}
