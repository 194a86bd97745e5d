// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package casing

import "testing"

// TestCamel covers snake_case, dotted and pass-through keys.
func TestCamel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "foo_bar", want: "fooBar"},
		{in: "request_method", want: "requestMethod"},
		{in: "remote_ip", want: "remoteIp"},
		{in: "cache_validated_with_origin_server", want: "cacheValidatedWithOriginServer"},
		{in: "user.id", want: "userId"},
		{in: "fooBar", want: "fooBar"},
		{in: "message", want: "message"},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		if got := Camel(tc.in); got != tc.want {
			t.Errorf("Camel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCamelCached ensures repeated conversions return identical results.
func TestCamelCached(t *testing.T) {
	t.Parallel()

	first := Camel("status_code")
	second := Camel("status_code")
	if first != "statusCode" || second != first {
		t.Fatalf("Camel(status_code) = %q then %q, want statusCode twice", first, second)
	}
}
