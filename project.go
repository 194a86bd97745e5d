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

package slogsd

import (
	"context"
	"os"

	"cloud.google.com/go/compute/metadata"
)

// projectEnvVars are consulted in order by [DetectProjectID].
var projectEnvVars = []string{
	envTraceProjectID,
	envProjectID,
	"GOOGLE_CLOUD_PROJECT",
	"GCLOUD_PROJECT",
	"GCP_PROJECT",
}

// metadataProjectID asks the metadata server. Tests replace it to keep
// detection off the network.
var metadataProjectID = func(ctx context.Context) (string, error) {
	if !metadata.OnGCE() {
		return "", nil
	}
	return metadata.ProjectIDWithContext(ctx)
}

// DetectProjectID returns the Google Cloud project that owns traces written
// by this process. Environment variables win over the metadata server, which
// is only queried when running on Google Cloud. It returns "" when nothing
// can be determined.
func DetectProjectID(ctx context.Context) string {
	for _, name := range projectEnvVars {
		if id, ok := normalizeProjectID(os.Getenv(name)); ok {
			return id
		}
	}
	id, err := metadataProjectID(ctx)
	if err != nil {
		return ""
	}
	if id, ok := normalizeProjectID(id); ok {
		return id
	}
	return ""
}
