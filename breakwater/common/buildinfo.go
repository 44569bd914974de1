/*
 * Copyright (c) 2024, Breakwater Networks Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"encoding/json"
	"strings"
)

/*
These values should be filled in at build time using the `-X` option[1] to the
Go linker (probably via `-ldflags` option to `go build` -- like `-ldflags "-X var1=abc -X var2=xyz"`).
[1]: http://golang.org/cmd/ld/
Without those build flags, the build info fields will simply be empty strings.
Suggestions for how to fill in the values will be given for each variable.
Note that any passed value must contain no whitespace.
*/
// -X github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common.buildDate=`date --iso-8601=seconds`
var buildDate string

// -X github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common.buildRepo=`git config --get remote.origin.url`
var buildRepo string

// -X github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common.buildRev=`git rev-parse --short HEAD`
var buildRev string

// -X github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common.goVersion=`go version | perl -ne '/go version (.*?) / && print $1'`
var goVersion string

// -X github.com/Breakwater-Networks/breakwater-socket-core/breakwater/common.dependencies=`...`
// Dependencies should be listed as a JSON object like the following (no spaces)
// {"github.com/sirupsen/logrus":"abcdef","...":"..."}
var dependencies string

// BuildInfo captures relevant build information for diagnostics and
// version output.
type BuildInfo struct {
	BuildDate    string          `json:"buildDate"`
	BuildRepo    string          `json:"buildRepo"`
	BuildRev     string          `json:"buildRev"`
	GoVersion    string          `json:"goVersion"`
	Dependencies json.RawMessage `json:"dependencies"`
}

// ToMap converts a BuildInfo to LogFields for logging.
func (bi *BuildInfo) ToMap() LogFields {

	var dependenciesMap map[string]interface{}
	json.Unmarshal([]byte(bi.Dependencies), &dependenciesMap)

	return LogFields{
		"buildDate":    bi.BuildDate,
		"buildRepo":    bi.BuildRepo,
		"buildRev":     bi.BuildRev,
		"goVersion":    bi.GoVersion,
		"dependencies": dependenciesMap,
	}
}

// GetBuildInfo returns an instance of the BuildInfo struct.
func GetBuildInfo() *BuildInfo {
	if strings.TrimSpace(dependencies) == "" {
		dependencies = "{}"
	}

	return &BuildInfo{
		BuildDate:    strings.TrimSpace(buildDate),
		BuildRepo:    strings.TrimSpace(buildRepo),
		BuildRev:     strings.TrimSpace(buildRev),
		GoVersion:    strings.TrimSpace(goVersion),
		Dependencies: json.RawMessage(strings.TrimSpace(dependencies)),
	}
}
