// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
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

package observability

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes all environment variables read by LoadEnvironment.
const EnvPrefix = "tracelink"

// Environment holds the settings that need to be known before the run.Group
// is bootstrapped. They act as defaults for the matching flags.
type Environment struct {
	ServiceName       string `envconfig:"SERVICE_NAME" default:"demosvc"`
	InstanceName      string `envconfig:"INSTANCE_NAME"`
	Exporter          string `envconfig:"EXPORTER" default:"log"`
	ZipkinEndpoint    string `envconfig:"ZIPKIN_ENDPOINT"`
	ZipkinToken       string `envconfig:"ZIPKIN_TOKEN"`
	SkywalkingAddress string `envconfig:"SKYWALKING_ADDRESS"`
	SkywalkingToken   string `envconfig:"SKYWALKING_TOKEN"`
}

// LoadEnvironment reads the TRACELINK_* environment variables.
func LoadEnvironment() (Environment, error) {
	var env Environment
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return env, errors.Wrap(err, "unable to read environment")
	}
	if env.InstanceName == "" {
		env.InstanceName = os.Getenv("HOSTNAME")
	}
	if env.InstanceName == "" {
		env.InstanceName = env.ServiceName
	}
	return env, nil
}
