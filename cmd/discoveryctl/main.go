// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command discoveryctl inspects a service registry cluster through the same
// client pipeline applications use.
//
//	discoveryctl --config discovery.yaml endpoints
//	discoveryctl --config discovery.yaml apps --vip billing
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bufbuild/discoverylb"
	"github.com/bufbuild/discoverylb/config"
	"github.com/bufbuild/discoverylb/registry"
	"github.com/bufbuild/discoverylb/registryapi"
	"github.com/bufbuild/discoverylb/transport/httptransport"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

type globalFlags struct {
	configFile string
	region     string
	instanceID string
	zone       string
	logLevel   string
	timeout    time.Duration
}

func main() {
	app := kingpin.New("discoveryctl", "Inspect a service registry cluster.")
	app.HelpFlag.Short('h')
	var flags globalFlags
	app.Flag("config", "Configuration file (YAML, JSON or TOML).").Short('c').StringVar(&flags.configFile)
	app.Flag("region", "Overrides the configured region.").StringVar(&flags.region)
	app.Flag("instance-id", "Instance ID the servers are shuffled for.").StringVar(&flags.instanceID)
	app.Flag("zone", "Availability zone of the caller.").StringVar(&flags.zone)
	app.Flag("log.level", "Log level.").Default("warn").EnumVar(&flags.logLevel, "debug", "info", "warn", "error")
	app.Flag("timeout", "Timeout of the whole command.").Default("30s").DurationVar(&flags.timeout)

	addEndpointsCommand(app, &flags)
	addAppsCommand(app, &flags)
	addInstanceCommand(app, &flags)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func addEndpointsCommand(app *kingpin.Application, flags *globalFlags) {
	var registration bool
	cmd := app.Command("endpoints", "Print the registry servers clients would talk to, in order.")
	cmd.Flag("registration", "Resolve the servers used for registration instead of queries.").BoolVar(&registration)
	cmd.Action(func(*kingpin.ParseContext) error {
		return withFactory(flags, registration, func(ctx context.Context, factory *discoverylb.ClientFactory) error {
			for _, endpoint := range factory.Endpoints(ctx) {
				fmt.Printf("%s\t%s\n", endpoint.Zone, endpoint.ServiceURL)
			}
			return nil
		})
	})
}

func addAppsCommand(app *kingpin.Application, flags *globalFlags) {
	var (
		vip     string
		secure  bool
		delta   bool
		regions []string
	)
	cmd := app.Command("apps", "Fetch applications from the registry.")
	cmd.Flag("vip", "Only fetch the instances of this virtual host name.").StringVar(&vip)
	cmd.Flag("secure", "Look up the secure virtual host name.").BoolVar(&secure)
	cmd.Flag("delta", "Fetch the latest changes instead of everything.").BoolVar(&delta)
	cmd.Flag("remote-region", "Include instances of a remote region. Repeatable.").StringsVar(&regions)
	cmd.Action(func(*kingpin.ParseContext) error {
		return withAPI(flags, func(ctx context.Context, api *registryapi.Client) error {
			var (
				apps *registry.Applications
				err  error
			)
			switch {
			case vip != "" && secure:
				apps, err = api.GetSecureVIP(ctx, vip, regions...)
			case vip != "":
				apps, err = api.GetVIP(ctx, vip, regions...)
			case delta:
				apps, err = api.GetDelta(ctx, regions...)
			default:
				apps, err = api.GetApplications(ctx, regions...)
			}
			if err != nil {
				return err
			}
			if hash := apps.ComputeHashCode(); apps.HashCode != "" && hash != apps.HashCode && !delta {
				fmt.Fprintf(os.Stderr, "warning: hash code %q does not match the contents (%q)\n", apps.HashCode, hash)
			}
			return printJSON(os.Stdout, apps)
		})
	})
}

func addInstanceCommand(app *kingpin.Application, flags *globalFlags) {
	var appName, instanceID string
	cmd := app.Command("instance", "Fetch every instance of an application, or one instance by ID.")
	cmd.Arg("app", "Application name.").Required().StringVar(&appName)
	cmd.Arg("id", "Instance ID.").StringVar(&instanceID)
	cmd.Action(func(*kingpin.ParseContext) error {
		return withAPI(flags, func(ctx context.Context, api *registryapi.Client) error {
			if instanceID == "" {
				application, err := api.GetApplication(ctx, appName)
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, application)
			}
			instance, err := api.GetInstance(ctx, instanceID)
			if registryapi.IsNotFound(err) {
				return fmt.Errorf("instance %s of %s is not registered", instanceID, appName)
			}
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, instance)
		})
	})
}

func withAPI(flags *globalFlags, run func(context.Context, *registryapi.Client) error) error {
	return withFactory(flags, false, func(ctx context.Context, factory *discoverylb.ClientFactory) error {
		client := factory.NewClient()
		defer func() {
			_ = client.Close()
		}()
		return run(ctx, registryapi.New(client))
	})
}

func withFactory(flags *globalFlags, registration bool, run func(context.Context, *discoverylb.ClientFactory) error) error {
	logger := newLogger(flags.logLevel)
	var options []config.LoadOption
	if flags.configFile != "" {
		options = append(options, config.WithConfigFile(flags.configFile))
	}
	if flags.region != "" {
		options = append(options, config.WithOverride("region", flags.region))
	}
	cfg, err := config.Load(options...)
	if err != nil {
		return err
	}
	if cfg.AsyncWarmUpTimeout == 0 {
		// A one-shot command cannot wait for the next background refresh.
		cfg.AsyncWarmUpTimeout = flags.timeout
	}
	me := &registry.Instance{InstanceID: flags.instanceID}
	if flags.zone != "" {
		me.DataCenter.Metadata = map[string]string{registry.MetadataAvailabilityZone: flags.zone}
	}

	raw := httptransport.NewFactory(
		httptransport.WithRequestTimeout(cfg.RequestTimeout),
		httptransport.WithHeader("User-Agent", "discoveryctl"),
	)
	var factory *discoverylb.ClientFactory
	if registration {
		factory, err = discoverylb.NewRegistrationClientFactory(cfg, me, raw, discoverylb.WithLogger(logger))
	} else {
		factory, err = discoverylb.NewQueryClientFactory(cfg, me, nil, raw, discoverylb.WithLogger(logger))
	}
	if err != nil {
		_ = raw.Close()
		return err
	}
	defer func() {
		_ = factory.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	return run(ctx, factory)
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	var allow level.Option
	switch lvl {
	case "debug":
		allow = level.AllowDebug()
	case "info":
		allow = level.AllowInfo()
	case "error":
		allow = level.AllowError()
	default:
		allow = level.AllowWarn()
	}
	return level.NewFilter(logger, allow)
}

func printJSON(w io.Writer, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
