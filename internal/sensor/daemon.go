// Copyright 2025 Arion Yau
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

package sensor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Device bundles the sampler and both channels of one sensor
type Device struct {
	Config    SensorConfig
	Cell      *SampleCell
	Sampler   *Sampler
	Command   *Channel
	Telemetry *Channel
}

// Daemon runs every configured sensor
type Daemon struct {
	config  *Config
	devices []*Device
	logger  zerolog.Logger
}

// NewDaemon loads credentials for every sensor and builds its channels
func NewDaemon(config *Config) (*Daemon, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config: config,
		logger: logger.GetLogger("sensor"),
	}
	for _, sc := range config.Sensors {
		device, err := d.newDevice(sc)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", sc.ID, err)
		}
		d.devices = append(d.devices, device)
	}
	return d, nil
}

func (d *Daemon) newDevice(sc SensorConfig) (*Device, error) {
	tlsConfig, err := network.ClientTLSConfig(d.config.TLSFiles(sc))
	if err != nil {
		return nil, err
	}

	cell := NewSampleCell()
	base := ChannelConfig{
		SensorID:          sc.ID,
		ExpectedPeer:      d.config.Controller.CommonName,
		TLS:               tlsConfig,
		ReconnectInterval: d.config.ReconnectInterval(),
		DialTimeout:       d.config.DialTimeout(),
	}

	commandCfg := base
	commandCfg.Name = "command"
	commandCfg.Address = d.config.Controller.CommandAddress

	telemetryCfg := base
	telemetryCfg.Name = "telemetry"
	telemetryCfg.Address = d.config.Controller.TelemetryAddress

	return &Device{
		Config:  sc,
		Cell:    cell,
		Sampler: NewSampler(sc.Kind, d.config.SampleInterval(), cell),
		Command: NewCommandChannel(commandCfg, &DefaultHandler{
			Serial: sc.SerialNumber,
			Kind:   sc.Kind,
			Cell:   cell,
		}),
		Telemetry: NewTelemetryChannel(telemetryCfg, sc.SerialNumber, cell, d.config.AckTimeout()),
	}, nil
}

func (d *Daemon) Devices() []*Device {
	return d.devices
}

// Serve runs all devices until ctx is cancelled. A channel that stops on
// its own is logged and leaves every other channel running.
func (d *Daemon) Serve(ctx context.Context) error {
	var g errgroup.Group

	for _, device := range d.devices {
		device := device
		g.Go(func() error {
			device.Sampler.Run(ctx)
			return nil
		})
		for _, ch := range []*Channel{device.Command, device.Telemetry} {
			ch := ch
			g.Go(func() error {
				if err := ch.Run(ctx); err != nil {
					d.logger.Error().
						Err(err).
						Str("sensor_id", device.Config.ID).
						Str("channel", ch.config.Name).
						Msg("Channel gave up")
				}
				return nil
			})
		}
	}

	d.logger.Info().
		Int("sensor_count", len(d.devices)).
		Str("command_address", d.config.Controller.CommandAddress).
		Str("telemetry_address", d.config.Controller.TelemetryAddress).
		Msg("Sensor daemon started")

	err := g.Wait()
	d.logger.Info().Msg("Sensor daemon stopped")
	return err
}

// Run serves until SIGINT or SIGTERM
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Serve(ctx)
}
