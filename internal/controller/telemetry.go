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

package controller

import (
	"context"
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/rs/zerolog"
)

// ReadingRecorder persists telemetry for provisioned sensors
type ReadingRecorder interface {
	GetSensor(ctx context.Context, id string) (*Sensor, error)
	RecordReading(ctx context.Context, reading *Reading) error
}

// Collector serves telemetry sessions: it reads "<serial>:<value>" frames,
// records them and acknowledges each one.
type Collector struct {
	registry *Registry
	recorder ReadingRecorder
	cache    *ReadingCache
	logger   zerolog.Logger
}

func NewCollector(registry *Registry, recorder ReadingRecorder, cache *ReadingCache) *Collector {
	return &Collector{
		registry: registry,
		recorder: recorder,
		cache:    cache,
		logger:   logger.GetLogger("controller.telemetry"),
	}
}

// Serve is the SessionHandler for the telemetry gate
func (c *Collector) Serve(ctx context.Context, session *Session, queue <-chan *CommandEnvelope) {
	conn := session.conn
	log := c.logger.With().
		Str("sensor_id", session.Identity).
		Str("session_id", session.ID.String()).
		Logger()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		c.registry.Release(session, queue)
		conn.Close()
		session.setState(StateClosed)
		log.Info().Msg("Telemetry session closed")
	}()

	sensor, err := c.recorder.GetSensor(ctx, session.Identity)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load sensor for telemetry session")
		return
	}

	session.setState(StateRelaying)
	log.Info().Str("serial_no", sensor.SerialNo).Msg("Telemetry session started")

	for {
		frame, err := network.ReadFrame(conn, network.MaxStatusFrame)
		if err != nil {
			if network.IsExpectedClose(err) || ctx.Err() != nil {
				log.Debug().Msg("Telemetry channel closed by peer")
			} else {
				log.Warn().Err(err).Msg("Telemetry channel failed")
			}
			return
		}
		session.touch()

		status := c.accept(ctx, sensor, frame, log)
		if err := network.WriteFrame(conn, status, network.MaxStatusFrame); err != nil {
			log.Warn().Err(err).Msg("Failed to acknowledge reading")
			return
		}
	}
}

func (c *Collector) accept(ctx context.Context, sensor *Sensor, frame string, log zerolog.Logger) string {
	serial, value, err := network.ParseTelemetry(frame)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed telemetry frame")
		return network.StatusInvalid
	}
	if serial != sensor.SerialNo {
		log.Warn().
			Str("serial_no", serial).
			Str("expected", sensor.SerialNo).
			Msg("Telemetry serial does not match sensor")
		return network.StatusInvalid
	}

	reading := Reading{
		SensorID:   sensor.ID,
		SerialNo:   serial,
		Value:      value,
		ReceivedAt: time.Now().UTC(),
	}
	if err := c.recorder.RecordReading(ctx, &reading); err != nil {
		log.Error().Err(err).Msg("Failed to record reading")
	}
	c.cache.Store(reading)

	log.Debug().Float64("value", value).Msg("Reading received")
	return network.StatusOkay
}
