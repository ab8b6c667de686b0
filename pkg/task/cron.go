// Copyright © 2026 Takt Labs - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package task

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/takt-labs/takt/internal/log"
	"github.com/takt-labs/takt/pkg/types"
)

// CronEnqueuer adds recurring tasks to the manifest on a cron schedule.
// Each firing enqueues a fresh pending record with a timestamped name,
// so runs never collide with the one-record-per-name invariant.
type CronEnqueuer struct {
	cron     *cron.Cron
	manifest *Manifest
	logger   *zap.Logger
}

// NewCronEnqueuer builds an enqueuer over the given manifest.
func NewCronEnqueuer(manifest *Manifest) *CronEnqueuer {
	return &CronEnqueuer{
		cron:     cron.New(),
		manifest: manifest,
		logger:   log.Logger(),
	}
}

// Add schedules a recurring task. spec uses standard five-field cron
// syntax. The enqueued records run piece with the given content.
func (c *CronEnqueuer) Add(spec, name, content, piece string) error {
	_, err := c.cron.AddFunc(spec, func() {
		taskName := fmt.Sprintf("%s-%s", name, time.Now().UTC().Format("20060102-150405"))
		err := c.manifest.AddTask(types.TaskRecord{
			Name:    taskName,
			Content: content,
			Piece:   piece,
		})
		if err != nil {
			c.logger.Error("scheduled enqueue failed",
				zap.String("schedule", name), zap.Error(err))
			return
		}
		c.logger.Info("scheduled task enqueued",
			zap.String("schedule", name), zap.String("task", taskName))
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Start begins firing schedules in the background.
func (c *CronEnqueuer) Start() { c.cron.Start() }

// Stop halts scheduling and waits for in-flight enqueues.
func (c *CronEnqueuer) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}
