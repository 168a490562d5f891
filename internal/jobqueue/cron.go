/*
Copyright 2026 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jobqueue

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// StartSweeper runs q.Sweep on the given cron schedule until ctx is
// canceled, logging (rather than panicking on) sweep failures. The
// default schedule, "@every 30s", keeps delayed-job and crash-recovery
// latency low without hammering Redis with full scans.
func StartSweeper(ctx context.Context, q Queue, schedule string, log logr.Logger) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@every 30s"
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := q.Sweep(ctx); err != nil {
			log.Error(err, "jobqueue: sweep failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}
