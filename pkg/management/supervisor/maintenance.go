/*
Copyright The PostgreSQL K8s Charm Contributors

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

package supervisor

import (
	"fmt"

	"github.com/cloudnative-pg/machinery/pkg/log"
	"github.com/robfig/cron"
)

// DefaultMaintenanceSchedule runs maintenance nightly at 03:00. The
// 6-field format is "second minute hour day-of-month month day-of-week".
const DefaultMaintenanceSchedule = "0 0 3 * * *"

// cronParser validates maintenance schedules before they are installed.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Maintenance schedules recurring housekeeping jobs (repmgr monitoring
// history pruning, cluster state reporting) alongside the supervised
// daemon.
type Maintenance struct {
	cron *cron.Cron
}

// NewMaintenance creates an empty maintenance scheduler.
func NewMaintenance() *Maintenance {
	return &Maintenance{cron: cron.New()}
}

// Add installs a named job on the given 6-field cron schedule.
func (m *Maintenance) Add(schedule, name string, job func()) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q for %s: %w", schedule, name, err)
	}

	m.cron.AddFunc(schedule, func() {
		log.Info("running maintenance job", "job", name)
		job()
	})
	return nil
}

// Start begins running scheduled jobs in their own goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop prevents further job runs. Jobs already in flight complete.
func (m *Maintenance) Stop() {
	m.cron.Stop()
}
