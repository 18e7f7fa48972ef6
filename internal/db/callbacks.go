/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

const opStartKey = "telemetry:op_start"

// RegisterCallbacks instruments every gorm operation with a duration
// histogram and an error counter, labeled by operation and table.
func RegisterCallbacks(database *gorm.DB) error {
	cb := database.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("telemetry:before_query", markStart),
		cb.Query().After("gorm:query").Register("telemetry:after_query", observe("query")),
		cb.Create().Before("gorm:create").Register("telemetry:before_create", markStart),
		cb.Create().After("gorm:create").Register("telemetry:after_create", observe("create")),
		cb.Update().Before("gorm:update").Register("telemetry:before_update", markStart),
		cb.Update().After("gorm:update").Register("telemetry:after_update", observe("update")),
		cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", markStart),
		cb.Delete().After("gorm:delete").Register("telemetry:after_delete", observe("delete")),
		// Raw covers the aggregate scans the analytics reports run.
		cb.Raw().Before("gorm:raw").Register("telemetry:before_raw", markStart),
		cb.Raw().After("gorm:raw").Register("telemetry:after_raw", observe("raw")),
		cb.Row().Before("gorm:row").Register("telemetry:before_row", markStart),
		cb.Row().After("gorm:row").Register("telemetry:after_row", observe("row")),
	)
}

func markStart(database *gorm.DB) {
	database.InstanceSet(opStartKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(database *gorm.DB) {
		startValue, ok := database.InstanceGet(opStartKey)
		if !ok {
			return
		}
		start, ok := startValue.(time.Time)
		if !ok {
			return
		}

		table := database.Statement.Table
		if table == "" {
			table = "unknown"
		}

		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if database.Error != nil && !errors.Is(database.Error, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, "query_error").Inc()
		}
	}
}

// UpdateConnectionMetrics publishes pool stats; the server calls it on
// a slow ticker.
func UpdateConnectionMetrics(database *gorm.DB) {
	sqlDB, err := database.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
