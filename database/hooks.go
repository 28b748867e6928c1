package database

import (
	"github.com/newrelic/go-agent/v3/newrelic"
	"gorm.io/gorm"
)

const segmentKey = "newrelic:segment"

// RegisterTracingHooks reports every statement as a New Relic datastore
// segment of the transaction found in the statement context
func RegisterTracingHooks(db *gorm.DB) error {
	cb := db.Callback()

	hooks := []struct {
		operation string
		before    func(name string, fn func(*gorm.DB)) error
		after     func(name string, fn func(*gorm.DB)) error
	}{
		{"insert", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"select", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}

	for _, h := range hooks {
		if err := h.before("newrelic:before_"+h.operation, startSegment(h.operation)); err != nil {
			return err
		}
		if err := h.after("newrelic:after_"+h.operation, endSegment); err != nil {
			return err
		}
	}
	return nil
}

func startSegment(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement == nil || db.Statement.Context == nil {
			return
		}
		txn := newrelic.FromContext(db.Statement.Context)
		if txn == nil {
			return
		}

		db.InstanceSet(segmentKey, &newrelic.DatastoreSegment{
			StartTime:  txn.StartSegmentNow(),
			Product:    newrelic.DatastorePostgres,
			Collection: db.Statement.Table,
			Operation:  operation,
		})
	}
}

func endSegment(db *gorm.DB) {
	if v, ok := db.InstanceGet(segmentKey); ok {
		if segment, ok := v.(*newrelic.DatastoreSegment); ok {
			segment.End()
		}
	}
}
