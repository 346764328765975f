package config

import (
	"errors"
	"reflect"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// statuses the reconciliation may assign to executions which disappeared from the cluster
var inferableStatuses = []interface{}{"SUCCEEDED", "USER_ERROR", "PLATFORM_ERROR", "CANCELLED", "SKIPPED"}

// Validate validate the config as an input. If not valid, it returns error
func Validate(conf interface{}) error {
	switch c := conf.(type) {
	case *ServerConfig:
		return validateServerConfig(c)
	}
	return errors.New("config type is not valid, use ServerConfig instead")
}

func validateServerConfig(conf *ServerConfig) error {
	return validation.ValidateStruct(conf,
		nestedFields(&conf.Log,
			validation.Field(&conf.Log.Level, validation.By(validateLogLevel)),
		),
		nestedFields(&conf.Serve,
			validation.Field(&conf.Serve.Port, validation.Required, validation.Min(1), validation.Max(65535)),
			nestedFields(&conf.Serve.DB,
				validation.Field(&conf.Serve.DB.DSN, validation.Required),
			),
		),
		nestedFields(&conf.Cluster,
			validation.Field(&conf.Cluster.Namespace, validation.Required),
		),
		nestedFields(&conf.Reconcile,
			validation.Field(&conf.Reconcile.Interval, validation.Required, validation.Min(time.Second)),
			validation.Field(&conf.Reconcile.GraceWindow, validation.Min(time.Duration(0))),
			validation.Field(&conf.Reconcile.InferredStatus, validation.Required, validation.In(inferableStatuses...)),
		),
		nestedFields(&conf.Retention,
			validation.Field(&conf.Retention.Interval, validation.Required, validation.Min(time.Second)),
			validation.Field(&conf.Retention.MaxToKeep, validation.Min(0)),
			validation.Field(&conf.Retention.TTL, validation.Min(time.Duration(0))),
			validation.Field(&conf.Retention.LockName, validation.Required),
			validation.Field(&conf.Retention.LockTTL, validation.Required),
			validation.Field(&conf.Retention.Concurrency, validation.Required, validation.Min(1)),
		),
	)
}

func validateLogLevel(value interface{}) error {
	level, ok := value.(string)
	if !ok {
		return errors.New("can't convert value to log level")
	}
	if level == "" {
		return nil
	}
	return validation.Validate(strings.ToUpper(level), validation.In(
		LogLevelDebug,
		LogLevelInfo,
		LogLevelWarning,
		LogLevelError,
		LogLevelFatal,
	))
}

// ozzo-validation helper for nested validation struct
// https://github.com/go-ozzo/ozzo-validation/issues/136
func nestedFields(target interface{}, fieldRules ...*validation.FieldRules) *validation.FieldRules {
	return validation.Field(target, validation.By(func(value interface{}) error {
		valueV := reflect.Indirect(reflect.ValueOf(value))
		if valueV.CanAddr() {
			addr := valueV.Addr().Interface()
			return validation.ValidateStruct(addr, fieldRules...)
		}
		return validation.ValidateStruct(target, fieldRules...)
	}))
}
