package logging

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
)

// Field names shared by every compile log line
const (
	FieldRequestID = "request_id"
	FieldKey       = "key"
	FieldState     = "state"
	FieldKind      = "kind"
)

// NewRequestID returns a fresh id for correlating one compile's log lines
func NewRequestID() string {
	return uuid.NewString()
}

// RequestFields describes a compile request
func RequestFields(requestID string, req *bundle.Request) logrus.Fields {
	fields := logrus.Fields{
		FieldRequestID: requestID,
	}

	if req == nil {
		return fields
	}

	paths := req.Paths()
	fields["files"] = len(paths)
	if len(paths) > 0 {
		fields["entry"] = paths[0]
	}

	if opts := req.Options(); opts.Root != "" {
		fields["root"] = opts.Root
	}

	return fields
}

// BaseFields describes a CLI action
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}
