// Copyright 2025 TimeWtr
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logx

import "github.com/sirupsen/logrus"

// LogrusAdapter implements Logger over a *logrus.Logger. The Early-Update
// Service uses this instead of the zap-backed kernel logger because install
// and upgrade events form an audit trail, not an operational trace: callers
// that already ingest logrus-formatted audit logs elsewhere in their stack
// can point this at the same sink.
type LogrusAdapter struct {
	l *logrus.Logger
}

func NewLogrusAdapter(l *logrus.Logger) *LogrusAdapter {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusAdapter{l: l}
}

func toLogrusFields(fields []Field) logrus.Fields {
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Val
	}
	return lf
}

func (a *LogrusAdapter) Debug(msg string, fields ...Field) {
	a.l.WithFields(toLogrusFields(fields)).Debug(msg)
}

func (a *LogrusAdapter) Info(msg string, fields ...Field) {
	a.l.WithFields(toLogrusFields(fields)).Info(msg)
}

func (a *LogrusAdapter) Warn(msg string, fields ...Field) {
	a.l.WithFields(toLogrusFields(fields)).Warn(msg)
}

func (a *LogrusAdapter) Error(msg string, fields ...Field) {
	a.l.WithFields(toLogrusFields(fields)).Error(msg)
}
