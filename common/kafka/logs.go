// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"cnetflow/common/reporter"
)

// kafkaLogger implements sarama.StdLogger and sends logs to the
// reporter at debug level.
type kafkaLogger struct {
	r *reporter.Reporter
}

// NewLogger creates a new kafka logger using the provided reporter.
func NewLogger(r *reporter.Reporter) sarama.StdLogger {
	return &kafkaLogger{r: r}
}

func (l *kafkaLogger) Print(v ...interface{}) {
	l.r.Debug().Msg(strings.TrimSuffix(fmt.Sprint(v...), "\n"))
}

func (l *kafkaLogger) Println(v ...interface{}) {
	l.r.Debug().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (l *kafkaLogger) Printf(format string, v ...interface{}) {
	l.r.Debug().Msg(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
}
