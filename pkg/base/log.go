// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"fmt"

	"github.com/q191201771/naza/pkg/nazalog"
)

// LogDump 打印收到的报文内容
//
// trace级别每次都打印，debug级别只打印前remain次，其他级别不打印
type LogDump struct {
	logger nazalog.Logger
	remain int
}

func NewLogDump(logger nazalog.Logger, debugMaxNum int) LogDump {
	return LogDump{
		logger: logger,
		remain: debugMaxNum,
	}
}

// ShouldDump 返回true时才去构造日志内容，比如 hex.Dump
func (d *LogDump) ShouldDump() bool {
	level := d.logger.GetOption().Level
	if level == nazalog.LevelTrace {
		return true
	}
	if level != nazalog.LevelDebug || d.remain <= 0 {
		return false
	}
	d.remain--
	return true
}

func (d *LogDump) Outf(format string, v ...interface{}) {
	d.logger.Out(nazalog.LevelDebug, 3, fmt.Sprintf(format, v...))
}
